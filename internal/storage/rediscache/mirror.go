// Package rediscache mirrors the last known account and transaction state
// into Redis. The mirror is written only after confirmed primary-store
// reads and is consulted only on the degraded read path; it is never the
// target of writes in fallback mode.
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Dumoney00/dumoney-invesment-sub000/internal/domain/wallet"
	"github.com/Dumoney00/dumoney-invesment-sub000/pkg/logger"
)

// Mirror caches confirmed state under a key prefix.
type Mirror struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    *logger.Logger
}

// New creates a mirror over the Redis instance at addr.
func New(addr, password string, db int, log *logger.Logger) *Mirror {
	if log == nil {
		log = logger.NewDefault("rediscache")
	}
	return &Mirror{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		prefix: "dumoney",
		ttl:    24 * time.Hour,
		log:    log,
	}
}

// Ping verifies connectivity.
func (m *Mirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Close releases the client.
func (m *Mirror) Close() error {
	return m.client.Close()
}

func (m *Mirror) txKey(accountID string) string {
	if accountID == "" {
		accountID = "_all"
	}
	return fmt.Sprintf("%s:txs:%s", m.prefix, accountID)
}

// StoreTransactions records a confirmed fetch result.
func (m *Mirror) StoreTransactions(ctx context.Context, accountID string, txs []wallet.TransactionRecord) error {
	data, err := json.Marshal(txs)
	if err != nil {
		return err
	}
	return m.client.Set(ctx, m.txKey(accountID), data, m.ttl).Err()
}

// Transactions returns the mirrored fetch result, if present.
func (m *Mirror) Transactions(ctx context.Context, accountID string) ([]wallet.TransactionRecord, error) {
	data, err := m.client.Get(ctx, m.txKey(accountID)).Bytes()
	if err != nil {
		return nil, err
	}
	var txs []wallet.TransactionRecord
	if err := json.Unmarshal(data, &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

// StoreAccount records a confirmed account read.
func (m *Mirror) StoreAccount(ctx context.Context, acct wallet.Account) error {
	data, err := json.Marshal(acct)
	if err != nil {
		return err
	}
	return m.client.Set(ctx, fmt.Sprintf("%s:account:%s", m.prefix, acct.ID), data, m.ttl).Err()
}

// Account returns the mirrored account, if present.
func (m *Mirror) Account(ctx context.Context, id string) (wallet.Account, error) {
	data, err := m.client.Get(ctx, fmt.Sprintf("%s:account:%s", m.prefix, id)).Bytes()
	if err != nil {
		return wallet.Account{}, err
	}
	var acct wallet.Account
	if err := json.Unmarshal(data, &acct); err != nil {
		return wallet.Account{}, err
	}
	return acct, nil
}
