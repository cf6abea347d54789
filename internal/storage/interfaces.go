// Package storage defines the persistence interfaces consumed by the
// services. Implementations live in the subpackages (memory, postgres,
// supabase, rediscache).
package storage

import (
	"context"

	"github.com/Dumoney00/dumoney-invesment-sub000/internal/domain/referral"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/domain/wallet"
)

// AccountStore persists account records.
type AccountStore interface {
	CreateAccount(ctx context.Context, acct wallet.Account) (wallet.Account, error)
	UpdateAccount(ctx context.Context, acct wallet.Account) (wallet.Account, error)
	GetAccount(ctx context.Context, id string) (wallet.Account, error)
	GetAccountByReferralCode(ctx context.Context, code string) (wallet.Account, error)
	ListAccounts(ctx context.Context) ([]wallet.Account, error)
}

// TransactionStore persists the append-only transaction log.
type TransactionStore interface {
	AppendTransaction(ctx context.Context, tx wallet.TransactionRecord) (wallet.TransactionRecord, error)
	GetTransaction(ctx context.Context, id string) (wallet.TransactionRecord, error)
	// ListTransactions returns the most recent limit rows ordered by
	// timestamp descending. An empty accountID selects all accounts.
	ListTransactions(ctx context.Context, accountID string, limit int) ([]wallet.TransactionRecord, error)
}

// ReferralStore persists referral records.
type ReferralStore interface {
	CreateReferral(ctx context.Context, rec referral.Record) (referral.Record, error)
	UpdateReferral(ctx context.Context, rec referral.Record) (referral.Record, error)
	GetReferral(ctx context.Context, id string) (referral.Record, error)
	// ListReferrals filters by status unless status is empty, and by
	// referrer unless referrerID is empty.
	ListReferrals(ctx context.Context, status referral.Status, referrerID string) ([]referral.Record, error)
}

// ChangeType classifies a change-feed event.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent is one row-level change emitted by a store's notification
// channel.
type ChangeEvent struct {
	Table string
	Type  ChangeType
	Row   map[string]interface{}
}

// Subscription is a live change-feed subscription. Close releases it; no
// event is delivered after Close returns. Done is closed when the feed is
// lost for any reason, Close included, letting consumers fall back to
// polling.
type Subscription interface {
	Close() error
	Done() <-chan struct{}
}

// ChangeFeed exposes row-level change notifications keyed by table name.
type ChangeFeed interface {
	Subscribe(ctx context.Context, table string, handler func(ChangeEvent)) (Subscription, error)
}

// Store aggregates the interfaces a full backend implements.
type Store interface {
	AccountStore
	TransactionStore
	ReferralStore
}
