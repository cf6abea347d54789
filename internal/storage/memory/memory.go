// Package memory is an in-memory implementation of the storage interfaces.
// It is safe for concurrent use and is primarily intended for tests and
// local development.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Dumoney00/dumoney-invesment-sub000/internal/domain/referral"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/domain/wallet"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/storage"
)

// Store holds all records in process memory and fans change events out to
// subscribers.
type Store struct {
	mu                 sync.RWMutex
	accounts           map[string]wallet.Account
	accountsByRefCode  map[string]string
	transactions       map[string]wallet.TransactionRecord
	transactionsByTime []string
	referrals          map[string]referral.Record

	subMu       sync.Mutex
	subscribers map[string]map[int]func(storage.ChangeEvent)
	nextSubID   int
}

var _ storage.Store = (*Store)(nil)
var _ storage.ChangeFeed = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		accounts:          make(map[string]wallet.Account),
		accountsByRefCode: make(map[string]string),
		transactions:      make(map[string]wallet.TransactionRecord),
		referrals:         make(map[string]referral.Record),
		subscribers:       make(map[string]map[int]func(storage.ChangeEvent)),
	}
}

// AccountStore implementation ------------------------------------------------

func (s *Store) CreateAccount(_ context.Context, acct wallet.Account) (wallet.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	s.accounts[acct.ID] = cloneAccount(acct)
	if acct.ReferralCode != "" {
		s.accountsByRefCode[strings.ToLower(acct.ReferralCode)] = acct.ID
	}

	s.notify("accounts", storage.ChangeInsert, map[string]interface{}{"id": acct.ID})
	return acct, nil
}

func (s *Store) UpdateAccount(_ context.Context, acct wallet.Account) (wallet.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.accounts[acct.ID]
	if !ok {
		return wallet.Account{}, wallet.ErrAccountNotFound
	}
	acct.CreatedAt = existing.CreatedAt
	acct.UpdatedAt = time.Now().UTC()
	s.accounts[acct.ID] = cloneAccount(acct)

	s.notify("accounts", storage.ChangeUpdate, map[string]interface{}{"id": acct.ID})
	return acct, nil
}

func (s *Store) GetAccount(_ context.Context, id string) (wallet.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[id]
	if !ok {
		return wallet.Account{}, wallet.ErrAccountNotFound
	}
	return cloneAccount(acct), nil
}

func (s *Store) GetAccountByReferralCode(_ context.Context, code string) (wallet.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.accountsByRefCode[strings.ToLower(strings.TrimSpace(code))]
	if !ok {
		return wallet.Account{}, wallet.ErrAccountNotFound
	}
	return cloneAccount(s.accounts[id]), nil
}

func (s *Store) ListAccounts(_ context.Context) ([]wallet.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]wallet.Account, 0, len(s.accounts))
	for _, acct := range s.accounts {
		accounts = append(accounts, cloneAccount(acct))
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
	})
	return accounts, nil
}

// TransactionStore implementation --------------------------------------------

func (s *Store) AppendTransaction(_ context.Context, tx wallet.TransactionRecord) (wallet.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now().UTC()
	}

	s.transactions[tx.ID] = tx
	s.transactionsByTime = append(s.transactionsByTime, tx.ID)

	s.notify("transactions", storage.ChangeInsert, map[string]interface{}{
		"id":         tx.ID,
		"account_id": tx.AccountID,
		"type":       string(tx.Type),
		"status":     string(tx.Status),
	})
	return tx, nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (wallet.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok {
		return wallet.TransactionRecord{}, wallet.ErrTxNotFound
	}
	return tx, nil
}

func (s *Store) ListTransactions(_ context.Context, accountID string, limit int) ([]wallet.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txs := make([]wallet.TransactionRecord, 0, len(s.transactions))
	for _, id := range s.transactionsByTime {
		tx := s.transactions[id]
		if accountID != "" && tx.AccountID != accountID {
			continue
		}
		txs = append(txs, tx)
	}
	sort.Slice(txs, func(i, j int) bool {
		if !txs[i].Timestamp.Equal(txs[j].Timestamp) {
			return txs[i].Timestamp.After(txs[j].Timestamp)
		}
		return txs[i].ID > txs[j].ID
	})
	if limit > 0 && len(txs) > limit {
		txs = txs[:limit]
	}
	return txs, nil
}

// ReferralStore implementation -----------------------------------------------

func (s *Store) CreateReferral(_ context.Context, rec referral.Record) (referral.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rec.DateCreated = now
	rec.DateUpdated = now
	s.referrals[rec.ID] = rec

	s.notify("referrals", storage.ChangeInsert, map[string]interface{}{"id": rec.ID})
	return rec, nil
}

func (s *Store) UpdateReferral(_ context.Context, rec referral.Record) (referral.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.referrals[rec.ID]
	if !ok {
		return referral.Record{}, referral.ErrNotFound
	}
	rec.DateCreated = existing.DateCreated
	rec.DateUpdated = time.Now().UTC()
	s.referrals[rec.ID] = rec

	s.notify("referrals", storage.ChangeUpdate, map[string]interface{}{"id": rec.ID})
	return rec, nil
}

func (s *Store) GetReferral(_ context.Context, id string) (referral.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.referrals[id]
	if !ok {
		return referral.Record{}, referral.ErrNotFound
	}
	return rec, nil
}

func (s *Store) ListReferrals(_ context.Context, status referral.Status, referrerID string) ([]referral.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := make([]referral.Record, 0, len(s.referrals))
	for _, rec := range s.referrals {
		if status != "" && rec.Status != status {
			continue
		}
		if referrerID != "" && rec.ReferrerAccountID != referrerID {
			continue
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].DateCreated.Equal(recs[j].DateCreated) {
			return recs[i].DateCreated.After(recs[j].DateCreated)
		}
		return recs[i].ID > recs[j].ID
	})
	return recs, nil
}

// ChangeFeed implementation ---------------------------------------------------

type subscription struct {
	store *Store
	table string
	id    int

	closeOnce sync.Once
	done      chan struct{}
}

func (sub *subscription) Close() error {
	sub.store.subMu.Lock()
	if handlers, ok := sub.store.subscribers[sub.table]; ok {
		delete(handlers, sub.id)
	}
	sub.store.subMu.Unlock()

	sub.closeOnce.Do(func() { close(sub.done) })
	return nil
}

func (sub *subscription) Done() <-chan struct{} { return sub.done }

// Subscribe registers a handler for change events on the named table.
// Handlers run synchronously on the mutating goroutine, which keeps test
// ordering deterministic.
func (s *Store) Subscribe(_ context.Context, table string, handler func(storage.ChangeEvent)) (storage.Subscription, error) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	if s.subscribers[table] == nil {
		s.subscribers[table] = make(map[int]func(storage.ChangeEvent))
	}
	s.nextSubID++
	id := s.nextSubID
	s.subscribers[table][id] = handler

	return &subscription{store: s, table: table, id: id, done: make(chan struct{})}, nil
}

func (s *Store) notify(table string, typ storage.ChangeType, row map[string]interface{}) {
	s.subMu.Lock()
	handlers := make([]func(storage.ChangeEvent), 0, len(s.subscribers[table]))
	for _, h := range s.subscribers[table] {
		handlers = append(handlers, h)
	}
	s.subMu.Unlock()

	event := storage.ChangeEvent{Table: table, Type: typ, Row: row}
	for _, h := range handlers {
		h(event)
	}
}

func cloneAccount(acct wallet.Account) wallet.Account {
	out := acct
	if acct.LastIncomeCollection != nil {
		t := *acct.LastIncomeCollection
		out.LastIncomeCollection = &t
	}
	out.OwnedProducts = append([]wallet.ProductPosition(nil), acct.OwnedProducts...)
	return out
}
