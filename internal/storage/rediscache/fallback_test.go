package rediscache

import (
	"context"
	"errors"
	"testing"

	"github.com/Dumoney00/dumoney-invesment-sub000/internal/domain/wallet"
)

type fakeMirror struct {
	txs      map[string][]wallet.TransactionRecord
	accounts map[string]wallet.Account
	err      error
	stores   int
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{
		txs:      map[string][]wallet.TransactionRecord{},
		accounts: map[string]wallet.Account{},
	}
}

func (m *fakeMirror) StoreTransactions(_ context.Context, accountID string, txs []wallet.TransactionRecord) error {
	if m.err != nil {
		return m.err
	}
	m.stores++
	m.txs[accountID] = txs
	return nil
}

func (m *fakeMirror) Transactions(_ context.Context, accountID string) ([]wallet.TransactionRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	txs, ok := m.txs[accountID]
	if !ok {
		return nil, errors.New("cache miss")
	}
	return txs, nil
}

func (m *fakeMirror) StoreAccount(_ context.Context, acct wallet.Account) error {
	if m.err != nil {
		return m.err
	}
	m.stores++
	m.accounts[acct.ID] = acct
	return nil
}

func (m *fakeMirror) Account(_ context.Context, id string) (wallet.Account, error) {
	if m.err != nil {
		return wallet.Account{}, m.err
	}
	acct, ok := m.accounts[id]
	if !ok {
		return wallet.Account{}, errors.New("cache miss")
	}
	return acct, nil
}

type stubFetcher struct {
	txs []wallet.TransactionRecord
	err error
}

func (s stubFetcher) FetchRecent(context.Context, string, int) ([]wallet.TransactionRecord, error) {
	return s.txs, s.err
}

func TestFetcherMirrorsConfirmedReads(t *testing.T) {
	mirror := newFakeMirror()
	primary := stubFetcher{txs: []wallet.TransactionRecord{{ID: "tx-1"}, {ID: "tx-2"}}}
	f := NewFallbackFetcher(primary, mirror, nil)

	txs, err := f.FetchRecent(context.Background(), "acct-1", 10)
	if err != nil {
		t.Fatalf("FetchRecent: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("got %d transactions, want 2", len(txs))
	}
	if len(mirror.txs["acct-1"]) != 2 {
		t.Fatalf("confirmed read was not mirrored")
	}
}

func TestFetcherServesMirrorWhenPrimaryFails(t *testing.T) {
	mirror := newFakeMirror()
	mirror.txs["acct-1"] = []wallet.TransactionRecord{{ID: "tx-1"}, {ID: "tx-2"}, {ID: "tx-3"}}
	primary := stubFetcher{err: errors.New("connection refused")}
	f := NewFallbackFetcher(primary, mirror, nil)

	txs, err := f.FetchRecent(context.Background(), "acct-1", 2)
	if err != nil {
		t.Fatalf("expected mirrored result, got %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("limit not applied to mirrored result: got %d", len(txs))
	}
}

func TestFetcherSurfacesPrimaryErrorOnCacheMiss(t *testing.T) {
	primaryErr := errors.New("connection refused")
	f := NewFallbackFetcher(stubFetcher{err: primaryErr}, newFakeMirror(), nil)

	if _, err := f.FetchRecent(context.Background(), "acct-1", 10); !errors.Is(err, primaryErr) {
		t.Fatalf("expected primary error, got %v", err)
	}
}

type stubAccounts struct {
	acct wallet.Account
	err  error
}

func (s stubAccounts) GetAccount(context.Context, string) (wallet.Account, error) {
	return s.acct, s.err
}

func TestAccountsMirrorConfirmedReads(t *testing.T) {
	mirror := newFakeMirror()
	primary := stubAccounts{acct: wallet.Account{ID: "acct-1", Name: "Ada"}}
	f := NewFallbackAccounts(primary, mirror, nil)

	acct, err := f.GetAccount(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acct.Name != "Ada" {
		t.Fatalf("got name %q, want Ada", acct.Name)
	}
	if mirror.accounts["acct-1"].Name != "Ada" {
		t.Fatalf("confirmed read was not mirrored")
	}
}

func TestAccountsServeMirrorWhenPrimaryFails(t *testing.T) {
	mirror := newFakeMirror()
	mirror.accounts["acct-1"] = wallet.Account{ID: "acct-1", Name: "Ada"}
	f := NewFallbackAccounts(stubAccounts{err: errors.New("connection refused")}, mirror, nil)

	acct, err := f.GetAccount(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("expected mirrored account, got %v", err)
	}
	if acct.Name != "Ada" {
		t.Fatalf("got name %q, want Ada", acct.Name)
	}
}

func TestAccountsNotFoundIsAuthoritative(t *testing.T) {
	mirror := newFakeMirror()
	// Stale mirror entry for an account the primary says is gone.
	mirror.accounts["acct-1"] = wallet.Account{ID: "acct-1", Name: "Ada"}
	f := NewFallbackAccounts(stubAccounts{err: wallet.ErrAccountNotFound}, mirror, nil)

	if _, err := f.GetAccount(context.Background(), "acct-1"); !errors.Is(err, wallet.ErrAccountNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestAccountsSurfacePrimaryErrorOnCacheMiss(t *testing.T) {
	primaryErr := errors.New("connection refused")
	f := NewFallbackAccounts(stubAccounts{err: primaryErr}, newFakeMirror(), nil)

	if _, err := f.GetAccount(context.Background(), "acct-1"); !errors.Is(err, primaryErr) {
		t.Fatalf("expected primary error, got %v", err)
	}
}
