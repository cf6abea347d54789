package accrual

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Dumoney00/dumoney-invesment-sub000/internal/domain/wallet"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/services/ledger"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/storage"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/storage/memory"
)

func setup(t *testing.T) (*Service, *ledger.Service, *memory.Store, wallet.Account) {
	t.Helper()
	store := memory.New()
	led := ledger.New(store, store, nil)
	svc := New(store, led, nil)

	acct, err := led.CreateAccount(context.Background(), "bob", "bob-code", "")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	return svc, led, store, acct
}

func holdProduct(t *testing.T, led *ledger.Service, accountID string, dailyIncome float64) {
	t.Helper()
	ctx := context.Background()
	if _, _, err := led.Deposit(ctx, accountID, 1000, ""); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	pos := wallet.ProductPosition{ProductID: "fund-1", DailyIncome: dailyIncome}
	if _, _, err := led.Purchase(ctx, accountID, pos, 500); err != nil {
		t.Fatalf("purchase: %v", err)
	}
}

func TestCollectCreditsAndStamps(t *testing.T) {
	svc, led, store, acct := setup(t)
	holdProduct(t, led, acct.ID, 25)
	ctx := context.Background()

	rec, err := svc.Collect(ctx, acct.ID)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if rec.Type != wallet.TxDailyIncome || rec.Amount != 25 {
		t.Fatalf("unexpected record: %+v", rec)
	}

	after, err := store.GetAccount(ctx, acct.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if after.WithdrawalWallet != 25 {
		t.Fatalf("income not credited to withdrawal wallet: %+v", after)
	}
	if after.LastIncomeCollection == nil {
		t.Fatal("collection time not stamped")
	}
}

func TestCollectIdempotentWithinWindow(t *testing.T) {
	svc, led, store, acct := setup(t)
	holdProduct(t, led, acct.ID, 25)
	ctx := context.Background()

	if _, err := svc.Collect(ctx, acct.ID); err != nil {
		t.Fatalf("first collect: %v", err)
	}
	if _, err := svc.Collect(ctx, acct.ID); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected not eligible, got %v", err)
	}

	after, _ := store.GetAccount(ctx, acct.ID)
	if after.WithdrawalWallet != 25 {
		t.Fatalf("second collect credited: %+v", after)
	}
}

func TestCollectEligibleAfterWindow(t *testing.T) {
	svc, led, store, acct := setup(t)
	holdProduct(t, led, acct.ID, 25)
	ctx := context.Background()

	if _, err := svc.Collect(ctx, acct.ID); err != nil {
		t.Fatalf("first collect: %v", err)
	}

	// Advance the engine clock one window forward.
	svc.now = func() time.Time { return time.Now().Add(Window) }
	if _, err := svc.Collect(ctx, acct.ID); err != nil {
		t.Fatalf("collect after window: %v", err)
	}

	after, _ := store.GetAccount(ctx, acct.ID)
	if after.WithdrawalWallet != 50 {
		t.Fatalf("expected two credits, got balance %v", after.WithdrawalWallet)
	}
}

func TestCollectEmptyPortfolio(t *testing.T) {
	svc, _, store, acct := setup(t)
	ctx := context.Background()

	rec, err := svc.Collect(ctx, acct.ID)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if rec.ID != "" {
		t.Fatalf("expected no record for empty portfolio, got %+v", rec)
	}

	// The window is not consumed, so the account stays eligible.
	after, _ := store.GetAccount(ctx, acct.ID)
	if after.LastIncomeCollection != nil {
		t.Fatal("empty collection must not stamp the window")
	}
}

// slowAccounts widens the read/write gap on account rows so interleavings
// that depend on it show up reliably.
type slowAccounts struct {
	storage.Store
	delay time.Duration
}

func (s *slowAccounts) GetAccount(ctx context.Context, id string) (wallet.Account, error) {
	acct, err := s.Store.GetAccount(ctx, id)
	time.Sleep(s.delay)
	return acct, err
}

func (s *slowAccounts) UpdateAccount(ctx context.Context, acct wallet.Account) (wallet.Account, error) {
	time.Sleep(s.delay)
	return s.Store.UpdateAccount(ctx, acct)
}

func TestCollectConcurrentCreditsOnce(t *testing.T) {
	store := memory.New()
	slow := &slowAccounts{Store: store, delay: 5 * time.Millisecond}
	led := ledger.New(slow, store, nil)
	svc := New(slow, led, nil)
	ctx := context.Background()

	acct, err := led.CreateAccount(ctx, "bob", "bob-code", "")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	holdProduct(t, led, acct.ID, 10)

	const callers = 4
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Collect(ctx, acct.ID)
		}(i)
	}
	wg.Wait()

	var credited, ineligible int
	for _, err := range errs {
		switch {
		case err == nil:
			credited++
		case errors.Is(err, ErrNotEligible):
			ineligible++
		default:
			t.Fatalf("unexpected collect error: %v", err)
		}
	}
	if credited != 1 || ineligible != callers-1 {
		t.Fatalf("got %d credits and %d ineligible, want 1 and %d", credited, ineligible, callers-1)
	}

	after, _ := store.GetAccount(ctx, acct.ID)
	if after.WithdrawalWallet != 10 {
		t.Fatalf("window credited more than once: balance %v", after.WithdrawalWallet)
	}
	txs, _ := store.ListTransactions(ctx, acct.ID, 0)
	var incomes int
	for _, tx := range txs {
		if tx.Type == wallet.TxDailyIncome {
			incomes++
		}
	}
	if incomes != 1 {
		t.Fatalf("got %d income records, want 1", incomes)
	}
}

func TestCollectConcurrentWithDeposits(t *testing.T) {
	store := memory.New()
	slow := &slowAccounts{Store: store, delay: 2 * time.Millisecond}
	led := ledger.New(slow, store, nil)
	svc := New(slow, led, nil)
	ctx := context.Background()

	acct, err := led.CreateAccount(ctx, "bob", "bob-code", "")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	holdProduct(t, led, acct.ID, 10)

	const deposits = 8
	var wg sync.WaitGroup
	for i := 0; i < deposits; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := led.Deposit(ctx, acct.ID, 50, ""); err != nil {
				t.Errorf("deposit: %v", err)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := svc.Collect(ctx, acct.ID); err != nil {
			t.Errorf("collect: %v", err)
		}
	}()
	wg.Wait()

	after, _ := store.GetAccount(ctx, acct.ID)
	if after.DepositWallet != 500+deposits*50 {
		t.Fatalf("deposit lost under contention: balance %v", after.DepositWallet)
	}
	if after.WithdrawalWallet != 10 {
		t.Fatalf("income lost under contention: balance %v", after.WithdrawalWallet)
	}
	if err := led.Reconcile(ctx, acct.ID); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
}

func TestCollectAllSweeps(t *testing.T) {
	svc, led, _, acct := setup(t)
	holdProduct(t, led, acct.ID, 10)
	ctx := context.Background()

	// Second account with no products is skipped without error.
	if _, err := led.CreateAccount(ctx, "carol", "carol-code", ""); err != nil {
		t.Fatalf("create account: %v", err)
	}

	credited, err := svc.CollectAll(ctx)
	if err != nil {
		t.Fatalf("collect all: %v", err)
	}
	if credited != 1 {
		t.Fatalf("expected one credit, got %d", credited)
	}

	// A second sweep inside the window credits nothing.
	credited, err = svc.CollectAll(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if credited != 0 {
		t.Fatalf("expected zero credits, got %d", credited)
	}
}
