package referral

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Dumoney00/dumoney-invesment-sub000/internal/domain/referral"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/domain/wallet"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/services/ledger"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/storage/memory"
)

const adminID = "admin-1"

func setup(t *testing.T) (*Service, *ledger.Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	led := ledger.New(store, store, nil)
	auth := AuthorizerFunc(func(_ context.Context, actorID string) bool { return actorID == adminID })
	svc := New(store, store, led, auth, nil, nil)
	return svc, led, store
}

func createPair(t *testing.T, led *ledger.Service) (referrer, referred wallet.Account) {
	t.Helper()
	ctx := context.Background()
	referrer, err := led.CreateAccount(ctx, "referrer", "ref-code", "")
	if err != nil {
		t.Fatalf("create referrer: %v", err)
	}
	referred, err = led.CreateAccount(ctx, "referred", "other-code", "ref-code")
	if err != nil {
		t.Fatalf("create referred: %v", err)
	}
	return referrer, referred
}

func TestTierSelection(t *testing.T) {
	svc, _, _ := setup(t)

	cases := []struct {
		approved int
		tier     string
		percent  float64
	}{
		{0, "bronze", 10},
		{4, "bronze", 10},
		{5, "silver", 15}, // exact threshold selects the higher tier
		{19, "silver", 15},
		{20, "gold", 25},
		{100, "gold", 25},
	}
	for _, tc := range cases {
		tier, err := svc.TierFor(tc.approved)
		if err != nil {
			t.Fatalf("tier for %d: %v", tc.approved, err)
		}
		if tier.Name != tc.tier || tier.BonusPercent != tc.percent {
			t.Fatalf("approved=%d: got %s/%v, want %s/%v", tc.approved, tier.Name, tier.BonusPercent, tc.tier, tc.percent)
		}
	}
}

func TestRecordPurchaseCreatesPendingRecord(t *testing.T) {
	svc, led, _ := setup(t)
	referrer, referred := createPair(t, led)
	ctx := context.Background()

	rec, err := svc.RecordPurchase(ctx, referred.ID, 200)
	if err != nil {
		t.Fatalf("record purchase: %v", err)
	}
	if rec.ReferrerAccountID != referrer.ID || rec.ReferredAccountID != referred.ID {
		t.Fatalf("wrong parties: %+v", rec)
	}
	if rec.Status != referral.StatusPending {
		t.Fatalf("expected pending, got %s", rec.Status)
	}
	// bronze tier: 10% of 200
	if rec.BonusAmount != 20 {
		t.Fatalf("expected bonus 20, got %v", rec.BonusAmount)
	}
}

func TestRecordPurchaseWithoutReferrer(t *testing.T) {
	svc, led, _ := setup(t)
	ctx := context.Background()

	solo, err := led.CreateAccount(ctx, "solo", "solo-code", "")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	rec, err := svc.RecordPurchase(ctx, solo.ID, 100)
	if err != nil {
		t.Fatalf("record purchase: %v", err)
	}
	if rec.ID != "" {
		t.Fatalf("expected no record, got %+v", rec)
	}

	// A dangling code is logged and skipped, not an error.
	dangling, err := led.CreateAccount(ctx, "dangling", "d-code", "nobody-owns-this")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	rec, err = svc.RecordPurchase(ctx, dangling.ID, 100)
	if err != nil {
		t.Fatalf("record purchase: %v", err)
	}
	if rec.ID != "" {
		t.Fatalf("expected no record for dangling code, got %+v", rec)
	}
}

func TestApproveCreditsAndTerminates(t *testing.T) {
	svc, led, store := setup(t)
	referrer, referred := createPair(t, led)
	ctx := context.Background()

	rec, err := svc.RecordPurchase(ctx, referred.ID, 300)
	if err != nil {
		t.Fatalf("record purchase: %v", err)
	}

	approved, err := svc.Approve(ctx, rec.ID, adminID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != referral.StatusApproved || approved.ApproverID != adminID {
		t.Fatalf("unexpected record: %+v", approved)
	}

	acct, _ := store.GetAccount(ctx, referrer.ID)
	if acct.WithdrawalWallet != 30 {
		t.Fatalf("bonus not credited: %v", acct.WithdrawalWallet)
	}
	if acct.ApprovedReferralCount != 1 {
		t.Fatalf("approved count not bumped: %d", acct.ApprovedReferralCount)
	}

	// Terminal records refuse further transitions.
	if _, err := svc.Approve(ctx, rec.ID, adminID); !errors.Is(err, referral.ErrTerminalState) {
		t.Fatalf("expected terminal state, got %v", err)
	}
	if _, err := svc.Reject(ctx, rec.ID, adminID, "late"); !errors.Is(err, referral.ErrTerminalState) {
		t.Fatalf("expected terminal state, got %v", err)
	}
}

func TestRejectRequiresReason(t *testing.T) {
	svc, led, store := setup(t)
	referrer, referred := createPair(t, led)
	ctx := context.Background()

	rec, err := svc.RecordPurchase(ctx, referred.ID, 300)
	if err != nil {
		t.Fatalf("record purchase: %v", err)
	}

	if _, err := svc.Reject(ctx, rec.ID, adminID, "  "); !errors.Is(err, referral.ErrReasonRequired) {
		t.Fatalf("expected reason required, got %v", err)
	}

	rejected, err := svc.Reject(ctx, rec.ID, adminID, "self-referral")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != referral.StatusRejected || rejected.AdminComment != "self-referral" {
		t.Fatalf("unexpected record: %+v", rejected)
	}

	acct, _ := store.GetAccount(ctx, referrer.ID)
	if acct.WithdrawalWallet != 0 {
		t.Fatalf("rejection must not credit: %v", acct.WithdrawalWallet)
	}
}

func TestPermissionDenied(t *testing.T) {
	svc, led, _ := setup(t)
	_, referred := createPair(t, led)
	ctx := context.Background()

	rec, err := svc.RecordPurchase(ctx, referred.ID, 100)
	if err != nil {
		t.Fatalf("record purchase: %v", err)
	}

	if _, err := svc.Approve(ctx, rec.ID, "intruder"); !errors.Is(err, wallet.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if _, err := svc.Reject(ctx, rec.ID, "intruder", "because"); !errors.Is(err, wallet.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if _, err := svc.BulkApprove(ctx, []string{rec.ID}, "intruder"); !errors.Is(err, wallet.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
}

func TestBulkApproveContinuesOnError(t *testing.T) {
	svc, led, store := setup(t)
	referrer, referred := createPair(t, led)
	ctx := context.Background()

	first, err := svc.RecordPurchase(ctx, referred.ID, 100)
	if err != nil {
		t.Fatalf("record purchase: %v", err)
	}
	second, err := svc.RecordPurchase(ctx, referred.ID, 200)
	if err != nil {
		t.Fatalf("record purchase: %v", err)
	}

	result, err := svc.BulkApprove(ctx, []string{first.ID, "missing", second.ID}, adminID)
	if err != nil {
		t.Fatalf("bulk approve: %v", err)
	}
	if result.Approved != 2 || result.Failed != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if _, ok := result.Errors["missing"]; !ok {
		t.Fatalf("missing id not reported: %+v", result.Errors)
	}

	acct, _ := store.GetAccount(ctx, referrer.ID)
	if acct.WithdrawalWallet != 30 {
		t.Fatalf("expected both bonuses credited, got %v", acct.WithdrawalWallet)
	}
	if acct.ApprovedReferralCount != 2 {
		t.Fatalf("approved count: %d", acct.ApprovedReferralCount)
	}
}

func TestRecordPurchaseBelowLowestTier(t *testing.T) {
	store := memory.New()
	led := ledger.New(store, store, nil)
	auth := AuthorizerFunc(func(_ context.Context, actorID string) bool { return actorID == adminID })
	tiers := []referral.Tier{
		{Name: "starter", MinReferrals: 3, BonusPercent: 10},
		{Name: "pro", MinReferrals: 10, BonusPercent: 20},
	}
	svc := New(store, store, led, auth, tiers, nil)
	_, referred := createPair(t, led)
	ctx := context.Background()

	// Two approvals short of the starter bracket: no commission accrues.
	rec, err := svc.RecordPurchase(ctx, referred.ID, 100)
	if err != nil {
		t.Fatalf("record purchase: %v", err)
	}
	if rec.ID != "" {
		t.Fatalf("expected no record below the lowest bracket, got %+v", rec)
	}

	referrer, _ := store.GetAccountByReferralCode(ctx, "ref-code")
	referrer.ApprovedReferralCount = 3
	if _, err := store.UpdateAccount(ctx, referrer); err != nil {
		t.Fatalf("update account: %v", err)
	}

	rec, err = svc.RecordPurchase(ctx, referred.ID, 100)
	if err != nil {
		t.Fatalf("record purchase: %v", err)
	}
	if rec.TierName != "starter" || rec.BonusAmount != 10 {
		t.Fatalf("expected starter 10, got %+v", rec)
	}
}

func TestConcurrentApprovalsCountAll(t *testing.T) {
	svc, led, store := setup(t)
	referrer, referred := createPair(t, led)
	ctx := context.Background()

	const approvals = 5
	ids := make([]string, approvals)
	for i := 0; i < approvals; i++ {
		rec, err := svc.RecordPurchase(ctx, referred.ID, 100)
		if err != nil {
			t.Fatalf("record purchase: %v", err)
		}
		ids[i] = rec.ID
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := svc.Approve(ctx, id, adminID); err != nil {
				t.Errorf("approve %s: %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	acct, _ := store.GetAccount(ctx, referrer.ID)
	if acct.ApprovedReferralCount != approvals {
		t.Fatalf("approval lost under contention: count %d", acct.ApprovedReferralCount)
	}
	if acct.WithdrawalWallet != approvals*10 {
		t.Fatalf("bonus lost under contention: balance %v", acct.WithdrawalWallet)
	}
}

// failingLedger rejects a set number of credits before delegating.
type failingLedger struct {
	inner    Ledger
	failures int
}

func (f *failingLedger) CreditWith(ctx context.Context, accountID string, pool wallet.Pool, category wallet.TxType, fn func(acct *wallet.Account) (float64, string, error)) (wallet.Account, wallet.TransactionRecord, error) {
	if f.failures > 0 {
		f.failures--
		return wallet.Account{}, wallet.TransactionRecord{}, errors.New("store unavailable")
	}
	return f.inner.CreditWith(ctx, accountID, pool, category, fn)
}

func TestApproveReopensRecordWhenCreditFails(t *testing.T) {
	store := memory.New()
	led := ledger.New(store, store, nil)
	flaky := &failingLedger{inner: led, failures: 1}
	auth := AuthorizerFunc(func(_ context.Context, actorID string) bool { return actorID == adminID })
	svc := New(store, store, flaky, auth, nil, nil)
	referrer, referred := createPair(t, led)
	ctx := context.Background()

	rec, err := svc.RecordPurchase(ctx, referred.ID, 100)
	if err != nil {
		t.Fatalf("record purchase: %v", err)
	}

	if _, err := svc.Approve(ctx, rec.ID, adminID); err == nil {
		t.Fatal("expected credit failure")
	}

	// The record is reopened and no money moved.
	reloaded, err := store.GetReferral(ctx, rec.ID)
	if err != nil {
		t.Fatalf("reload referral: %v", err)
	}
	if reloaded.Status != referral.StatusPending || reloaded.ApproverID != "" {
		t.Fatalf("record not reopened: %+v", reloaded)
	}
	acct, _ := store.GetAccount(ctx, referrer.ID)
	if acct.WithdrawalWallet != 0 || acct.ApprovedReferralCount != 0 {
		t.Fatalf("failed approval moved money: %+v", acct)
	}

	// The retry pays exactly once.
	approved, err := svc.Approve(ctx, rec.ID, adminID)
	if err != nil {
		t.Fatalf("retry approve: %v", err)
	}
	if approved.Status != referral.StatusApproved {
		t.Fatalf("unexpected record: %+v", approved)
	}
	acct, _ = store.GetAccount(ctx, referrer.ID)
	if acct.WithdrawalWallet != 10 || acct.ApprovedReferralCount != 1 {
		t.Fatalf("retry did not pay exactly once: %+v", acct)
	}
}

func TestApprovalsAdvanceTier(t *testing.T) {
	svc, led, store := setup(t)
	referrer, referred := createPair(t, led)
	ctx := context.Background()

	// Push the referrer to the silver threshold.
	acct, _ := store.GetAccount(ctx, referrer.ID)
	acct.ApprovedReferralCount = 5
	if _, err := store.UpdateAccount(ctx, acct); err != nil {
		t.Fatalf("update account: %v", err)
	}

	rec, err := svc.RecordPurchase(ctx, referred.ID, 100)
	if err != nil {
		t.Fatalf("record purchase: %v", err)
	}
	if rec.TierName != "silver" || rec.BonusAmount != 15 {
		t.Fatalf("expected silver 15%%, got %+v", rec)
	}
}
