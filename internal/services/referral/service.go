// Package referral computes tiered commissions and drives referral record
// approval, crediting bonuses through the ledger.
package referral

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Dumoney00/dumoney-invesment-sub000/internal/domain/referral"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/domain/wallet"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/metrics"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/storage"
	"github.com/Dumoney00/dumoney-invesment-sub000/pkg/logger"
)

// Ledger is the mutation contract used to credit approved bonuses. CreditWith
// runs the callback inside the referrer's critical section, so the approved
// count bump lands in the same guarded write as the bonus credit.
type Ledger interface {
	CreditWith(ctx context.Context, accountID string, pool wallet.Pool, category wallet.TxType, fn func(acct *wallet.Account) (float64, string, error)) (wallet.Account, wallet.TransactionRecord, error)
}

// Authorizer decides whether an actor may perform administrative review.
// Passed in explicitly; there is no ambient current-user state.
type Authorizer interface {
	IsAdmin(ctx context.Context, actorID string) bool
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(ctx context.Context, actorID string) bool

// IsAdmin implements Authorizer.
func (f AuthorizerFunc) IsAdmin(ctx context.Context, actorID string) bool { return f(ctx, actorID) }

// Service is the referral bonus engine.
type Service struct {
	accounts  storage.AccountStore
	referrals storage.ReferralStore
	ledger    Ledger
	auth      Authorizer
	tiers     []referral.Tier
	log       *logger.Logger
	now       func() time.Time
}

// New creates the engine. A nil tier table falls back to the default tiers;
// the table is sorted ascending by threshold on construction.
func New(accounts storage.AccountStore, referrals storage.ReferralStore, ledger Ledger, auth Authorizer, tiers []referral.Tier, log *logger.Logger) *Service {
	if len(tiers) == 0 {
		tiers = referral.DefaultTiers
	}
	sorted := append([]referral.Tier(nil), tiers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinReferrals < sorted[j].MinReferrals })

	if log == nil {
		log = logger.NewDefault("referral")
	}
	return &Service{
		accounts:  accounts,
		referrals: referrals,
		ledger:    ledger,
		auth:      auth,
		tiers:     sorted,
		log:       log,
		now:       time.Now,
	}
}

// TierFor returns the tier applying to the referrer's approved count.
func (s *Service) TierFor(approvedCount int) (referral.Tier, error) {
	return referral.SelectTier(s.tiers, approvedCount)
}

// RecordPurchase creates a pending referral record for the referrer of the
// purchasing account, with the bonus computed from the referrer's current
// tier. Accounts without a referrer produce no record and no error.
func (s *Service) RecordPurchase(ctx context.Context, referredAccountID string, amount float64) (referral.Record, error) {
	if amount <= 0 {
		return referral.Record{}, wallet.ErrInvalidAmount
	}

	referred, err := s.accounts.GetAccount(ctx, referredAccountID)
	if err != nil {
		return referral.Record{}, err
	}
	if strings.TrimSpace(referred.ReferredByCode) == "" {
		return referral.Record{}, nil
	}

	referrer, err := s.accounts.GetAccountByReferralCode(ctx, referred.ReferredByCode)
	if err != nil {
		if errors.Is(err, wallet.ErrAccountNotFound) {
			// Dangling referral code; nothing to credit.
			s.log.WithField("code", referred.ReferredByCode).Warn("referral code has no owner")
			return referral.Record{}, nil
		}
		return referral.Record{}, err
	}

	tier, err := s.TierFor(referrer.ApprovedReferralCount)
	if errors.Is(err, referral.ErrNoTier) {
		// Referrer has not reached the lowest bracket; no commission accrues.
		return referral.Record{}, nil
	}
	if err != nil {
		return referral.Record{}, err
	}

	rec := referral.Record{
		ReferrerAccountID: referrer.ID,
		ReferredAccountID: referred.ID,
		Status:            referral.StatusPending,
		BonusAmount:       tier.Bonus(amount),
		TransactionAmount: amount,
		TierName:          tier.Name,
	}
	return s.referrals.CreateReferral(ctx, rec)
}

// Approve credits the bonus to the referrer's withdrawal wallet, stamps the
// approval and transitions the record to its terminal approved state.
func (s *Service) Approve(ctx context.Context, id, approverID string) (referral.Record, error) {
	if !s.auth.IsAdmin(ctx, approverID) {
		metrics.ObserveReferralDecision("approve", "denied")
		return referral.Record{}, wallet.ErrPermissionDenied
	}

	rec, err := s.referrals.GetReferral(ctx, id)
	if err != nil {
		metrics.ObserveReferralDecision("approve", "error")
		return referral.Record{}, err
	}
	if rec.Status.Terminal() {
		metrics.ObserveReferralDecision("approve", "terminal")
		return referral.Record{}, referral.ErrTerminalState
	}

	// Persist the terminal state before paying out: a retried or racing
	// approval then fails the terminal check instead of crediting twice.
	rec.Status = referral.StatusApproved
	rec.ApproverID = approverID
	rec.DateUpdated = s.now().UTC()
	updated, err := s.referrals.UpdateReferral(ctx, rec)
	if err != nil {
		metrics.ObserveReferralDecision("approve", "error")
		return referral.Record{}, err
	}

	_, _, err = s.ledger.CreditWith(ctx, rec.ReferrerAccountID, wallet.PoolWithdrawal, wallet.TxReferralBonus,
		func(acct *wallet.Account) (float64, string, error) {
			acct.ApprovedReferralCount++
			return rec.BonusAmount, fmt.Sprintf("Referral bonus (%s tier)", rec.TierName), nil
		})
	if err != nil {
		// Reopen the record so the approval can be retried; no money moved.
		reverted := updated
		reverted.Status = referral.StatusPending
		reverted.ApproverID = ""
		reverted.DateUpdated = s.now().UTC()
		if _, revertErr := s.referrals.UpdateReferral(ctx, reverted); revertErr != nil {
			s.log.WithError(revertErr).WithField("referral_id", id).
				Error("revert failed; record approved without credit")
		}
		metrics.ObserveReferralDecision("approve", "error")
		return referral.Record{}, fmt.Errorf("credit bonus: %w", err)
	}

	metrics.ObserveReferralDecision("approve", "ok")
	return updated, nil
}

// Reject transitions the record to its terminal rejected state. The reason
// is required and stored as the admin comment; no bonus is credited.
func (s *Service) Reject(ctx context.Context, id, approverID, reason string) (referral.Record, error) {
	if !s.auth.IsAdmin(ctx, approverID) {
		metrics.ObserveReferralDecision("reject", "denied")
		return referral.Record{}, wallet.ErrPermissionDenied
	}
	if strings.TrimSpace(reason) == "" {
		metrics.ObserveReferralDecision("reject", "invalid")
		return referral.Record{}, referral.ErrReasonRequired
	}

	rec, err := s.referrals.GetReferral(ctx, id)
	if err != nil {
		metrics.ObserveReferralDecision("reject", "error")
		return referral.Record{}, err
	}
	if rec.Status.Terminal() {
		metrics.ObserveReferralDecision("reject", "terminal")
		return referral.Record{}, referral.ErrTerminalState
	}

	rec.Status = referral.StatusRejected
	rec.AdminComment = reason
	rec.ApproverID = approverID
	rec.DateUpdated = s.now().UTC()
	updated, err := s.referrals.UpdateReferral(ctx, rec)
	if err != nil {
		metrics.ObserveReferralDecision("reject", "error")
		return referral.Record{}, err
	}

	metrics.ObserveReferralDecision("reject", "ok")
	return updated, nil
}

// BulkResult reports the outcome of a bulk approval.
type BulkResult struct {
	Approved int               `json:"approved"`
	Failed   int               `json:"failed"`
	Errors   map[string]string `json:"errors,omitempty"`
}

// BulkApprove applies Approve independently to each id. Individual failures
// do not abort the batch; the result carries per-id errors. Referral records
// are independent entities, so there is deliberately no all-or-nothing
// atomicity across the batch.
func (s *Service) BulkApprove(ctx context.Context, ids []string, approverID string) (BulkResult, error) {
	if !s.auth.IsAdmin(ctx, approverID) {
		return BulkResult{}, wallet.ErrPermissionDenied
	}

	result := BulkResult{Errors: make(map[string]string)}
	for _, id := range ids {
		if _, err := s.Approve(ctx, id, approverID); err != nil {
			result.Failed++
			result.Errors[id] = err.Error()
			continue
		}
		result.Approved++
	}
	if len(result.Errors) == 0 {
		result.Errors = nil
	}
	return result, nil
}

// Pending lists pending records, optionally scoped to one referrer.
func (s *Service) Pending(ctx context.Context, referrerID string) ([]referral.Record, error) {
	return s.referrals.ListReferrals(ctx, referral.StatusPending, referrerID)
}

// List returns records filtered by status and referrer; empty arguments match
// everything.
func (s *Service) List(ctx context.Context, status referral.Status, referrerID string) ([]referral.Record, error) {
	return s.referrals.ListReferrals(ctx, status, referrerID)
}
