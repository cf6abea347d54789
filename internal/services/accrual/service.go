// Package accrual computes and applies periodic product income through the
// ledger, gated to at most one credit per eligibility window.
package accrual

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dumoney00/dumoney-invesment-sub000/internal/domain/wallet"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/metrics"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/storage"
	"github.com/Dumoney00/dumoney-invesment-sub000/pkg/logger"
)

// Window is the minimum interval between two income collections.
const Window = 24 * time.Hour

// ErrNotEligible is returned when the account collected within the current
// window.
var ErrNotEligible = errors.New("income already collected for this window")

// Ledger is the mutation contract the engine drives. Satisfied by the
// ledger service. CreditWith runs the callback inside the account's critical
// section, which the eligibility check depends on.
type Ledger interface {
	CreditWith(ctx context.Context, accountID string, pool wallet.Pool, category wallet.TxType, fn func(acct *wallet.Account) (float64, string, error)) (wallet.Account, wallet.TransactionRecord, error)
}

// Service applies daily income to eligible accounts.
type Service struct {
	accounts storage.AccountStore
	ledger   Ledger
	log      *logger.Logger
	now      func() time.Time
}

// New creates the accrual engine.
func New(accounts storage.AccountStore, ledger Ledger, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("accrual")
	}
	return &Service{
		accounts: accounts,
		ledger:   ledger,
		log:      log,
		now:      time.Now,
	}
}

// Eligible reports whether the account may collect now. Eligibility derives
// solely from the stored LastIncomeCollection timestamp, so repeated calls
// within one window collapse to a single credit.
func (s *Service) Eligible(acct wallet.Account) bool {
	if acct.LastIncomeCollection == nil {
		return true
	}
	return s.now().Sub(*acct.LastIncomeCollection) >= Window
}

// Collect credits the account's aggregate daily income into its withdrawal
// wallet and stamps the collection time. An empty portfolio is a no-op, not
// an error, and does not consume the window.
//
// The eligibility check, the credit and the stamp run as one guarded ledger
// operation, so concurrent calls within a window collapse to a single credit.
func (s *Service) Collect(ctx context.Context, accountID string) (wallet.TransactionRecord, error) {
	_, rec, err := s.ledger.CreditWith(ctx, accountID, wallet.PoolWithdrawal, wallet.TxDailyIncome,
		func(acct *wallet.Account) (float64, string, error) {
			if !s.Eligible(*acct) {
				return 0, "", ErrNotEligible
			}
			income := acct.IncomeRate()
			if income <= 0 {
				return 0, "", nil
			}
			stamp := s.now().UTC()
			acct.LastIncomeCollection = &stamp
			return income, fmt.Sprintf("Daily income from %d products", len(acct.OwnedProducts)), nil
		})
	switch {
	case errors.Is(err, ErrNotEligible):
		metrics.ObserveAccrual("ineligible")
		return wallet.TransactionRecord{}, err
	case err != nil:
		metrics.ObserveAccrual("error")
		return wallet.TransactionRecord{}, fmt.Errorf("credit income: %w", err)
	case rec.ID == "":
		metrics.ObserveAccrual("empty")
		return wallet.TransactionRecord{}, nil
	}

	metrics.ObserveAccrual("credited")
	return rec, nil
}

// CollectAll sweeps every account, skipping ineligible and empty portfolios.
// Individual failures do not abort the sweep.
func (s *Service) CollectAll(ctx context.Context) (credited int, err error) {
	accounts, err := s.accounts.ListAccounts(ctx)
	if err != nil {
		return 0, err
	}

	for _, acct := range accounts {
		rec, err := s.Collect(ctx, acct.ID)
		if err != nil {
			if errors.Is(err, ErrNotEligible) {
				continue
			}
			s.log.WithError(err).WithField("account_id", acct.ID).Warn("income collection failed")
			continue
		}
		if rec.ID != "" {
			credited++
		}
	}
	return credited, nil
}
