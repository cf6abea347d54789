// Package ledger owns per-account balances and the append-only transaction
// log. It is the only component permitted to mutate wallet balances; the
// accrual and referral engines credit through it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Dumoney00/dumoney-invesment-sub000/internal/domain/wallet"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/metrics"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/storage"
	"github.com/Dumoney00/dumoney-invesment-sub000/pkg/logger"
)

// InsufficientBalanceDetails is the details text stamped on failed debits.
const InsufficientBalanceDetails = "Insufficient balance"

// Service mutates account balances under per-account critical sections.
// Operations against different accounts never block each other.
type Service struct {
	accounts storage.AccountStore
	txs      storage.TransactionStore
	log      *logger.Logger
	now      func() time.Time

	locks sync.Map // account id -> *sync.Mutex
}

// New creates a ledger over the given stores.
func New(accounts storage.AccountStore, txs storage.TransactionStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	return &Service{
		accounts: accounts,
		txs:      txs,
		log:      log,
		now:      time.Now,
	}
}

func (s *Service) lock(accountID string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(accountID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// newTxID returns a time-prefixed unique id. The prefix makes ids of
// equal-timestamp records sort in creation order, which the activity feed
// relies on as its tie-break.
func (s *Service) newTxID() string {
	return fmt.Sprintf("%020d-%s", s.now().UTC().UnixNano(), uuid.NewString()[:8])
}

// CreateAccount registers a new account and logs an account_created record.
func (s *Service) CreateAccount(ctx context.Context, name, referralCode, referredByCode string) (wallet.Account, error) {
	acct := wallet.Account{
		Name:           strings.TrimSpace(name),
		ReferralCode:   strings.TrimSpace(referralCode),
		ReferredByCode: strings.TrimSpace(referredByCode),
	}
	if acct.ReferralCode == "" {
		acct.ReferralCode = uuid.NewString()[:8]
	}

	created, err := s.accounts.CreateAccount(ctx, acct)
	if err != nil {
		return wallet.Account{}, fmt.Errorf("create account: %w", err)
	}

	_, err = s.txs.AppendTransaction(ctx, wallet.TransactionRecord{
		ID:        s.newTxID(),
		AccountID: created.ID,
		Type:      wallet.TxAccountCreated,
		Amount:    0,
		Status:    wallet.StatusCompleted,
		Timestamp: s.now().UTC(),
		Details:   "Account registered",
	})
	if err != nil {
		return wallet.Account{}, fmt.Errorf("log account creation: %w", err)
	}
	return created, nil
}

// Account returns the account by id.
func (s *Service) Account(ctx context.Context, id string) (wallet.Account, error) {
	return s.accounts.GetAccount(ctx, id)
}

// Transactions returns the most recent limit records, newest first. An empty
// accountID selects all accounts.
func (s *Service) Transactions(ctx context.Context, accountID string, limit int) ([]wallet.TransactionRecord, error) {
	return s.txs.ListTransactions(ctx, accountID, limit)
}

// mutation is applied to a loaded account inside its critical section. It
// returns the record to append; setting mutated=false skips the account
// write (used by failed debits, which log but leave balances untouched).
// A record with an empty Type skips the log append, making the whole
// operation a no-op.
type mutation func(acct *wallet.Account) (rec wallet.TransactionRecord, mutated bool, err error)

func (s *Service) apply(ctx context.Context, accountID string, fn mutation) (wallet.Account, wallet.TransactionRecord, error) {
	mu := s.lock(accountID)
	mu.Lock()
	defer mu.Unlock()

	acct, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return wallet.Account{}, wallet.TransactionRecord{}, err
	}
	if acct.Blocked {
		return wallet.Account{}, wallet.TransactionRecord{}, wallet.ErrAccountBlocked
	}

	rec, mutated, opErr := fn(&acct)
	if opErr != nil && !errors.Is(opErr, wallet.ErrInsufficientFunds) {
		return wallet.Account{}, wallet.TransactionRecord{}, opErr
	}

	if mutated {
		acct, err = s.accounts.UpdateAccount(ctx, acct)
		if err != nil {
			return wallet.Account{}, wallet.TransactionRecord{}, fmt.Errorf("update account: %w", err)
		}
	}
	if rec.Type == "" {
		return acct, wallet.TransactionRecord{}, opErr
	}

	rec.ID = s.newTxID()
	rec.AccountID = accountID
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now().UTC()
	}
	appended, err := s.txs.AppendTransaction(ctx, rec)
	if err != nil {
		// A balance mutation without its log row is a correctness bug;
		// surface loudly so the operator reconciles.
		s.log.WithError(err).WithField("account_id", accountID).
			Error("transaction log append failed after balance write")
		return wallet.Account{}, wallet.TransactionRecord{}, fmt.Errorf("append transaction: %w", err)
	}

	metrics.ObserveLedgerOp(string(rec.Type), string(rec.Status))
	return acct, appended, opErr
}

// creditAllowed reports whether the category may credit the pool.
func creditAllowed(pool wallet.Pool, category wallet.TxType) bool {
	switch pool {
	case wallet.PoolDeposit:
		return category == wallet.TxDeposit || category == wallet.TxSale
	case wallet.PoolWithdrawal:
		return category == wallet.TxDailyIncome || category == wallet.TxReferralBonus
	}
	return false
}

// debitAllowed reports whether the category may debit the pool.
func debitAllowed(pool wallet.Pool, category wallet.TxType) bool {
	switch pool {
	case wallet.PoolDeposit:
		return category == wallet.TxPurchase
	case wallet.PoolWithdrawal:
		return category == wallet.TxWithdraw
	}
	return false
}

// Credit adds amount to the named pool and appends a completed record.
func (s *Service) Credit(ctx context.Context, accountID string, amount float64, pool wallet.Pool, category wallet.TxType, details string) (wallet.Account, wallet.TransactionRecord, error) {
	if amount <= 0 {
		return wallet.Account{}, wallet.TransactionRecord{}, wallet.ErrInvalidAmount
	}
	if !creditAllowed(pool, category) {
		return wallet.Account{}, wallet.TransactionRecord{}, fmt.Errorf("category %s may not credit pool %s", category, pool)
	}

	return s.apply(ctx, accountID, func(acct *wallet.Account) (wallet.TransactionRecord, bool, error) {
		switch pool {
		case wallet.PoolDeposit:
			acct.DepositWallet += amount
		case wallet.PoolWithdrawal:
			acct.WithdrawalWallet += amount
		}
		return wallet.TransactionRecord{
			Type:    category,
			Amount:  amount,
			Status:  wallet.StatusCompleted,
			Details: details,
		}, true, nil
	})
}

// CreditWith runs fn inside the account's critical section and credits the
// amount it returns. fn sees the current row, may mutate non-balance fields
// (collection stamps, counters) and returns the amount to credit plus the
// record details; the field changes, the balance bump and the log append
// commit as one guarded write, so checks made inside fn cannot race other
// account mutations. A zero amount with a nil error makes the whole call a
// no-op: no credit, no record, and fn's field changes are discarded.
func (s *Service) CreditWith(ctx context.Context, accountID string, pool wallet.Pool, category wallet.TxType, fn func(acct *wallet.Account) (amount float64, details string, err error)) (wallet.Account, wallet.TransactionRecord, error) {
	if !creditAllowed(pool, category) {
		return wallet.Account{}, wallet.TransactionRecord{}, fmt.Errorf("category %s may not credit pool %s", category, pool)
	}

	return s.apply(ctx, accountID, func(acct *wallet.Account) (wallet.TransactionRecord, bool, error) {
		amount, details, err := fn(acct)
		if err != nil {
			return wallet.TransactionRecord{}, false, err
		}
		if amount == 0 {
			return wallet.TransactionRecord{}, false, nil
		}
		if amount < 0 {
			return wallet.TransactionRecord{}, false, wallet.ErrInvalidAmount
		}

		switch pool {
		case wallet.PoolDeposit:
			acct.DepositWallet += amount
		case wallet.PoolWithdrawal:
			acct.WithdrawalWallet += amount
		}
		return wallet.TransactionRecord{
			Type:    category,
			Amount:  amount,
			Status:  wallet.StatusCompleted,
			Details: details,
		}, true, nil
	})
}

// Debit removes amount from the named pool. On insufficient funds it leaves
// balances unchanged, appends a failed record with the insufficient-balance
// details and returns ErrInsufficientFunds alongside that record.
func (s *Service) Debit(ctx context.Context, accountID string, amount float64, pool wallet.Pool, category wallet.TxType, details string) (wallet.Account, wallet.TransactionRecord, error) {
	if amount <= 0 {
		return wallet.Account{}, wallet.TransactionRecord{}, wallet.ErrInvalidAmount
	}
	if !debitAllowed(pool, category) {
		return wallet.Account{}, wallet.TransactionRecord{}, fmt.Errorf("category %s may not debit pool %s", category, pool)
	}

	return s.apply(ctx, accountID, func(acct *wallet.Account) (wallet.TransactionRecord, bool, error) {
		balance := acct.DepositWallet
		if pool == wallet.PoolWithdrawal {
			balance = acct.WithdrawalWallet
		}
		if balance < amount {
			return wallet.TransactionRecord{
				Type:    category,
				Amount:  amount,
				Status:  wallet.StatusFailed,
				Details: InsufficientBalanceDetails,
			}, false, wallet.ErrInsufficientFunds
		}

		switch pool {
		case wallet.PoolDeposit:
			acct.DepositWallet -= amount
		case wallet.PoolWithdrawal:
			acct.WithdrawalWallet -= amount
		}
		return wallet.TransactionRecord{
			Type:    category,
			Amount:  amount,
			Status:  wallet.StatusCompleted,
			Details: details,
		}, true, nil
	})
}

// RecordOnly appends a record without touching balances, for non-financial
// events such as account_update or account_security.
func (s *Service) RecordOnly(ctx context.Context, accountID string, category wallet.TxType, amount float64, status wallet.TxStatus, details string) (wallet.TransactionRecord, error) {
	if category.Financial() {
		return wallet.TransactionRecord{}, fmt.Errorf("category %s requires a balance mutation", category)
	}
	if amount < 0 {
		return wallet.TransactionRecord{}, wallet.ErrInvalidAmount
	}

	_, rec, err := s.apply(ctx, accountID, func(*wallet.Account) (wallet.TransactionRecord, bool, error) {
		return wallet.TransactionRecord{
			Type:    category,
			Amount:  amount,
			Status:  status,
			Details: details,
		}, false, nil
	})
	return rec, err
}

// Deposit credits the deposit wallet and bumps the lifetime deposit total.
func (s *Service) Deposit(ctx context.Context, accountID string, amount float64, details string) (wallet.Account, wallet.TransactionRecord, error) {
	if amount <= 0 {
		return wallet.Account{}, wallet.TransactionRecord{}, wallet.ErrInvalidAmount
	}

	return s.apply(ctx, accountID, func(acct *wallet.Account) (wallet.TransactionRecord, bool, error) {
		acct.DepositWallet += amount
		acct.TotalDeposited += amount
		return wallet.TransactionRecord{
			Type:    wallet.TxDeposit,
			Amount:  amount,
			Status:  wallet.StatusCompleted,
			Details: details,
		}, true, nil
	})
}

// Withdraw debits the withdrawal wallet, bumps the lifetime withdrawal total
// and snapshots the destination. Insufficient funds behave as in Debit.
func (s *Service) Withdraw(ctx context.Context, accountID string, amount float64, dest *wallet.WithdrawalDestination) (wallet.Account, wallet.TransactionRecord, error) {
	if amount <= 0 {
		return wallet.Account{}, wallet.TransactionRecord{}, wallet.ErrInvalidAmount
	}

	return s.apply(ctx, accountID, func(acct *wallet.Account) (wallet.TransactionRecord, bool, error) {
		if acct.WithdrawalWallet < amount {
			return wallet.TransactionRecord{
				Type:                  wallet.TxWithdraw,
				Amount:                amount,
				Status:                wallet.StatusFailed,
				Details:               InsufficientBalanceDetails,
				WithdrawalDestination: dest,
			}, false, wallet.ErrInsufficientFunds
		}

		acct.WithdrawalWallet -= amount
		acct.TotalWithdrawn += amount
		return wallet.TransactionRecord{
			Type:                  wallet.TxWithdraw,
			Amount:                amount,
			Status:                wallet.StatusCompleted,
			Details:               "Withdrawal processed",
			WithdrawalDestination: dest,
		}, true, nil
	})
}

// Purchase debits the deposit wallet by price and adds the product position,
// recomputing the account's daily income rate.
func (s *Service) Purchase(ctx context.Context, accountID string, pos wallet.ProductPosition, price float64) (wallet.Account, wallet.TransactionRecord, error) {
	if price <= 0 {
		return wallet.Account{}, wallet.TransactionRecord{}, wallet.ErrInvalidAmount
	}
	if pos.ProductID == "" {
		return wallet.Account{}, wallet.TransactionRecord{}, wallet.ErrProductNotFound
	}

	return s.apply(ctx, accountID, func(acct *wallet.Account) (wallet.TransactionRecord, bool, error) {
		if acct.DepositWallet < price {
			return wallet.TransactionRecord{
				Type:      wallet.TxPurchase,
				Amount:    price,
				Status:    wallet.StatusFailed,
				Details:   InsufficientBalanceDetails,
				ProductID: pos.ProductID,
			}, false, wallet.ErrInsufficientFunds
		}

		if pos.PurchaseDate.IsZero() {
			pos.PurchaseDate = s.now().UTC()
		}
		acct.DepositWallet -= price
		acct.OwnedProducts = append(acct.OwnedProducts, pos)
		acct.DailyIncomeRate = acct.IncomeRate()
		return wallet.TransactionRecord{
			Type:      wallet.TxPurchase,
			Amount:    price,
			Status:    wallet.StatusCompleted,
			Details:   fmt.Sprintf("Purchased product %s", pos.ProductID),
			ProductID: pos.ProductID,
		}, true, nil
	})
}

// Sell removes the product position and credits the proceeds back to the
// deposit wallet, recomputing the income rate.
func (s *Service) Sell(ctx context.Context, accountID, productID string, proceeds float64) (wallet.Account, wallet.TransactionRecord, error) {
	if proceeds < 0 {
		return wallet.Account{}, wallet.TransactionRecord{}, wallet.ErrInvalidAmount
	}

	return s.apply(ctx, accountID, func(acct *wallet.Account) (wallet.TransactionRecord, bool, error) {
		idx := -1
		for i, p := range acct.OwnedProducts {
			if p.ProductID == productID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return wallet.TransactionRecord{}, false, wallet.ErrProductNotFound
		}

		acct.OwnedProducts = append(acct.OwnedProducts[:idx], acct.OwnedProducts[idx+1:]...)
		acct.DepositWallet += proceeds
		acct.DailyIncomeRate = acct.IncomeRate()
		return wallet.TransactionRecord{
			Type:      wallet.TxSale,
			Amount:    proceeds,
			Status:    wallet.StatusCompleted,
			Details:   fmt.Sprintf("Sold product %s", productID),
			ProductID: productID,
		}, true, nil
	})
}

// Reconcile replays the transaction log for the account and compares the
// replayed pool balances against the stored ones. It returns an error naming
// the first mismatch found.
func (s *Service) Reconcile(ctx context.Context, accountID string) error {
	acct, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	txs, err := s.txs.ListTransactions(ctx, accountID, 0)
	if err != nil {
		return err
	}

	var deposit, withdrawal float64
	for _, tx := range txs {
		if tx.Status != wallet.StatusCompleted {
			continue
		}
		switch tx.Type {
		case wallet.TxDeposit, wallet.TxSale:
			deposit += tx.Amount
		case wallet.TxPurchase:
			deposit -= tx.Amount
		case wallet.TxDailyIncome, wallet.TxReferralBonus:
			withdrawal += tx.Amount
		case wallet.TxWithdraw:
			withdrawal -= tx.Amount
		}
	}

	const epsilon = 1e-6
	if diff := deposit - acct.DepositWallet; diff > epsilon || diff < -epsilon {
		return fmt.Errorf("deposit wallet drift for %s: log %0.2f, stored %0.2f", accountID, deposit, acct.DepositWallet)
	}
	if diff := withdrawal - acct.WithdrawalWallet; diff > epsilon || diff < -epsilon {
		return fmt.Errorf("withdrawal wallet drift for %s: log %0.2f, stored %0.2f", accountID, withdrawal, acct.WithdrawalWallet)
	}
	return nil
}
