// Package wallet defines the account, product position and transaction
// models owned by the ledger.
package wallet

import "time"

// Pool identifies one of the two balance pools on an account.
type Pool string

const (
	// PoolDeposit holds funds from deposits and product sales; spent on
	// purchases, never withdrawable.
	PoolDeposit Pool = "deposit"
	// PoolWithdrawal holds income and bonus credits; the only pool a
	// withdrawal may debit.
	PoolWithdrawal Pool = "withdrawal"
)

// TxType is the closed set of transaction categories.
type TxType string

const (
	TxDeposit         TxType = "deposit"
	TxWithdraw        TxType = "withdraw"
	TxPurchase        TxType = "purchase"
	TxSale            TxType = "sale"
	TxDailyIncome     TxType = "dailyIncome"
	TxReferralBonus   TxType = "referralBonus"
	TxAccountCreated  TxType = "account_created"
	TxAccountActivity TxType = "account_activity"
	TxAccountUpdate   TxType = "account_update"
	TxAccountSecurity TxType = "account_security"
)

// Valid reports whether t is a known transaction type.
func (t TxType) Valid() bool {
	switch t {
	case TxDeposit, TxWithdraw, TxPurchase, TxSale, TxDailyIncome,
		TxReferralBonus, TxAccountCreated, TxAccountActivity,
		TxAccountUpdate, TxAccountSecurity:
		return true
	}
	return false
}

// Financial reports whether transactions of this type move balances.
func (t TxType) Financial() bool {
	switch t {
	case TxDeposit, TxWithdraw, TxPurchase, TxSale, TxDailyIncome, TxReferralBonus:
		return true
	}
	return false
}

// TxStatus is the outcome recorded on a transaction row.
type TxStatus string

const (
	StatusPending   TxStatus = "pending"
	StatusCompleted TxStatus = "completed"
	StatusFailed    TxStatus = "failed"
)

// Account is a user wallet. Balances are mutated only through the ledger
// service; the struct itself carries no behaviour.
type Account struct {
	ID                    string            `json:"id"`
	Name                  string            `json:"name"`
	DepositWallet         float64           `json:"deposit_wallet"`
	WithdrawalWallet      float64           `json:"withdrawal_wallet"`
	TotalDeposited        float64           `json:"total_deposited"`
	TotalWithdrawn        float64           `json:"total_withdrawn"`
	DailyIncomeRate       float64           `json:"daily_income_rate"`
	LastIncomeCollection  *time.Time        `json:"last_income_collection,omitempty"`
	OwnedProducts         []ProductPosition `json:"owned_products"`
	ReferralCode          string            `json:"referral_code"`
	ReferredByCode        string            `json:"referred_by_code,omitempty"`
	ApprovedReferralCount int               `json:"approved_referral_count"`
	Blocked               bool              `json:"blocked"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
}

// Position returns the held position for productID, if any.
func (a Account) Position(productID string) (ProductPosition, bool) {
	for _, p := range a.OwnedProducts {
		if p.ProductID == productID {
			return p, true
		}
	}
	return ProductPosition{}, false
}

// IncomeRate sums the daily income contribution of all held positions.
func (a Account) IncomeRate() float64 {
	var total float64
	for _, p := range a.OwnedProducts {
		total += p.DailyIncome
	}
	return total
}

// ProductPosition is a held yield product. It contributes DailyIncome to the
// account's income rate while held.
type ProductPosition struct {
	ProductID    string    `json:"product_id"`
	PurchaseDate time.Time `json:"purchase_date"`
	CycleDays    int       `json:"cycle_days"`
	DailyIncome  float64   `json:"daily_income"`
}

// WithdrawalDestination snapshots where a withdrawal was sent.
type WithdrawalDestination struct {
	Method  string `json:"method"`
	Address string `json:"address"`
	Label   string `json:"label,omitempty"`
}

// TransactionRecord is one immutable row of the append-only audit log. Every
// wallet-affecting operation produces exactly one record reflecting its
// outcome, success or failure.
type TransactionRecord struct {
	ID                    string                 `json:"id"`
	AccountID             string                 `json:"account_id"`
	Type                  TxType                 `json:"type"`
	Amount                float64                `json:"amount"`
	Status                TxStatus               `json:"status"`
	Timestamp             time.Time              `json:"timestamp"`
	Details               string                 `json:"details,omitempty"`
	ProductID             string                 `json:"product_id,omitempty"`
	WithdrawalDestination *WithdrawalDestination `json:"withdrawal_destination,omitempty"`
	ApproverID            string                 `json:"approver_id,omitempty"`
	ApprovalTimestamp     *time.Time             `json:"approval_timestamp,omitempty"`
}
