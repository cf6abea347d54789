package supabase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Dumoney00/dumoney-invesment-sub000/internal/domain/referral"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/domain/wallet"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/storage"
)

// Store implements the storage interfaces over PostgREST.
type Store struct {
	client *Client
}

var _ storage.Store = (*Store)(nil)

// NewStore creates a store over the client.
func NewStore(client *Client) *Store {
	return &Store{client: client}
}

type accountRow struct {
	ID                    string                   `json:"id"`
	Name                  string                   `json:"name"`
	DepositWallet         float64                  `json:"deposit_wallet"`
	WithdrawalWallet      float64                  `json:"withdrawal_wallet"`
	TotalDeposited        float64                  `json:"total_deposited"`
	TotalWithdrawn        float64                  `json:"total_withdrawn"`
	DailyIncomeRate       float64                  `json:"daily_income_rate"`
	LastIncomeCollection  *time.Time               `json:"last_income_collection"`
	OwnedProducts         []wallet.ProductPosition `json:"owned_products"`
	ReferralCode          string                   `json:"referral_code"`
	ReferredByCode        string                   `json:"referred_by_code"`
	ApprovedReferralCount int                      `json:"approved_referral_count"`
	Blocked               bool                     `json:"blocked"`
	CreatedAt             time.Time                `json:"created_at"`
	UpdatedAt             time.Time                `json:"updated_at"`
}

func toAccountRow(acct wallet.Account) accountRow {
	return accountRow{
		ID:                    acct.ID,
		Name:                  acct.Name,
		DepositWallet:         acct.DepositWallet,
		WithdrawalWallet:      acct.WithdrawalWallet,
		TotalDeposited:        acct.TotalDeposited,
		TotalWithdrawn:        acct.TotalWithdrawn,
		DailyIncomeRate:       acct.DailyIncomeRate,
		LastIncomeCollection:  acct.LastIncomeCollection,
		OwnedProducts:         acct.OwnedProducts,
		ReferralCode:          acct.ReferralCode,
		ReferredByCode:        acct.ReferredByCode,
		ApprovedReferralCount: acct.ApprovedReferralCount,
		Blocked:               acct.Blocked,
		CreatedAt:             acct.CreatedAt,
		UpdatedAt:             acct.UpdatedAt,
	}
}

func (r accountRow) toDomain() wallet.Account {
	return wallet.Account{
		ID:                    r.ID,
		Name:                  r.Name,
		DepositWallet:         r.DepositWallet,
		WithdrawalWallet:      r.WithdrawalWallet,
		TotalDeposited:        r.TotalDeposited,
		TotalWithdrawn:        r.TotalWithdrawn,
		DailyIncomeRate:       r.DailyIncomeRate,
		LastIncomeCollection:  r.LastIncomeCollection,
		OwnedProducts:         r.OwnedProducts,
		ReferralCode:          r.ReferralCode,
		ReferredByCode:        r.ReferredByCode,
		ApprovedReferralCount: r.ApprovedReferralCount,
		Blocked:               r.Blocked,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}
}

// --- AccountStore -----------------------------------------------------------

func (s *Store) CreateAccount(ctx context.Context, acct wallet.Account) (wallet.Account, error) {
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	_, err := s.client.request(ctx, http.MethodPost, "accounts", toAccountRow(acct), "")
	if err != nil {
		return wallet.Account{}, err
	}
	return acct, nil
}

func (s *Store) UpdateAccount(ctx context.Context, acct wallet.Account) (wallet.Account, error) {
	acct.UpdatedAt = time.Now().UTC()
	body, err := s.client.request(ctx, http.MethodPatch, "accounts", toAccountRow(acct), "id=eq."+url.QueryEscape(acct.ID))
	if err != nil {
		return wallet.Account{}, err
	}
	var rows []accountRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return wallet.Account{}, err
	}
	if len(rows) == 0 {
		return wallet.Account{}, wallet.ErrAccountNotFound
	}
	return acct, nil
}

func (s *Store) getAccountWhere(ctx context.Context, query string) (wallet.Account, error) {
	body, err := s.client.request(ctx, http.MethodGet, "accounts", nil, query+"&limit=1")
	if err != nil {
		return wallet.Account{}, err
	}
	var rows []accountRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return wallet.Account{}, err
	}
	if len(rows) == 0 {
		return wallet.Account{}, wallet.ErrAccountNotFound
	}
	return rows[0].toDomain(), nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (wallet.Account, error) {
	return s.getAccountWhere(ctx, "id=eq."+url.QueryEscape(id))
}

func (s *Store) GetAccountByReferralCode(ctx context.Context, code string) (wallet.Account, error) {
	return s.getAccountWhere(ctx, "referral_code=ilike."+url.QueryEscape(code))
}

func (s *Store) ListAccounts(ctx context.Context) ([]wallet.Account, error) {
	body, err := s.client.request(ctx, http.MethodGet, "accounts", nil, "order=created_at.asc")
	if err != nil {
		return nil, err
	}
	var rows []accountRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, err
	}
	accounts := make([]wallet.Account, 0, len(rows))
	for _, row := range rows {
		accounts = append(accounts, row.toDomain())
	}
	return accounts, nil
}

// --- TransactionStore -------------------------------------------------------

type transactionRow struct {
	ID                    string                        `json:"id"`
	AccountID             string                        `json:"account_id"`
	Type                  string                        `json:"type"`
	Amount                float64                       `json:"amount"`
	Status                string                        `json:"status"`
	Timestamp             time.Time                     `json:"timestamp"`
	Details               string                        `json:"details,omitempty"`
	ProductID             string                        `json:"product_id,omitempty"`
	WithdrawalDestination *wallet.WithdrawalDestination `json:"withdrawal_destination,omitempty"`
	ApproverID            string                        `json:"approver_id,omitempty"`
	ApprovalTimestamp     *time.Time                    `json:"approval_timestamp,omitempty"`
}

func (r transactionRow) toDomain() wallet.TransactionRecord {
	return wallet.TransactionRecord{
		ID:                    r.ID,
		AccountID:             r.AccountID,
		Type:                  wallet.TxType(r.Type),
		Amount:                r.Amount,
		Status:                wallet.TxStatus(r.Status),
		Timestamp:             r.Timestamp,
		Details:               r.Details,
		ProductID:             r.ProductID,
		WithdrawalDestination: r.WithdrawalDestination,
		ApproverID:            r.ApproverID,
		ApprovalTimestamp:     r.ApprovalTimestamp,
	}
}

func (s *Store) AppendTransaction(ctx context.Context, tx wallet.TransactionRecord) (wallet.TransactionRecord, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now().UTC()
	}

	row := transactionRow{
		ID:                    tx.ID,
		AccountID:             tx.AccountID,
		Type:                  string(tx.Type),
		Amount:                tx.Amount,
		Status:                string(tx.Status),
		Timestamp:             tx.Timestamp,
		Details:               tx.Details,
		ProductID:             tx.ProductID,
		WithdrawalDestination: tx.WithdrawalDestination,
		ApproverID:            tx.ApproverID,
		ApprovalTimestamp:     tx.ApprovalTimestamp,
	}
	if _, err := s.client.request(ctx, http.MethodPost, "transactions", row, ""); err != nil {
		return wallet.TransactionRecord{}, err
	}
	return tx, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (wallet.TransactionRecord, error) {
	body, err := s.client.request(ctx, http.MethodGet, "transactions", nil, "id=eq."+url.QueryEscape(id)+"&limit=1")
	if err != nil {
		return wallet.TransactionRecord{}, err
	}
	var rows []transactionRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return wallet.TransactionRecord{}, err
	}
	if len(rows) == 0 {
		return wallet.TransactionRecord{}, wallet.ErrTxNotFound
	}
	return rows[0].toDomain(), nil
}

func (s *Store) ListTransactions(ctx context.Context, accountID string, limit int) ([]wallet.TransactionRecord, error) {
	query := "order=timestamp.desc,id.desc"
	if accountID != "" {
		query += "&account_id=eq." + url.QueryEscape(accountID)
	}
	if limit > 0 {
		query += "&limit=" + strconv.Itoa(limit)
	}

	body, err := s.client.request(ctx, http.MethodGet, "transactions", nil, query)
	if err != nil {
		return nil, err
	}
	var rows []transactionRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, err
	}
	txs := make([]wallet.TransactionRecord, 0, len(rows))
	for _, row := range rows {
		txs = append(txs, row.toDomain())
	}
	return txs, nil
}

// --- ReferralStore ----------------------------------------------------------

type referralRow struct {
	ID                string    `json:"id"`
	ReferrerAccountID string    `json:"referrer_account_id"`
	ReferredAccountID string    `json:"referred_account_id"`
	Status            string    `json:"status"`
	BonusAmount       float64   `json:"bonus_amount"`
	TransactionAmount float64   `json:"transaction_amount"`
	TierName          string    `json:"tier_name,omitempty"`
	DateCreated       time.Time `json:"date_created"`
	DateUpdated       time.Time `json:"date_updated"`
	AdminComment      string    `json:"admin_comment,omitempty"`
	ApproverID        string    `json:"approver_id,omitempty"`
}

func toReferralRow(rec referral.Record) referralRow {
	return referralRow{
		ID:                rec.ID,
		ReferrerAccountID: rec.ReferrerAccountID,
		ReferredAccountID: rec.ReferredAccountID,
		Status:            string(rec.Status),
		BonusAmount:       rec.BonusAmount,
		TransactionAmount: rec.TransactionAmount,
		TierName:          rec.TierName,
		DateCreated:       rec.DateCreated,
		DateUpdated:       rec.DateUpdated,
		AdminComment:      rec.AdminComment,
		ApproverID:        rec.ApproverID,
	}
}

func (r referralRow) toDomain() referral.Record {
	return referral.Record{
		ID:                r.ID,
		ReferrerAccountID: r.ReferrerAccountID,
		ReferredAccountID: r.ReferredAccountID,
		Status:            referral.Status(r.Status),
		BonusAmount:       r.BonusAmount,
		TransactionAmount: r.TransactionAmount,
		TierName:          r.TierName,
		DateCreated:       r.DateCreated,
		DateUpdated:       r.DateUpdated,
		AdminComment:      r.AdminComment,
		ApproverID:        r.ApproverID,
	}
}

func (s *Store) CreateReferral(ctx context.Context, rec referral.Record) (referral.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rec.DateCreated = now
	rec.DateUpdated = now

	if _, err := s.client.request(ctx, http.MethodPost, "referrals", toReferralRow(rec), ""); err != nil {
		return referral.Record{}, err
	}
	return rec, nil
}

func (s *Store) UpdateReferral(ctx context.Context, rec referral.Record) (referral.Record, error) {
	rec.DateUpdated = time.Now().UTC()
	body, err := s.client.request(ctx, http.MethodPatch, "referrals", toReferralRow(rec), "id=eq."+url.QueryEscape(rec.ID))
	if err != nil {
		return referral.Record{}, err
	}
	var rows []referralRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return referral.Record{}, err
	}
	if len(rows) == 0 {
		return referral.Record{}, referral.ErrNotFound
	}
	return rec, nil
}

func (s *Store) GetReferral(ctx context.Context, id string) (referral.Record, error) {
	body, err := s.client.request(ctx, http.MethodGet, "referrals", nil, "id=eq."+url.QueryEscape(id)+"&limit=1")
	if err != nil {
		return referral.Record{}, err
	}
	var rows []referralRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return referral.Record{}, err
	}
	if len(rows) == 0 {
		return referral.Record{}, referral.ErrNotFound
	}
	return rows[0].toDomain(), nil
}

func (s *Store) ListReferrals(ctx context.Context, status referral.Status, referrerID string) ([]referral.Record, error) {
	query := "order=date_created.desc,id.desc"
	if status != "" {
		query += "&status=eq." + url.QueryEscape(string(status))
	}
	if referrerID != "" {
		query += "&referrer_account_id=eq." + url.QueryEscape(referrerID)
	}

	body, err := s.client.request(ctx, http.MethodGet, "referrals", nil, query)
	if err != nil {
		return nil, err
	}
	var rows []referralRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, err
	}
	recs := make([]referral.Record, 0, len(rows))
	for _, row := range rows {
		recs = append(recs, row.toDomain())
	}
	return recs, nil
}
