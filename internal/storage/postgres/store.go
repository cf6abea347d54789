// Package postgres implements the storage interfaces over PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/Dumoney00/dumoney-invesment-sub000/internal/domain/referral"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/domain/wallet"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.Store = (*Store)(nil)

// Open connects to the database and verifies the connection.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for the notification listener.
func (s *Store) DB() *sqlx.DB { return s.db }

type accountRow struct {
	ID                    string         `db:"id"`
	Name                  string         `db:"name"`
	DepositWallet         float64        `db:"deposit_wallet"`
	WithdrawalWallet      float64        `db:"withdrawal_wallet"`
	TotalDeposited        float64        `db:"total_deposited"`
	TotalWithdrawn        float64        `db:"total_withdrawn"`
	DailyIncomeRate       float64        `db:"daily_income_rate"`
	LastIncomeCollection  *time.Time     `db:"last_income_collection"`
	OwnedProducts         []byte         `db:"owned_products"`
	ReferralCode          string         `db:"referral_code"`
	ReferredByCode        sql.NullString `db:"referred_by_code"`
	ApprovedReferralCount int            `db:"approved_referral_count"`
	Blocked               bool           `db:"blocked"`
	CreatedAt             time.Time      `db:"created_at"`
	UpdatedAt             time.Time      `db:"updated_at"`
}

func (r accountRow) toDomain() (wallet.Account, error) {
	acct := wallet.Account{
		ID:                    r.ID,
		Name:                  r.Name,
		DepositWallet:         r.DepositWallet,
		WithdrawalWallet:      r.WithdrawalWallet,
		TotalDeposited:        r.TotalDeposited,
		TotalWithdrawn:        r.TotalWithdrawn,
		DailyIncomeRate:       r.DailyIncomeRate,
		LastIncomeCollection:  r.LastIncomeCollection,
		ReferralCode:          r.ReferralCode,
		ReferredByCode:        r.ReferredByCode.String,
		ApprovedReferralCount: r.ApprovedReferralCount,
		Blocked:               r.Blocked,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}
	if len(r.OwnedProducts) > 0 {
		if err := json.Unmarshal(r.OwnedProducts, &acct.OwnedProducts); err != nil {
			return wallet.Account{}, err
		}
	}
	return acct, nil
}

func accountToRow(acct wallet.Account) (accountRow, error) {
	products, err := json.Marshal(acct.OwnedProducts)
	if err != nil {
		return accountRow{}, err
	}
	return accountRow{
		ID:                    acct.ID,
		Name:                  acct.Name,
		DepositWallet:         acct.DepositWallet,
		WithdrawalWallet:      acct.WithdrawalWallet,
		TotalDeposited:        acct.TotalDeposited,
		TotalWithdrawn:        acct.TotalWithdrawn,
		DailyIncomeRate:       acct.DailyIncomeRate,
		LastIncomeCollection:  acct.LastIncomeCollection,
		OwnedProducts:         products,
		ReferralCode:          acct.ReferralCode,
		ReferredByCode:        sql.NullString{String: acct.ReferredByCode, Valid: acct.ReferredByCode != ""},
		ApprovedReferralCount: acct.ApprovedReferralCount,
		Blocked:               acct.Blocked,
		CreatedAt:             acct.CreatedAt,
		UpdatedAt:             acct.UpdatedAt,
	}, nil
}

// --- AccountStore -----------------------------------------------------------

func (s *Store) CreateAccount(ctx context.Context, acct wallet.Account) (wallet.Account, error) {
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	row, err := accountToRow(acct)
	if err != nil {
		return wallet.Account{}, err
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO accounts (id, name, deposit_wallet, withdrawal_wallet, total_deposited,
			total_withdrawn, daily_income_rate, last_income_collection, owned_products,
			referral_code, referred_by_code, approved_referral_count, blocked, created_at, updated_at)
		VALUES (:id, :name, :deposit_wallet, :withdrawal_wallet, :total_deposited,
			:total_withdrawn, :daily_income_rate, :last_income_collection, :owned_products,
			:referral_code, :referred_by_code, :approved_referral_count, :blocked, :created_at, :updated_at)
	`, row)
	if err != nil {
		return wallet.Account{}, err
	}
	return acct, nil
}

func (s *Store) UpdateAccount(ctx context.Context, acct wallet.Account) (wallet.Account, error) {
	acct.UpdatedAt = time.Now().UTC()
	row, err := accountToRow(acct)
	if err != nil {
		return wallet.Account{}, err
	}

	result, err := s.db.NamedExecContext(ctx, `
		UPDATE accounts
		SET name = :name, deposit_wallet = :deposit_wallet, withdrawal_wallet = :withdrawal_wallet,
			total_deposited = :total_deposited, total_withdrawn = :total_withdrawn,
			daily_income_rate = :daily_income_rate, last_income_collection = :last_income_collection,
			owned_products = :owned_products, referred_by_code = :referred_by_code,
			approved_referral_count = :approved_referral_count, blocked = :blocked, updated_at = :updated_at
		WHERE id = :id
	`, row)
	if err != nil {
		return wallet.Account{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return wallet.Account{}, wallet.ErrAccountNotFound
	}
	return acct, nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (wallet.Account, error) {
	var row accountRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM accounts WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return wallet.Account{}, wallet.ErrAccountNotFound
	}
	if err != nil {
		return wallet.Account{}, err
	}
	return row.toDomain()
}

func (s *Store) GetAccountByReferralCode(ctx context.Context, code string) (wallet.Account, error) {
	var row accountRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM accounts WHERE lower(referral_code) = lower($1)`, code)
	if errors.Is(err, sql.ErrNoRows) {
		return wallet.Account{}, wallet.ErrAccountNotFound
	}
	if err != nil {
		return wallet.Account{}, err
	}
	return row.toDomain()
}

func (s *Store) ListAccounts(ctx context.Context) ([]wallet.Account, error) {
	var rows []accountRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM accounts ORDER BY created_at`); err != nil {
		return nil, err
	}
	accounts := make([]wallet.Account, 0, len(rows))
	for _, row := range rows {
		acct, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acct)
	}
	return accounts, nil
}

// --- TransactionStore -------------------------------------------------------

type transactionRow struct {
	ID                string         `db:"id"`
	AccountID         string         `db:"account_id"`
	Type              string         `db:"type"`
	Amount            float64        `db:"amount"`
	Status            string         `db:"status"`
	Timestamp         time.Time      `db:"timestamp"`
	Details           sql.NullString `db:"details"`
	ProductID         sql.NullString `db:"product_id"`
	Destination       []byte         `db:"withdrawal_destination"`
	ApproverID        sql.NullString `db:"approver_id"`
	ApprovalTimestamp *time.Time     `db:"approval_timestamp"`
}

func (r transactionRow) toDomain() (wallet.TransactionRecord, error) {
	tx := wallet.TransactionRecord{
		ID:                r.ID,
		AccountID:         r.AccountID,
		Type:              wallet.TxType(r.Type),
		Amount:            r.Amount,
		Status:            wallet.TxStatus(r.Status),
		Timestamp:         r.Timestamp,
		Details:           r.Details.String,
		ProductID:         r.ProductID.String,
		ApproverID:        r.ApproverID.String,
		ApprovalTimestamp: r.ApprovalTimestamp,
	}
	if len(r.Destination) > 0 {
		var dest wallet.WithdrawalDestination
		if err := json.Unmarshal(r.Destination, &dest); err != nil {
			return wallet.TransactionRecord{}, err
		}
		tx.WithdrawalDestination = &dest
	}
	return tx, nil
}

func (s *Store) AppendTransaction(ctx context.Context, tx wallet.TransactionRecord) (wallet.TransactionRecord, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now().UTC()
	}

	var destination []byte
	if tx.WithdrawalDestination != nil {
		var err error
		destination, err = json.Marshal(tx.WithdrawalDestination)
		if err != nil {
			return wallet.TransactionRecord{}, err
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, account_id, type, amount, status, timestamp, details,
			product_id, withdrawal_destination, approver_id, approval_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, tx.ID, tx.AccountID, string(tx.Type), tx.Amount, string(tx.Status), tx.Timestamp,
		nullable(tx.Details), nullable(tx.ProductID), destination, nullable(tx.ApproverID), tx.ApprovalTimestamp)
	if err != nil {
		return wallet.TransactionRecord{}, err
	}
	return tx, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (wallet.TransactionRecord, error) {
	var row transactionRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM transactions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return wallet.TransactionRecord{}, wallet.ErrTxNotFound
	}
	if err != nil {
		return wallet.TransactionRecord{}, err
	}
	return row.toDomain()
}

func (s *Store) ListTransactions(ctx context.Context, accountID string, limit int) ([]wallet.TransactionRecord, error) {
	query := `SELECT * FROM transactions ORDER BY timestamp DESC, id DESC`
	args := []interface{}{}
	if accountID != "" {
		query = `SELECT * FROM transactions WHERE account_id = $1 ORDER BY timestamp DESC, id DESC`
		args = append(args, accountID)
	}
	if limit > 0 {
		query += " LIMIT " + strconv.Itoa(limit)
	}

	var rows []transactionRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	txs := make([]wallet.TransactionRecord, 0, len(rows))
	for _, row := range rows {
		tx, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// --- ReferralStore ----------------------------------------------------------

type referralRow struct {
	ID                string         `db:"id"`
	ReferrerAccountID string         `db:"referrer_account_id"`
	ReferredAccountID string         `db:"referred_account_id"`
	Status            string         `db:"status"`
	BonusAmount       float64        `db:"bonus_amount"`
	TransactionAmount float64        `db:"transaction_amount"`
	TierName          sql.NullString `db:"tier_name"`
	DateCreated       time.Time      `db:"date_created"`
	DateUpdated       time.Time      `db:"date_updated"`
	AdminComment      sql.NullString `db:"admin_comment"`
	ApproverID        sql.NullString `db:"approver_id"`
}

func (r referralRow) toDomain() referral.Record {
	return referral.Record{
		ID:                r.ID,
		ReferrerAccountID: r.ReferrerAccountID,
		ReferredAccountID: r.ReferredAccountID,
		Status:            referral.Status(r.Status),
		BonusAmount:       r.BonusAmount,
		TransactionAmount: r.TransactionAmount,
		TierName:          r.TierName.String,
		DateCreated:       r.DateCreated,
		DateUpdated:       r.DateUpdated,
		AdminComment:      r.AdminComment.String,
		ApproverID:        r.ApproverID.String,
	}
}

func (s *Store) CreateReferral(ctx context.Context, rec referral.Record) (referral.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rec.DateCreated = now
	rec.DateUpdated = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO referrals (id, referrer_account_id, referred_account_id, status, bonus_amount,
			transaction_amount, tier_name, date_created, date_updated, admin_comment, approver_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, rec.ID, rec.ReferrerAccountID, rec.ReferredAccountID, string(rec.Status), rec.BonusAmount,
		rec.TransactionAmount, nullable(rec.TierName), rec.DateCreated, rec.DateUpdated,
		nullable(rec.AdminComment), nullable(rec.ApproverID))
	if err != nil {
		return referral.Record{}, err
	}
	return rec, nil
}

func (s *Store) UpdateReferral(ctx context.Context, rec referral.Record) (referral.Record, error) {
	rec.DateUpdated = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE referrals
		SET status = $2, bonus_amount = $3, tier_name = $4, date_updated = $5,
			admin_comment = $6, approver_id = $7
		WHERE id = $1
	`, rec.ID, string(rec.Status), rec.BonusAmount, nullable(rec.TierName), rec.DateUpdated,
		nullable(rec.AdminComment), nullable(rec.ApproverID))
	if err != nil {
		return referral.Record{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return referral.Record{}, referral.ErrNotFound
	}
	return rec, nil
}

func (s *Store) GetReferral(ctx context.Context, id string) (referral.Record, error) {
	var row referralRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM referrals WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return referral.Record{}, referral.ErrNotFound
	}
	if err != nil {
		return referral.Record{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListReferrals(ctx context.Context, status referral.Status, referrerID string) ([]referral.Record, error) {
	query := `SELECT * FROM referrals WHERE ($1 = '' OR status = $1) AND ($2 = '' OR referrer_account_id = $2)
		ORDER BY date_created DESC, id DESC`

	var rows []referralRow
	if err := s.db.SelectContext(ctx, &rows, query, string(status), referrerID); err != nil {
		return nil, err
	}
	recs := make([]referral.Record, 0, len(rows))
	for _, row := range rows {
		recs = append(recs, row.toDomain())
	}
	return recs, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
