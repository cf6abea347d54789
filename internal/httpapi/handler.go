// Package httpapi exposes the wallet, referral and activity services over
// REST.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	domainactivity "github.com/Dumoney00/dumoney-invesment-sub000/internal/domain/activity"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/domain/referral"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/domain/wallet"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/metrics"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/services/accrual"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/services/activity"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/services/ledger"
	referralsvc "github.com/Dumoney00/dumoney-invesment-sub000/internal/services/referral"
	"github.com/Dumoney00/dumoney-invesment-sub000/pkg/logger"
)

// Services bundles everything the handler serves.
type Services struct {
	Ledger    *ledger.Service
	Accrual   *accrual.Service
	Referrals *referralsvc.Service
	Activity  *activity.Manager
}

type handler struct {
	svc        Services
	adminToken string
	log        *logger.Logger
}

// NewHandler builds the router. adminToken guards the /admin subtree; an
// empty token disables those routes entirely.
func NewHandler(svc Services, adminToken string, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{svc: svc, adminToken: adminToken, log: log}

	r := mux.NewRouter()
	r.Use(instrument)
	r.HandleFunc("/health", h.handleHealth).Methods("GET")
	r.Handle("/metrics", metrics.Handler()).Methods("GET")

	r.HandleFunc("/accounts", h.handleCreateAccount).Methods("POST")
	r.HandleFunc("/accounts/{id}", h.handleGetAccount).Methods("GET")
	r.HandleFunc("/accounts/{id}/transactions", h.handleListTransactions).Methods("GET")
	r.HandleFunc("/accounts/{id}/deposit", h.handleDeposit).Methods("POST")
	r.HandleFunc("/accounts/{id}/withdraw", h.handleWithdraw).Methods("POST")
	r.HandleFunc("/accounts/{id}/purchase", h.handlePurchase).Methods("POST")
	r.HandleFunc("/accounts/{id}/sale", h.handleSale).Methods("POST")
	r.HandleFunc("/accounts/{id}/collect", h.handleCollect).Methods("POST")
	r.HandleFunc("/accounts/{id}/activity", h.handleActivity).Methods("GET")

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(h.requireAdminToken)
	admin.HandleFunc("/referrals", h.handleListReferrals).Methods("GET")
	admin.HandleFunc("/referrals/bulk-approve", h.handleBulkApprove).Methods("POST")
	admin.HandleFunc("/referrals/{id}/approve", h.handleApprove).Methods("POST")
	admin.HandleFunc("/referrals/{id}/reject", h.handleReject).Methods("POST")
	admin.HandleFunc("/transactions", h.handleAdminTransactions).Methods("GET")

	return r
}

// instrument labels request metrics with the route template rather than the
// raw path, keeping the label cardinality bounded.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := "unmatched"
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}
		metrics.InstrumentHandler(path, next).ServeHTTP(w, r)
	})
}

func (h *handler) requireAdminToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if h.adminToken == "" || token != h.adminToken {
			writeError(w, http.StatusForbidden, wallet.ErrPermissionDenied)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name           string `json:"name"`
		ReferralCode   string `json:"referral_code"`
		ReferredByCode string `json:"referred_by_code"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	acct, err := h.svc.Ledger.CreateAccount(r.Context(), payload.Name, payload.ReferralCode, payload.ReferredByCode)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

func (h *handler) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.svc.Ledger.Account(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (h *handler) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.svc.Ledger.Transactions(r.Context(), mux.Vars(r)["id"], queryLimit(r))
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (h *handler) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Amount  float64 `json:"amount"`
		Details string  `json:"details"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	acct, tx, err := h.svc.Ledger.Deposit(r.Context(), mux.Vars(r)["id"], payload.Amount, payload.Details)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeResult(w, acct, tx)
}

func (h *handler) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Amount      float64                       `json:"amount"`
		Destination *wallet.WithdrawalDestination `json:"destination"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	acct, tx, err := h.svc.Ledger.Withdraw(r.Context(), mux.Vars(r)["id"], payload.Amount, payload.Destination)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeResult(w, acct, tx)
}

func (h *handler) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ProductID   string  `json:"product_id"`
		Price       float64 `json:"price"`
		CycleDays   int     `json:"cycle_days"`
		DailyIncome float64 `json:"daily_income"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	accountID := mux.Vars(r)["id"]
	pos := wallet.ProductPosition{
		ProductID:    payload.ProductID,
		PurchaseDate: time.Now().UTC(),
		CycleDays:    payload.CycleDays,
		DailyIncome:  payload.DailyIncome,
	}
	acct, tx, err := h.svc.Ledger.Purchase(r.Context(), accountID, pos, payload.Price)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}

	// A completed purchase by a referred account opens a pending commission
	// for the referrer.
	if _, err := h.svc.Referrals.RecordPurchase(r.Context(), accountID, payload.Price); err != nil {
		h.log.WithError(err).WithField("account_id", accountID).Warn("referral record failed")
	}

	writeResult(w, acct, tx)
}

func (h *handler) handleSale(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ProductID string  `json:"product_id"`
		Proceeds  float64 `json:"proceeds"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	acct, tx, err := h.svc.Ledger.Sell(r.Context(), mux.Vars(r)["id"], payload.ProductID, payload.Proceeds)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeResult(w, acct, tx)
}

func (h *handler) handleCollect(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Accrual.Collect(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) handleActivity(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]
	if _, err := h.svc.Ledger.Account(r.Context(), accountID); err != nil {
		writeError(w, errorStatus(err), err)
		return
	}

	events, state, lastErr := h.svc.Activity.Snapshot(accountID)
	resp := struct {
		Events   []domainactivity.Event `json:"events"`
		State    string                 `json:"state"`
		Degraded bool                   `json:"degraded"`
		Error    string                 `json:"error,omitempty"`
	}{
		Events:   events,
		State:    string(state),
		Degraded: state != activity.StateSubscribed,
	}
	if resp.Events == nil {
		resp.Events = []domainactivity.Event{}
	}
	if lastErr != nil {
		resp.Error = lastErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) handleListReferrals(w http.ResponseWriter, r *http.Request) {
	status := referral.Status(r.URL.Query().Get("status"))
	recs, err := h.svc.Referrals.List(r.Context(), status, r.URL.Query().Get("referrer_id"))
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ApproverID string `json:"approver_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rec, err := h.svc.Referrals.Approve(r.Context(), mux.Vars(r)["id"], payload.ApproverID)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) handleReject(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ApproverID string `json:"approver_id"`
		Reason     string `json:"reason"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rec, err := h.svc.Referrals.Reject(r.Context(), mux.Vars(r)["id"], payload.ApproverID, payload.Reason)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) handleBulkApprove(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		IDs        []string `json:"ids"`
		ApproverID string   `json:"approver_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.svc.Referrals.BulkApprove(r.Context(), payload.IDs, payload.ApproverID)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) handleAdminTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.svc.Ledger.Transactions(r.Context(), "", queryLimit(r))
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func queryLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 50
}

// errorStatus maps service sentinels to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, wallet.ErrAccountNotFound),
		errors.Is(err, wallet.ErrProductNotFound),
		errors.Is(err, wallet.ErrTxNotFound),
		errors.Is(err, referral.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, wallet.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, wallet.ErrInvalidAmount),
		errors.Is(err, referral.ErrReasonRequired):
		return http.StatusBadRequest
	case errors.Is(err, wallet.ErrInsufficientFunds),
		errors.Is(err, wallet.ErrAccountBlocked),
		errors.Is(err, referral.ErrTerminalState),
		errors.Is(err, accrual.ErrNotEligible):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type txResult struct {
	Account     wallet.Account           `json:"account"`
	Transaction wallet.TransactionRecord `json:"transaction"`
}

func writeResult(w http.ResponseWriter, acct wallet.Account, tx wallet.TransactionRecord) {
	writeJSON(w, http.StatusOK, txResult{Account: acct, Transaction: tx})
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
