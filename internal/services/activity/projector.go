// Package activity maintains a deduplicated, ordered projection of recent
// ledger activity across clients, blending a push channel with adaptive
// polling.
package activity

import (
	"fmt"
	"sort"

	"github.com/Dumoney00/dumoney-invesment-sub000/internal/domain/activity"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/domain/wallet"
)

// NameResolver maps an account id to a display name. A nil resolver leaves
// the account id as the actor name.
type NameResolver func(accountID string) string

// Project maps transaction records to display-ready events, newest first.
// The mapping is pure; events are recomputed on every fetch and never
// persisted.
func Project(recs []wallet.TransactionRecord, names NameResolver) []activity.Event {
	events := make([]activity.Event, 0, len(recs))
	for _, rec := range recs {
		actor := rec.AccountID
		if names != nil {
			if n := names(rec.AccountID); n != "" {
				actor = n
			}
		}
		events = append(events, activity.Event{
			ID:        rec.ID,
			Type:      string(rec.Type),
			ActorName: actor,
			Amount:    rec.Amount,
			Timestamp: rec.Timestamp,
			Status:    string(rec.Status),
			Detail:    detailFor(rec),
		})
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Before(events[j]) })
	return events
}

func detailFor(rec wallet.TransactionRecord) string {
	if rec.Details != "" {
		return rec.Details
	}
	switch rec.Type {
	case wallet.TxDeposit:
		return fmt.Sprintf("Deposited %.2f", rec.Amount)
	case wallet.TxWithdraw:
		return fmt.Sprintf("Withdrew %.2f", rec.Amount)
	case wallet.TxPurchase:
		return fmt.Sprintf("Purchased product %s", rec.ProductID)
	case wallet.TxSale:
		return fmt.Sprintf("Sold product %s", rec.ProductID)
	case wallet.TxDailyIncome:
		return fmt.Sprintf("Collected %.2f daily income", rec.Amount)
	case wallet.TxReferralBonus:
		return fmt.Sprintf("Earned %.2f referral bonus", rec.Amount)
	case wallet.TxAccountCreated:
		return "Account registered"
	case wallet.TxAccountActivity:
		return "Account activity"
	case wallet.TxAccountUpdate:
		return "Account details updated"
	case wallet.TxAccountSecurity:
		return "Security event"
	}
	return string(rec.Type)
}
