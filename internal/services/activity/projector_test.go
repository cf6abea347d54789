package activity

import (
	"testing"
	"time"

	"github.com/Dumoney00/dumoney-invesment-sub000/internal/domain/wallet"
)

func TestProjectOrdersNewestFirst(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	recs := []wallet.TransactionRecord{
		{ID: "a", AccountID: "acct", Type: wallet.TxDeposit, Amount: 10, Timestamp: base},
		{ID: "c", AccountID: "acct", Type: wallet.TxWithdraw, Amount: 5, Timestamp: base.Add(2 * time.Minute)},
		{ID: "b", AccountID: "acct", Type: wallet.TxSale, Amount: 7, Timestamp: base.Add(time.Minute)},
	}

	events := Project(recs, nil)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, want := range []string{"c", "b", "a"} {
		if events[i].ID != want {
			t.Fatalf("position %d: got %s, want %s", i, events[i].ID, want)
		}
	}
}

func TestProjectEqualTimestampsTieBreakByID(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	recs := []wallet.TransactionRecord{
		{ID: "0001-x", Timestamp: ts, Type: wallet.TxDeposit},
		{ID: "0003-z", Timestamp: ts, Type: wallet.TxDeposit},
		{ID: "0002-y", Timestamp: ts, Type: wallet.TxDeposit},
	}

	events := Project(recs, nil)
	for i, want := range []string{"0003-z", "0002-y", "0001-x"} {
		if events[i].ID != want {
			t.Fatalf("position %d: got %s, want %s", i, events[i].ID, want)
		}
	}

	// The ordering must not depend on input order.
	reversed := []wallet.TransactionRecord{recs[1], recs[2], recs[0]}
	again := Project(reversed, nil)
	for i := range events {
		if again[i].ID != events[i].ID {
			t.Fatalf("order depends on input order at %d: %s vs %s", i, again[i].ID, events[i].ID)
		}
	}
}

func TestProjectResolvesActorNames(t *testing.T) {
	recs := []wallet.TransactionRecord{
		{ID: "1", AccountID: "acct-1", Type: wallet.TxDeposit, Amount: 3, Timestamp: time.Now()},
		{ID: "2", AccountID: "acct-2", Type: wallet.TxDeposit, Amount: 4, Timestamp: time.Now()},
	}
	names := func(accountID string) string {
		if accountID == "acct-1" {
			return "Alice"
		}
		return ""
	}

	events := Project(recs, names)
	for _, e := range events {
		switch e.ID {
		case "1":
			if e.ActorName != "Alice" {
				t.Fatalf("name not resolved: %s", e.ActorName)
			}
		case "2":
			// Unresolved names fall back to the account id.
			if e.ActorName != "acct-2" {
				t.Fatalf("fallback actor wrong: %s", e.ActorName)
			}
		}
	}
}

func TestProjectDetailText(t *testing.T) {
	recs := []wallet.TransactionRecord{
		{ID: "1", Type: wallet.TxDeposit, Amount: 25, Timestamp: time.Now()},
		{ID: "2", Type: wallet.TxPurchase, ProductID: "fund-7", Timestamp: time.Now().Add(time.Second)},
		{ID: "3", Type: wallet.TxWithdraw, Details: "Bank transfer", Timestamp: time.Now().Add(2 * time.Second)},
	}

	events := Project(recs, nil)
	byID := map[string]string{}
	for _, e := range events {
		byID[e.ID] = e.Detail
	}
	if byID["1"] != "Deposited 25.00" {
		t.Fatalf("deposit detail: %q", byID["1"])
	}
	if byID["2"] != "Purchased product fund-7" {
		t.Fatalf("purchase detail: %q", byID["2"])
	}
	// Explicit details win over the generated text.
	if byID["3"] != "Bank transfer" {
		t.Fatalf("explicit detail lost: %q", byID["3"])
	}
}
