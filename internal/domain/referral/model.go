// Package referral defines referral records and commission tiers.
package referral

import (
	"errors"
	"time"
)

// Status is the referral record lifecycle state. Approved and rejected are
// terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Record is one referral commission awaiting admin review. Created when a
// referred account transacts; mutated only by the bonus engine's approve and
// reject operations.
type Record struct {
	ID                string    `json:"id"`
	ReferrerAccountID string    `json:"referrer_account_id"`
	ReferredAccountID string    `json:"referred_account_id"`
	Status            Status    `json:"status"`
	BonusAmount       float64   `json:"bonus_amount"`
	TransactionAmount float64   `json:"transaction_amount"`
	TierName          string    `json:"tier_name"`
	DateCreated       time.Time `json:"date_created"`
	DateUpdated       time.Time `json:"date_updated"`
	AdminComment      string    `json:"admin_comment,omitempty"`
	ApproverID        string    `json:"approver_id,omitempty"`
}

// Tier is one commission bracket. Tiers are ordered ascending by
// MinReferrals; the highest tier whose threshold is at or below the
// referrer's approved count applies.
type Tier struct {
	Name         string  `yaml:"name" json:"name"`
	MinReferrals int     `yaml:"min_referrals" json:"min_referrals"`
	BonusPercent float64 `yaml:"bonus_percent" json:"bonus_percent"`
}

// DefaultTiers is the commission table used when none is configured.
var DefaultTiers = []Tier{
	{Name: "bronze", MinReferrals: 0, BonusPercent: 10},
	{Name: "silver", MinReferrals: 5, BonusPercent: 15},
	{Name: "gold", MinReferrals: 20, BonusPercent: 25},
}

// SelectTier returns the highest tier whose MinReferrals threshold is at or
// below approvedCount. Tiers must be ordered ascending by threshold. An
// exact threshold match selects that tier, not the one below it. A count
// below the lowest threshold qualifies for no tier at all.
func SelectTier(tiers []Tier, approvedCount int) (Tier, error) {
	if len(tiers) == 0 {
		return Tier{}, errors.New("no tiers configured")
	}
	if approvedCount < tiers[0].MinReferrals {
		return Tier{}, ErrNoTier
	}
	selected := tiers[0]
	for _, t := range tiers[1:] {
		if approvedCount >= t.MinReferrals {
			selected = t
		}
	}
	return selected, nil
}

// Bonus computes the commission for a transaction amount under the tier.
func (t Tier) Bonus(amount float64) float64 {
	return amount * t.BonusPercent / 100
}

// Sentinel errors for lifecycle violations.
var (
	ErrNotFound       = errors.New("referral record not found")
	ErrTerminalState  = errors.New("referral record already resolved")
	ErrReasonRequired = errors.New("rejection reason is required")
	ErrNoTier         = errors.New("approved count below the lowest tier")
)
