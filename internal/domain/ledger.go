package domain

import "time"

// Ledger reasons.
const (
	LedgerReasonCouponRedeem    = "COUPON_REDEEM"
	LedgerReasonJobStep1Success = "JOB_STEP1_SUCCESS"
)

// CreditLedgerEntry is one row of a double-entry credit ledger: every grant
// and every spend is its own signed row, never an update to a running
// balance column. IdempotencyKey carries a unique constraint and is the
// only deduplication mechanism in the system — a redemption
// or consumption retried with the same key is a no-op, not a second entry.
// A user's balance is always SUM(delta) WHERE user_id = ?.
type CreditLedgerEntry struct {
	EntryID        int64     `gorm:"column:entry_id;primaryKey;autoIncrement" json:"entry_id"`
	UserID         string    `gorm:"column:user_id;not null;index" json:"user_id"`
	Delta          int       `gorm:"column:delta;not null" json:"delta"`
	Reason         string    `gorm:"column:reason;not null" json:"reason"`
	JobID          *string   `gorm:"column:job_id;index" json:"job_id,omitempty"`
	IdempotencyKey string    `gorm:"column:idempotency_key;uniqueIndex;not null" json:"idempotency_key"`
	CreatedAt      time.Time `gorm:"column:created_at;not null;index" json:"created_at"`
}

func (CreditLedgerEntry) TableName() string { return "credit_ledger" }
