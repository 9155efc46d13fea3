package domain

import "time"

// CouponCode status. DISABLED is terminal: a coupon never re-enables once
// redeemed.
const (
	CouponStatusActive   = "ACTIVE"
	CouponStatusDisabled = "DISABLED"
)

// CouponCode is a single-use activation code minted out-of-band:
// UsedCount transitions 0->1 at most once, atomically with Status
// flipping to DISABLED.
type CouponCode struct {
	ID        int64      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Code      string     `gorm:"column:code;uniqueIndex;not null" json:"code"`
	Credits   int        `gorm:"column:credits;not null" json:"credits"`
	UsedCount int        `gorm:"column:used_count;not null;default:0" json:"used_count"`
	ExpiresAt *time.Time `gorm:"column:expires_at" json:"expires_at,omitempty"`
	Status    string     `gorm:"column:status;not null;index" json:"status"`
	Source    string     `gorm:"column:source" json:"source,omitempty"`
	CreatedAt time.Time  `gorm:"column:created_at;not null;index" json:"created_at"`
	UpdatedAt time.Time  `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (CouponCode) TableName() string { return "coupon_codes" }

// Exhausted reports whether the coupon has already been redeemed.
func (c *CouponCode) Exhausted() bool {
	return c.UsedCount >= 1 || c.Status == CouponStatusDisabled
}

// Expired reports whether the coupon's expiry has passed.
func (c *CouponCode) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}
