package domain

import "time"

// User lifecycle: PENDING_COUPON until the first successful coupon
// redemption, ACTIVE (one-way) thereafter.
const (
	UserStatusPendingCoupon = "PENDING_COUPON"
	UserStatusActive        = "ACTIVE"
)

// User is identified externally by an opaque identity-provider subject
// (the JWT `sub` claim), not a password. It is materialized lazily on first
// authenticated request, so UserID is the JWT subject
// itself rather than a server-minted surrogate key.
type User struct {
	UserID      string     `gorm:"column:user_id;primaryKey" json:"user_id"`
	Email       string     `gorm:"column:email;index" json:"email,omitempty"`
	Status      string     `gorm:"column:status;not null;index" json:"status"`
	ActivatedAt *time.Time `gorm:"column:activated_at" json:"activated_at,omitempty"`
	CreatedAt   time.Time  `gorm:"column:created_at;not null;index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (User) TableName() string { return "users" }
