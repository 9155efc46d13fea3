package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/PoetCoderJun/autocut-backend/internal/domain"
)

// AutoMigrateAll creates/updates the relational schema. Queue tasks are
// migrated separately by NewQueue, since that table is managed outside GORM.
func AutoMigrateAll(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(
		&domain.User{},
		&domain.CouponCode{},
		&domain.CreditLedgerEntry{},
	); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	return nil
}
