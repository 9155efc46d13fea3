package repos

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/PoetCoderJun/autocut-backend/internal/domain"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/dbctx"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/logger"
)

// LedgerRepo is the only writer of CreditLedgerEntry rows. Every write goes
// through AppendEntry, whose idempotency-key uniqueness is the sole
// deduplication mechanism: a caller that retries the same
// key gets back the original entry instead of a second one, silently.
type LedgerRepo interface {
	AppendEntry(dbc dbctx.Context, entry *domain.CreditLedgerEntry) (entryOut *domain.CreditLedgerEntry, created bool, err error)
	Balance(dbc dbctx.Context, userID string) (int, error)
	Recent(dbc dbctx.Context, userID string, limit int) ([]*domain.CreditLedgerEntry, error)
}

type ledgerRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLedgerRepo(db *gorm.DB, baseLog *logger.Logger) LedgerRepo {
	return &ledgerRepo{db: db, log: baseLog.With("repo", "LedgerRepo")}
}

func (r *ledgerRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *ledgerRepo) AppendEntry(dbc dbctx.Context, entry *domain.CreditLedgerEntry) (*domain.CreditLedgerEntry, bool, error) {
	if entry.IdempotencyKey == "" {
		return nil, false, errors.New("ledger: idempotency_key is required")
	}

	tx := r.tx(dbc).WithContext(dbc.Context())
	if err := tx.Create(entry).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
			var existing domain.CreditLedgerEntry
			if getErr := tx.Where("idempotency_key = ?", entry.IdempotencyKey).First(&existing).Error; getErr != nil {
				return nil, false, getErr
			}
			return &existing, false, nil
		}
		return nil, false, err
	}
	return entry, true, nil
}

func (r *ledgerRepo) Balance(dbc dbctx.Context, userID string) (int, error) {
	var total int
	err := r.tx(dbc).WithContext(dbc.Context()).
		Model(&domain.CreditLedgerEntry{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(delta), 0)").
		Scan(&total).Error
	return total, err
}

func (r *ledgerRepo) Recent(dbc dbctx.Context, userID string, limit int) ([]*domain.CreditLedgerEntry, error) {
	var out []*domain.CreditLedgerEntry
	q := r.tx(dbc).WithContext(dbc.Context()).
		Where("user_id = ?", userID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return out, q.Find(&out).Error
}

// isUniqueViolation matches both the postgres and sqlite gorm drivers'
// unique-constraint error text, since gorm.ErrDuplicatedKey isn't raised
// uniformly by every driver version.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}
