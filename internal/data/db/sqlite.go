package db

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/PoetCoderJun/autocut-backend/internal/platform/envutil"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/logger"
)

// SqliteService backs local-only mode (single-node deployment with no
// remote primary) and, in either mode, the queue and local replica files
// that live under WORK_DIR.
type SqliteService struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewSqliteService opens (creating if necessary) a sqlite database file at
// the given path relative to WORK_DIR.
func NewSqliteService(logg *logger.Logger, relPath string) (*SqliteService, error) {
	serviceLog := logg.With("service", "SqliteService", "path", relPath)

	workDir := envutil.String("WORK_DIR", "./work")
	path := filepath.Join(workDir, relPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sqlite parent dir: %w", err)
	}

	gdb, err := gorm.Open(sqlite.Open(path+"?_journal_mode=WAL&_synchronous=NORMAL"), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db at %s: %w", path, err)
	}

	return &SqliteService{db: gdb, log: serviceLog}, nil
}

func (s *SqliteService) DB() *gorm.DB { return s.db }
