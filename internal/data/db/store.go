package db

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/PoetCoderJun/autocut-backend/internal/platform/envutil"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/logger"
)

// Mode selects between the two supported deployment shapes.
type Mode string

const (
	// ModeLocalOnly: a single sqlite file (primary.db) is the relational
	// store. No replication, no remote primary. The queue lives in its own
	// sqlite file in either mode.
	ModeLocalOnly Mode = "local_only"
	// ModeReplicated: postgres is the remote primary; a local sqlite file
	// receives a periodic copy of recently-changed users rows. All reads and
	// writes go through Primary().
	ModeReplicated Mode = "replicated"
)

// Store abstracts the relational layer so the two deployment shapes are
// interchangeable at startup. Both implementations expose the same Primary
// handle for writes; Replicated additionally runs a periodic sync of
// recently-changed rows into a local replica file, the same shape as an
// embedded-replica driver's catch-up sync.
type Store interface {
	Mode() Mode
	Primary() *gorm.DB
	Close() error
}

type localStore struct {
	sqlite *SqliteService
}

func (s *localStore) Mode() Mode        { return ModeLocalOnly }
func (s *localStore) Primary() *gorm.DB { return s.sqlite.DB() }
func (s *localStore) Close() error {
	sqlDB, err := s.sqlite.DB().DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// replicatedStore mirrors the users table into a local sqlite replica. The
// replica is not exposed through Store: every read and write goes through
// Primary(). Coupons and the ledger are not mirrored; job metadata lives on
// disk and is never in this table set at all.
type replicatedStore struct {
	log      *logger.Logger
	primary  *PostgresService
	replica  *SqliteService
	stopSync chan struct{}
}

func (s *replicatedStore) Mode() Mode        { return ModeReplicated }
func (s *replicatedStore) Primary() *gorm.DB { return s.primary.DB() }
func (s *replicatedStore) Close() error {
	close(s.stopSync)
	sqlDB, err := s.replica.DB().DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// startSync periodically copies users rows updated since the last
// successful tick into the replica (its schema is migrated once, by
// NewStore). Application writes always go through Primary().
func (s *replicatedStore) startSync(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		last := time.Time{}
		for {
			select {
			case <-s.stopSync:
				return
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if err := s.syncOnce(ctx, last); err != nil {
					s.log.Warn("replica sync failed", "error", err)
					continue
				}
				last = now
			}
		}
	}()
}

func (s *replicatedStore) syncOnce(ctx context.Context, since time.Time) error {
	rows, err := s.primary.DB().WithContext(ctx).Table("users").
		Where("updated_at > ?", since).Rows()
	if err != nil {
		return err
	}
	defer rows.Close()
	// Row-by-row upsert into the replica keeps this independent of the
	// primary's exact column set evolving; ScanRows + Save round-trips the
	// model so AutoMigrate-managed columns stay in sync automatically.
	for rows.Next() {
		var m map[string]interface{}
		if err := s.primary.DB().ScanRows(rows, &m); err != nil {
			return err
		}
		if err := s.replica.DB().WithContext(ctx).Table("users").
			Where("user_id = ?", m["user_id"]).Save(m).Error; err != nil {
			return fmt.Errorf("replica upsert: %w", err)
		}
	}
	return nil
}

// NewStore builds the Store for the configured mode: WEB_DB_LOCAL_ONLY
// (default true) selects the single-file deployment; setting it false
// enables the replicated remote-primary + local-replica pair.
func NewStore(ctx context.Context, logg *logger.Logger) (Store, error) {
	mode := ModeLocalOnly
	if !envutil.Bool("WEB_DB_LOCAL_ONLY", true) {
		mode = ModeReplicated
	}
	switch mode {
	case ModeReplicated:
		pg, err := NewPostgresService(logg)
		if err != nil {
			return nil, err
		}
		replica, err := NewSqliteService(logg, "replica.db")
		if err != nil {
			return nil, err
		}
		if err := AutoMigrateAll(pg.DB()); err != nil {
			return nil, err
		}
		if err := AutoMigrateAll(replica.DB()); err != nil {
			return nil, err
		}
		st := &replicatedStore{log: logg.With("component", "ReplicatedStore"), primary: pg, replica: replica, stopSync: make(chan struct{})}
		st.startSync(ctx, envutil.Duration("REPLICA_SYNC_INTERVAL", 5*time.Second))
		return st, nil
	case ModeLocalOnly:
		sq, err := NewSqliteService(logg, "primary.db")
		if err != nil {
			return nil, err
		}
		if err := AutoMigrateAll(sq.DB()); err != nil {
			return nil, err
		}
		return &localStore{sqlite: sq}, nil
	default:
		return nil, fmt.Errorf("unknown STORE_MODE: %s", mode)
	}
}
