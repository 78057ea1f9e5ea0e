// Package matrixstore persists probability matrices and publishes the
// single active snapshot the decision engine reads at startup and on
// hot-reload. Backed by gorm with the same sqlite/postgres dual-backend
// selection and transactional upsert idiom as internal/database.
package matrixstore

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/web3guy0/btc15m/internal/matrixbuilder"
)

// DefaultRetention is the number of most-recent snapshots kept; older rows
// are dropped on each save.
const DefaultRetention = 10

// snapshotRecord is the gorm model backing one persisted matrix. Queried
// only through Store's save/load_active contract, never directly by other
// packages.
type snapshotRecord struct {
	ID        uint `gorm:"primaryKey"`
	IsActive  bool `gorm:"index"`
	Payload   string
	CreatedAt time.Time
}

func (snapshotRecord) TableName() string { return "matrix_snapshots" }

// Store wraps a gorm connection dedicated to matrix persistence.
type Store struct {
	db        *gorm.DB
	retention int
}

// Open connects to dsn (a sqlite file path, or a postgres://.../postgresql://
// DSN) and auto-migrates the snapshot table.
func Open(dsn string) (*Store, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("opening matrix store database: %w", err)
	}
	if err := db.AutoMigrate(&snapshotRecord{}); err != nil {
		return nil, fmt.Errorf("migrating matrix store schema: %w", err)
	}
	return &Store{db: db, retention: DefaultRetention}, nil
}

// Save marks any previously-active snapshot inactive and inserts the new
// one active, atomically, then trims rows beyond the retention window. All
// within a single transaction.
func (s *Store) Save(m *matrixbuilder.Matrix) (uint, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return 0, fmt.Errorf("serializing matrix: %w", err)
	}

	rec := snapshotRecord{IsActive: true, Payload: string(payload), CreatedAt: time.Now().UTC()}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&snapshotRecord{}).Where("is_active = ?", true).
			Update("is_active", false).Error; err != nil {
			return fmt.Errorf("deactivating previous snapshot: %w", err)
		}
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("inserting snapshot: %w", err)
		}

		var ids []uint
		if err := tx.Model(&snapshotRecord{}).
			Order("id desc").Offset(s.retention).Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("finding retention overflow: %w", err)
		}
		if len(ids) > 0 {
			if err := tx.Where("id IN ?", ids).Delete(&snapshotRecord{}).Error; err != nil {
				return fmt.Errorf("trimming old snapshots: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	log.Info().Uint("snapshot_id", rec.ID).Msg("matrix snapshot saved and activated")
	return rec.ID, nil
}

// LoadActive returns the single active snapshot, or nil if none exists.
func (s *Store) LoadActive() (*matrixbuilder.Matrix, error) {
	var rec snapshotRecord
	err := s.db.Where("is_active = ?", true).First(&rec).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading active snapshot: %w", err)
	}

	var m matrixbuilder.Matrix
	if err := json.Unmarshal([]byte(rec.Payload), &m); err != nil {
		return nil, fmt.Errorf("deserializing active snapshot: %w", err)
	}
	return &m, nil
}
