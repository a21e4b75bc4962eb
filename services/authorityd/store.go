package authorityd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// StatusIssued marks an authorization handed to a player.
const StatusIssued = "issued"

// ErrDuplicateAuthorization is returned when an authorization was already
// issued for the same player and nonce.
var ErrDuplicateAuthorization = errors.New("authorityd: authorization already issued for this nonce")

// AuthorizationRecord persists every signed cashout ceiling.
type AuthorizationRecord struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Player       string    `gorm:"size:64;not null;uniqueIndex:idx_authorization_player_nonce;index:idx_authorization_player_created"`
	Nonce        uint64    `gorm:"not null;uniqueIndex:idx_authorization_player_nonce"`
	MaxClaimable uint64    `gorm:"not null"`
	Expiry       int64     `gorm:"not null"`
	Signature    string    `gorm:"size:128;not null"`
	Status       string    `gorm:"size:16;not null"`
	CreatedAt    time.Time `gorm:"index:idx_authorization_player_created"`
}

// TableName pins the table name.
func (AuthorizationRecord) TableName() string { return "cashout_authorizations" }

// BeforeCreate assigns a UUID when none was set.
func (r *AuthorizationRecord) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// Store is the gorm-backed authorization ledger.
type Store struct {
	db *gorm.DB
}

// OpenStore connects to the configured database and migrates the schema.
func OpenStore(cfg DatabaseConfig) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return NewStore(db)
}

// NewStore wraps an open gorm handle and migrates the schema.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("authorityd: nil database")
	}
	if err := db.AutoMigrate(&AuthorizationRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Insert stores rec, enforcing one record per (player, nonce).
func (s *Store) Insert(ctx context.Context, rec *AuthorizationRecord) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&AuthorizationRecord{}).
			Where("player = ? AND nonce = ?", rec.Player, rec.Nonce).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicateAuthorization
		}
		if err := tx.Create(rec).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateAuthorization
			}
			return err
		}
		return nil
	})
}

// LastIssued returns the creation time of the newest record for player.
func (s *Store) LastIssued(ctx context.Context, player string) (time.Time, bool, error) {
	var rec AuthorizationRecord
	err := s.db.WithContext(ctx).
		Where("player = ?", player).
		Order("created_at DESC").
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return rec.CreatedAt, true, nil
}

// ListByPlayer returns the records issued to player, newest first.
func (s *Store) ListByPlayer(ctx context.Context, player string, limit int) ([]AuthorizationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []AuthorizationRecord
	err := s.db.WithContext(ctx).
		Where("player = ?", player).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
