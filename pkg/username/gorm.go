package username

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vango-dev/tether/pkg/protocol"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Account is the row that owns a username.
//
//	CREATE TABLE accounts (
//	    id UUID PRIMARY KEY,
//	    username VARCHAR(24) NOT NULL UNIQUE,
//	    created_at TIMESTAMP WITH TIME ZONE
//	);
type Account struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Username  string    `gorm:"size:24;not null;uniqueIndex"`
	CreatedAt time.Time
}

// GormStore looks usernames up in a PostgreSQL accounts table.
type GormStore struct {
	db *gorm.DB
}

// GormOption configures OpenGormStore.
type GormOption func(*gorm.Config)

// WithGormLogger replaces gorm's logger. The default is silent.
func WithGormLogger(l logger.Interface) GormOption {
	return func(c *gorm.Config) {
		c.Logger = l
	}
}

// WithDryRun builds statements without executing them or connecting.
func WithDryRun() GormOption {
	return func(c *gorm.Config) {
		c.DryRun = true
		c.DisableAutomaticPing = true
	}
}

// OpenGormStore connects to PostgreSQL using dsn.
func OpenGormStore(dsn string, opts ...GormOption) (*GormStore, error) {
	config := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	}
	for _, opt := range opts {
		opt(config)
	}
	db, err := gorm.Open(postgres.Open(dsn), config)
	if err != nil {
		return nil, fmt.Errorf("username: open postgres: %w", err)
	}
	return &GormStore{db: db}, nil
}

// NewGormStore wraps an existing connection.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DB returns the underlying gorm.DB instance.
func (s *GormStore) DB() *gorm.DB {
	if s == nil {
		return nil
	}
	return s.db
}

// Migrate creates or updates the accounts table.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&Account{})
}

// IsAvailable reports whether no account row holds name.
func (s *GormStore) IsAvailable(ctx context.Context, name protocol.Username) (bool, error) {
	var n int64
	if err := s.availabilityQuery(s.db.WithContext(ctx), name).Count(&n).Error; err != nil {
		return false, fmt.Errorf("username: count %q: %w", name, err)
	}
	return n == 0, nil
}

func (s *GormStore) availabilityQuery(tx *gorm.DB, name protocol.Username) *gorm.DB {
	return tx.Model(&Account{}).Where("username = ?", string(name))
}

// Reserve inserts an account row for name, or confirms account already
// owns it.
func (s *GormStore) Reserve(ctx context.Context, name protocol.Username, account uuid.UUID) error {
	row := Account{ID: account, Username: string(name)}
	err := s.db.WithContext(ctx).Create(&row).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("username: reserve %q: %w", name, err)
	}

	var existing Account
	if err := s.db.WithContext(ctx).Where("username = ?", string(name)).Take(&existing).Error; err != nil {
		return fmt.Errorf("username: reserve %q: %w", name, err)
	}
	if existing.ID != account {
		return ErrTaken
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
