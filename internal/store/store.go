package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/chowcity/chowcity-client/internal/models"
)

// Keys of the durable entries this client persists between runs.
const (
	KeyCart         = "cart"
	KeyUserProfile  = "user_profile"
	KeyPendingOrder = "pending_order"
)

// ErrNotFound is returned when a key has never been written.
var ErrNotFound = errors.New("store: not found")

// Entry is one durable key-value row. Values are JSON.
type Entry struct {
	Key       string `gorm:"primaryKey"`
	Value     []byte `gorm:"not null"`
	UpdatedAt int64  `gorm:"not null"`
}

func (Entry) TableName() string {
	return "entries"
}

// Store is the client's durable local state. Every write hits disk before
// returning, so a crash or restart never loses more than nothing.
type Store struct {
	db *gorm.DB
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store path is empty")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) put(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", key, err)
	}
	entry := Entry{Key: key, Value: data, UpdatedAt: time.Now().Unix()}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&entry).Error
}

func (s *Store) get(ctx context.Context, key string, v any) error {
	var entry Entry
	if err := s.db.WithContext(ctx).First(&entry, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	if err := json.Unmarshal(entry.Value, v); err != nil {
		return fmt.Errorf("store: unmarshal %s: %w", key, err)
	}
	return nil
}

func (s *Store) delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Delete(&Entry{}, "key = ?", key).Error
}

func (s *Store) SaveCart(ctx context.Context, items []models.CartItem) error {
	return s.put(ctx, KeyCart, items)
}

// LoadCart returns the persisted cart, or an empty cart when none was saved.
func (s *Store) LoadCart(ctx context.Context) ([]models.CartItem, error) {
	var items []models.CartItem
	if err := s.get(ctx, KeyCart, &items); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return items, nil
}

func (s *Store) SaveProfile(ctx context.Context, profile models.UserProfile) error {
	return s.put(ctx, KeyUserProfile, profile)
}

// LoadProfile returns the persisted profile, or nil when none was saved yet.
func (s *Store) LoadProfile(ctx context.Context) (*models.UserProfile, error) {
	var profile models.UserProfile
	if err := s.get(ctx, KeyUserProfile, &profile); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

// SavePendingOrder stashes the draft that bridges the payment redirect.
func (s *Store) SavePendingOrder(ctx context.Context, order models.Order) error {
	return s.put(ctx, KeyPendingOrder, order)
}

func (s *Store) LoadPendingOrder(ctx context.Context) (*models.Order, error) {
	var order models.Order
	if err := s.get(ctx, KeyPendingOrder, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Store) DeletePendingOrder(ctx context.Context) error {
	return s.delete(ctx, KeyPendingOrder)
}
