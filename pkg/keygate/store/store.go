// Package store is the persistent record store for license keys
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mikepea/keygate/pkg/keygate/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound  = errors.New("key not found")
	ErrDuplicate = errors.New("key already exists")
)

// Filter narrows List results. Nil fields do not filter.
type Filter struct {
	Banned *bool
	Bound  *bool
}

// KeyStore is the keyed record store used by verification, admin and gate handlers
type KeyStore interface {
	Get(ctx context.Context, id string) (*models.Key, error)
	Exists(ctx context.Context, id string) (bool, error)
	// Insert fails with ErrDuplicate instead of overwriting an existing key
	Insert(ctx context.Context, key *models.Key) error
	List(ctx context.Context, filter Filter) ([]models.Key, error)
	SetBanned(ctx context.Context, id string, banned bool) error
	// ResetHWID clears hwid and activated_at so the key can bind again
	ResetHWID(ctx context.Context, id string) error
	// MarkUnlocked sets the gate flag. It never clears it.
	MarkUnlocked(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	// BindHWID sets hwid and activated_at only if the key is currently unbound.
	// It reports false when another writer bound the key first (or it is gone).
	BindHWID(ctx context.Context, id, hwid string, at time.Time) (bool, error)
}

type keyStore struct {
	db *gorm.DB
}

// NewKeyStore creates a gorm-backed key store
func NewKeyStore(db *gorm.DB) KeyStore {
	return &keyStore{db: db}
}

func (s *keyStore) Get(ctx context.Context, id string) (*models.Key, error) {
	var key models.Key
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get key %s: %w", id, err)
	}
	return &key, nil
}

func (s *keyStore) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Key{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("count key %s: %w", id, err)
	}
	return count > 0, nil
}

func (s *keyStore) Insert(ctx context.Context, key *models.Key) error {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(key)
	if res.Error != nil {
		return fmt.Errorf("insert key %s: %w", key.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *keyStore) List(ctx context.Context, filter Filter) ([]models.Key, error) {
	query := s.db.WithContext(ctx).Model(&models.Key{}).Order("created_at DESC")

	if filter.Banned != nil {
		query = query.Where("banned = ?", *filter.Banned)
	}
	if filter.Bound != nil {
		if *filter.Bound {
			query = query.Where("hwid IS NOT NULL")
		} else {
			query = query.Where("hwid IS NULL")
		}
	}

	var keys []models.Key
	if err := query.Find(&keys).Error; err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return keys, nil
}

func (s *keyStore) SetBanned(ctx context.Context, id string, banned bool) error {
	return s.update(ctx, id, map[string]interface{}{"banned": banned})
}

func (s *keyStore) ResetHWID(ctx context.Context, id string) error {
	return s.update(ctx, id, map[string]interface{}{"hwid": nil, "activated_at": nil})
}

func (s *keyStore) MarkUnlocked(ctx context.Context, id string) error {
	return s.update(ctx, id, map[string]interface{}{"unlocked": true})
}

func (s *keyStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&models.Key{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete key %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *keyStore) BindHWID(ctx context.Context, id, hwid string, at time.Time) (bool, error) {
	var bound bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The WHERE clause is the precondition: only one UPDATE can match a NULL hwid.
		res := tx.Model(&models.Key{}).
			Where("id = ? AND hwid IS NULL", id).
			Updates(map[string]interface{}{"hwid": hwid, "activated_at": at})
		if res.Error != nil {
			return res.Error
		}
		bound = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("bind key %s: %w", id, err)
	}
	return bound, nil
}

func (s *keyStore) update(ctx context.Context, id string, fields map[string]interface{}) error {
	res := s.db.WithContext(ctx).Model(&models.Key{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("update key %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
