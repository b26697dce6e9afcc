// Package store implements Relay's durable state store: a key/value layer
// over GORM with single-key atomicity and optimistic check-and-set.
//
// All durable state (session registry, task records, long-term memory)
// lives here under namespaced keys:
//
//	session:{user_id}:{session_id}
//	task:{user_id}:{session_id}:{task_id}
//	memory:{user_id}:{seq}
//
// Every write bumps the record's revision. CompareAndSet only applies when
// the caller's revision still matches, which is what makes task state
// transitions lost-update free when a status callback races another.
package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Record is one durable key/value entry.
type Record struct {
	Key       string `gorm:"column:record_key;primaryKey;size:256"`
	Value     string `gorm:"type:text"`
	Revision  int64  `gorm:"not null;default:1"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ErrRevisionMismatch is returned by CompareAndSet when the stored revision
// no longer matches the caller's, meaning a concurrent write won.
var ErrRevisionMismatch = errors.New("store: revision mismatch")

// ErrKeyNotFound is returned by Get when no record exists for the key.
var ErrKeyNotFound = errors.New("store: key not found")

// Store provides the state store contract over a GORM connection.
type Store struct {
	db *gorm.DB
}

// New wraps a GORM connection in a Store.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Get returns the value and revision for a key.
func (s *Store) Get(key string) (string, int64, error) {
	var rec Record
	err := s.db.Where("record_key = ?", key).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", 0, fmt.Errorf("store: get %s: %w", key, ErrKeyNotFound)
	}
	if err != nil {
		return "", 0, fmt.Errorf("store: get %s: %w", key, err)
	}
	return rec.Value, rec.Revision, nil
}

// Set writes a value unconditionally, creating the record or bumping its
// revision.
func (s *Store) Set(key, value string) error {
	rec := Record{Key: key, Value: value, Revision: 1}
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "record_key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"value":    value,
			"revision": gorm.Expr("revision + 1"),
		}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("store: set %s: %w", key, err)
	}
	return nil
}

// CompareAndSet writes a value only if the stored revision still equals
// expectedRevision. Returns ErrRevisionMismatch when it does not (including
// when the key has been deleted).
func (s *Store) CompareAndSet(key string, expectedRevision int64, value string) error {
	result := s.db.Model(&Record{}).
		Where("record_key = ? AND revision = ?", key, expectedRevision).
		Updates(map[string]interface{}{
			"value":    value,
			"revision": expectedRevision + 1,
		})
	if result.Error != nil {
		return fmt.Errorf("store: cas %s: %w", key, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("store: cas %s: %w", key, ErrRevisionMismatch)
	}
	return nil
}

// Delete removes a key. Deleting an absent key is a no-op.
func (s *Store) Delete(key string) error {
	if err := s.db.Where("record_key = ?", key).Delete(&Record{}).Error; err != nil {
		return fmt.Errorf("store: delete %s: %w", key, err)
	}
	return nil
}

// DeletePrefix removes every key under a prefix.
func (s *Store) DeletePrefix(prefix string) error {
	if err := s.db.Where("record_key LIKE ? ESCAPE '|'", likePattern(prefix)).Delete(&Record{}).Error; err != nil {
		return fmt.Errorf("store: delete prefix %s: %w", prefix, err)
	}
	return nil
}

// Keys returns all keys under a prefix in ascending lexical order.
func (s *Store) Keys(prefix string) ([]string, error) {
	var keys []string
	err := s.db.Model(&Record{}).
		Where("record_key LIKE ? ESCAPE '|'", likePattern(prefix)).
		Order("record_key ASC").
		Pluck("record_key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("store: keys %s: %w", prefix, err)
	}
	return keys, nil
}

// List returns the records under a prefix. Descending lexical key order
// when desc is set; limit <= 0 means no limit.
func (s *Store) List(prefix string, limit int, desc bool) ([]Record, error) {
	order := "record_key ASC"
	if desc {
		order = "record_key DESC"
	}
	q := s.db.Where("record_key LIKE ? ESCAPE '|'", likePattern(prefix)).Order(order)
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []Record
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("store: list %s: %w", prefix, err)
	}
	return recs, nil
}

// Count returns the number of keys under a prefix.
func (s *Store) Count(prefix string) (int64, error) {
	var n int64
	err := s.db.Model(&Record{}).Where("record_key LIKE ? ESCAPE '|'", likePattern(prefix)).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("store: count %s: %w", prefix, err)
	}
	return n, nil
}

// Ping verifies the backing database is reachable.
func (s *Store) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// likePattern escapes LIKE metacharacters in a key prefix. The escape
// character is '|' so the pattern reads identically under SQLite and MySQL
// string-literal rules.
func likePattern(prefix string) string {
	escaped := ""
	for _, r := range prefix {
		switch r {
		case '%', '_', '|':
			escaped += "|" + string(r)
		default:
			escaped += string(r)
		}
	}
	return escaped + "%"
}
