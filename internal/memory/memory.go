// Package memory implements the append-only long-term memory store:
// user-scoped entries written once and read back most-recent-first for
// injection into agent invocations.
package memory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/relay/internal/models"
	"github.com/zulandar/relay/internal/store"
)

// Store appends and reads long-term memory entries.
type Store struct {
	kv *store.Store
}

// New creates a memory Store over the state store.
func New(kv *store.Store) *Store {
	return &Store{kv: kv}
}

// Write appends one entry for the user. Entries are never overwritten; the
// sequence component keeps lexical key order chronological and the uuid
// suffix keeps same-nanosecond writes from colliding.
func (s *Store) Write(userID, memoryInfo string) error {
	if userID == "" {
		return fmt.Errorf("memory: userID is required")
	}
	entry := models.MemoryEntry{
		UserID:     userID,
		MemoryInfo: memoryInfo,
		WrittenAt:  time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("memory: encode entry for %s: %w", userID, err)
	}
	seq := fmt.Sprintf("%020d-%s", entry.WrittenAt.UnixNano(), uuid.NewString()[:8])
	if err := s.kv.Set(store.MemoryKey(userID, seq), string(data)); err != nil {
		return fmt.Errorf("memory: write for %s: %w: %w", userID, models.ErrStorageUnavailable, err)
	}
	return nil
}

// Read returns up to limit entries for the user, most recent first. A user
// with no entries gets an empty slice, not an error. limit <= 0 reads all.
func (s *Store) Read(userID string, limit int) ([]models.MemoryEntry, error) {
	recs, err := s.kv.List(store.MemoryPrefix(userID), limit, true)
	if err != nil {
		return nil, fmt.Errorf("memory: read for %s: %w: %w", userID, models.ErrStorageUnavailable, err)
	}
	entries := make([]models.MemoryEntry, 0, len(recs))
	for _, rec := range recs {
		var entry models.MemoryEntry
		if err := json.Unmarshal([]byte(rec.Value), &entry); err != nil {
			return nil, fmt.Errorf("memory: decode record %s: %w", rec.Key, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// DeleteAll removes every entry for a user.
func (s *Store) DeleteAll(userID string) error {
	if err := s.kv.DeletePrefix(store.MemoryPrefix(userID)); err != nil {
		return fmt.Errorf("memory: delete for %s: %w: %w", userID, models.ErrStorageUnavailable, err)
	}
	return nil
}
