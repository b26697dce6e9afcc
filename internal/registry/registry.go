// Package registry owns the set of sessions per user: lazy creation,
// activity tracking, most-recently-active lookup, and cascading delete.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/relay/internal/models"
	"github.com/zulandar/relay/internal/store"
)

// Registry provides session operations over the state store.
type Registry struct {
	store *store.Store
}

// New creates a Registry backed by the given store.
func New(s *store.Store) *Registry {
	return &Registry{store: s}
}

// Ensure returns the session, creating it if absent. An empty sessionID
// generates a fresh one. The session's last_active_at is bumped either way.
func (r *Registry) Ensure(userID, sessionID string) (*models.Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("registry: userID is required")
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	now := time.Now().UTC()
	sess, err := r.Get(userID, sessionID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		sess = &models.Session{
			SessionID:    sessionID,
			UserID:       userID,
			CreatedAt:    now,
			LastActiveAt: now,
		}
	case err != nil:
		return nil, err
	default:
		sess.LastActiveAt = now
	}

	if err := r.put(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get loads one session's metadata.
func (r *Registry) Get(userID, sessionID string) (*models.Session, error) {
	val, _, err := r.store.Get(store.SessionKey(userID, sessionID))
	if errors.Is(err, store.ErrKeyNotFound) {
		return nil, fmt.Errorf("registry: session %s/%s: %w", userID, sessionID, models.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get session", err)
	}
	var sess models.Session
	if err := json.Unmarshal([]byte(val), &sess); err != nil {
		return nil, fmt.Errorf("registry: decode session %s/%s: %w", userID, sessionID, err)
	}
	return &sess, nil
}

// Touch bumps a session's last_active_at. Missing sessions return NotFound;
// task mutations call this so "most recently active" stays accurate.
func (r *Registry) Touch(userID, sessionID string) error {
	sess, err := r.Get(userID, sessionID)
	if err != nil {
		return err
	}
	sess.LastActiveAt = time.Now().UTC()
	return r.put(sess)
}

// List returns all sessions for a user ordered by last_active_at
// descending, so the head is the most recently active session.
func (r *Registry) List(userID string) ([]models.Session, error) {
	recs, err := r.store.List(store.SessionPrefix(userID), 0, false)
	if err != nil {
		return nil, storageErr("list sessions", err)
	}
	sessions := make([]models.Session, 0, len(recs))
	for _, rec := range recs {
		var sess models.Session
		if err := json.Unmarshal([]byte(rec.Value), &sess); err != nil {
			return nil, fmt.Errorf("registry: decode session record %s: %w", rec.Key, err)
		}
		sessions = append(sessions, sess)
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].LastActiveAt.After(sessions[j].LastActiveAt)
	})
	return sessions, nil
}

// SessionIDs returns the user's session ids, most recently active first.
func (r *Registry) SessionIDs(userID string) ([]string, error) {
	sessions, err := r.List(userID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(sessions))
	for _, sess := range sessions {
		ids = append(ids, sess.SessionID)
	}
	return ids, nil
}

// MostRecent returns the id of the session with the greatest
// last_active_at, or NotFound when the user has no sessions.
func (r *Registry) MostRecent(userID string) (string, error) {
	sessions, err := r.List(userID)
	if err != nil {
		return "", err
	}
	if len(sessions) == 0 {
		return "", fmt.Errorf("registry: no sessions for user %s: %w", userID, models.ErrNotFound)
	}
	return sessions[0].SessionID, nil
}

// Delete removes a session and cascades to its tasks. Tasks are deleted
// before the session record so a crash mid-cascade leaves unreachable task
// keys (swept by the janitor) rather than a session pointing at nothing.
func (r *Registry) Delete(userID, sessionID string) error {
	if _, err := r.Get(userID, sessionID); err != nil {
		return err
	}
	if err := r.store.DeletePrefix(store.TaskPrefix(userID, sessionID)); err != nil {
		return storageErr("delete session tasks", err)
	}
	if err := r.store.Delete(store.SessionKey(userID, sessionID)); err != nil {
		return storageErr("delete session", err)
	}
	return nil
}

// CountSessions returns the total number of sessions across all users.
func (r *Registry) CountSessions() (int64, error) {
	n, err := r.store.Count(store.AllSessionsPrefix())
	if err != nil {
		return 0, storageErr("count sessions", err)
	}
	return n, nil
}

// SessionsByUser returns every user's session ids, keyed by user id.
func (r *Registry) SessionsByUser() (map[string][]string, error) {
	keys, err := r.store.Keys(store.AllSessionsPrefix())
	if err != nil {
		return nil, storageErr("scan sessions", err)
	}
	byUser := make(map[string][]string)
	for _, key := range keys {
		rest := strings.TrimPrefix(key, store.AllSessionsPrefix())
		parts := strings.SplitN(rest, ":", 2)
		if len(parts) != 2 {
			continue
		}
		byUser[parts[0]] = append(byUser[parts[0]], parts[1])
	}
	return byUser, nil
}

func (r *Registry) put(sess *models.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("registry: encode session %s/%s: %w", sess.UserID, sess.SessionID, err)
	}
	if err := r.store.Set(store.SessionKey(sess.UserID, sess.SessionID), string(data)); err != nil {
		return storageErr("put session", err)
	}
	return nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("registry: %s: %w: %w", op, models.ErrStorageUnavailable, err)
}
