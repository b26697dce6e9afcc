// Package janitor runs scheduled cleanup sweeps over the state store.
//
// Two kinds of garbage accumulate during normal operation: sessions nobody
// has touched past their idle TTL, and task records whose session was
// deleted mid-crash before the cascade finished. Both are reclaimed here
// rather than on the request path.
package janitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/zulandar/relay/internal/models"
	"github.com/zulandar/relay/internal/registry"
	"github.com/zulandar/relay/internal/store"
)

// Janitor owns the cron scheduler and the sweep logic.
type Janitor struct {
	store    *store.Store
	registry *registry.Registry
	ttl      time.Duration
	schedule string
	log      *slog.Logger
	cron     *cron.Cron
	now      func() time.Time
}

// Opts holds parameters for creating a Janitor.
type Opts struct {
	Store    *store.Store
	Registry *registry.Registry
	// SessionTTL is how long an idle session survives. 0 disables
	// eviction; orphan collection still runs.
	SessionTTL time.Duration
	// Schedule is a standard 5-field cron expression.
	Schedule string
	Log      *slog.Logger
}

// SweepStats reports what one sweep reclaimed.
type SweepStats struct {
	SessionsEvicted int
	TasksOrphaned   int
}

// New creates a Janitor. Start schedules it; Sweep can also be called
// directly.
func New(opts Opts) *Janitor {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Janitor{
		store:    opts.Store,
		registry: opts.Registry,
		ttl:      opts.SessionTTL,
		schedule: opts.Schedule,
		log:      log,
		now:      time.Now,
	}
}

// Start registers the sweep on the cron schedule and launches the
// scheduler.
func (j *Janitor) Start() error {
	j.cron = cron.New()
	_, err := j.cron.AddFunc(j.schedule, func() {
		stats, err := j.Sweep()
		if err != nil {
			j.log.Error("janitor sweep failed", "error", err)
			return
		}
		if stats.SessionsEvicted > 0 || stats.TasksOrphaned > 0 {
			j.log.Info("janitor sweep",
				"sessions_evicted", stats.SessionsEvicted,
				"tasks_orphaned", stats.TasksOrphaned)
		}
	})
	if err != nil {
		return fmt.Errorf("janitor: schedule %q: %w", j.schedule, err)
	}
	j.cron.Start()
	return nil
}

// Stop halts the scheduler. A sweep already running finishes.
func (j *Janitor) Stop() {
	if j.cron != nil {
		<-j.cron.Stop().Done()
	}
}

// Sweep evicts idle sessions and collects orphaned task records.
func (j *Janitor) Sweep() (SweepStats, error) {
	var stats SweepStats

	evicted, err := j.evictIdleSessions()
	if err != nil {
		return stats, err
	}
	stats.SessionsEvicted = evicted

	orphaned, err := j.collectOrphanedTasks()
	if err != nil {
		return stats, err
	}
	stats.TasksOrphaned = orphaned

	return stats, nil
}

// evictIdleSessions deletes sessions whose last activity is older than the
// TTL, cascading to their tasks through the registry.
func (j *Janitor) evictIdleSessions() (int, error) {
	if j.ttl <= 0 {
		return 0, nil
	}
	cutoff := j.now().Add(-j.ttl)

	records, err := j.store.List(store.AllSessionsPrefix(), 0, false)
	if err != nil {
		return 0, fmt.Errorf("janitor: list sessions: %w", err)
	}

	evicted := 0
	for _, rec := range records {
		var sess models.Session
		if err := json.Unmarshal([]byte(rec.Value), &sess); err != nil {
			j.log.Error("janitor: undecodable session record", "record_key", rec.Key, "error", err)
			continue
		}
		if !sess.LastActiveAt.Before(cutoff) {
			continue
		}
		if err := j.registry.Delete(sess.UserID, sess.SessionID); err != nil {
			j.log.Error("janitor: evict session", "session_id", sess.SessionID, "error", err)
			continue
		}
		j.log.Info("evicted idle session",
			"user_id", sess.UserID, "session_id", sess.SessionID,
			"last_active_at", sess.LastActiveAt)
		evicted++
	}
	return evicted, nil
}

// collectOrphanedTasks deletes task records whose owning session record no
// longer exists.
func (j *Janitor) collectOrphanedTasks() (int, error) {
	keys, err := j.store.Keys(store.AllTasksPrefix())
	if err != nil {
		return 0, fmt.Errorf("janitor: list tasks: %w", err)
	}

	// Sessions checked once per sweep, not once per task.
	live := map[string]bool{}

	orphaned := 0
	for _, key := range keys {
		userID, sessionID, ok := parseTaskKey(key)
		if !ok {
			j.log.Error("janitor: malformed task key", "record_key", key)
			continue
		}
		sessKey := store.SessionKey(userID, sessionID)
		alive, checked := live[sessKey]
		if !checked {
			_, _, err := j.store.Get(sessKey)
			alive = err == nil
			live[sessKey] = alive
		}
		if alive {
			continue
		}
		if err := j.store.Delete(key); err != nil {
			j.log.Error("janitor: delete orphaned task", "record_key", key, "error", err)
			continue
		}
		orphaned++
	}
	return orphaned, nil
}

// parseTaskKey splits "task:{user}:{session}:{task}" into its owner parts.
// IDs never contain ":"; the API rejects them at the boundary.
func parseTaskKey(key string) (userID, sessionID string, ok bool) {
	parts := strings.Split(key, ":")
	if len(parts) != 4 || parts[0] != "task" {
		return "", "", false
	}
	return parts[1], parts[2], true
}
