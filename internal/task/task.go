// Package task implements the task record manager: creation, the task state
// machine, and atomic state transitions over the state store.
package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/relay/internal/models"
	"github.com/zulandar/relay/internal/registry"
	"github.com/zulandar/relay/internal/store"
)

// casAttempts bounds the re-read loop when a CompareAndSet loses to a
// concurrent writer. Only transitions mutate task records, so one retry is
// enough to distinguish "revision moved but state still matches" from a
// genuine state conflict.
const casAttempts = 3

// Manager creates, transitions, and queries task records.
type Manager struct {
	store    *store.Store
	registry *registry.Registry
	maxTasks int
}

// New creates a Manager. maxTasks caps tasks per session; 0 means unlimited.
func New(s *store.Store, reg *registry.Registry, maxTasks int) *Manager {
	return &Manager{store: s, registry: reg, maxTasks: maxTasks}
}

// Payload carries the state-specific fields written by a transition.
type Payload struct {
	// Query replaces last_query when entering running (set on resume with
	// the human decision summary; empty leaves last_query untouched).
	Query string
	// Handle is the execution handle recorded when entering running.
	Handle string
	// Response is stored as last_response when entering completed.
	Response json.RawMessage
	// Interrupt is stored as interrupt_payload when entering interrupted
	// (or when reverting a failed dispatch back to interrupted).
	Interrupt json.RawMessage
	// ErrorDetail is stored when entering failed.
	ErrorDetail string
}

// Create makes a new task in pending under an existing session.
func (m *Manager) Create(userID, sessionID, query string) (*models.Task, error) {
	if m.maxTasks > 0 {
		n, err := m.store.Count(store.TaskPrefix(userID, sessionID))
		if err != nil {
			return nil, storageErr("count tasks", err)
		}
		if n >= int64(m.maxTasks) {
			return nil, fmt.Errorf("task: session %s/%s has %d tasks: %w",
				userID, sessionID, n, models.ErrSessionCapacity)
		}
	}

	now := time.Now().UTC()
	tsk := &models.Task{
		TaskID:    uuid.NewString(),
		SessionID: sessionID,
		UserID:    userID,
		State:     models.TaskPending,
		LastQuery: query,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.put(tsk); err != nil {
		return nil, err
	}
	m.touchSession(userID, sessionID)
	return tsk, nil
}

// Get returns the task record. Pure read, no side effects.
func (m *Manager) Get(userID, sessionID, taskID string) (*models.Task, error) {
	tsk, _, err := m.load(userID, sessionID, taskID)
	return tsk, err
}

// ListIDs returns the task ids under a session in key order.
func (m *Manager) ListIDs(userID, sessionID string) ([]string, error) {
	recs, err := m.store.List(store.TaskPrefix(userID, sessionID), 0, false)
	if err != nil {
		return nil, storageErr("list tasks", err)
	}
	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		var tsk models.Task
		if err := json.Unmarshal([]byte(rec.Value), &tsk); err != nil {
			return nil, fmt.Errorf("task: decode record %s: %w", rec.Key, err)
		}
		ids = append(ids, tsk.TaskID)
	}
	return ids, nil
}

// Transition atomically moves a task from expectedState to newState,
// applying the payload fields that belong to newState. It fails with
// StateConflict when the stored state is not expectedState (a concurrent
// transition won) and InvalidState when the state machine has no such edge.
func (m *Manager) Transition(userID, sessionID, taskID, expectedState, newState string, p Payload) (*models.Task, error) {
	if !models.CanTransition(expectedState, newState) {
		return nil, fmt.Errorf("task: %s -> %s: %w", expectedState, newState, models.ErrInvalidState)
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		tsk, rev, err := m.load(userID, sessionID, taskID)
		if err != nil {
			return nil, err
		}
		if tsk.State != expectedState {
			return nil, fmt.Errorf("task: %s is %s, expected %s: %w",
				taskID, tsk.State, expectedState, models.ErrStateConflict)
		}

		apply(tsk, newState, p)

		data, err := json.Marshal(tsk)
		if err != nil {
			return nil, fmt.Errorf("task: encode %s: %w", taskID, err)
		}
		err = m.store.CompareAndSet(store.TaskKey(userID, sessionID, taskID), rev, string(data))
		if errors.Is(err, store.ErrRevisionMismatch) {
			// Someone else wrote the record; re-read and re-check the
			// expected state on the next attempt.
			continue
		}
		if err != nil {
			return nil, storageErr("transition", err)
		}
		m.touchSession(userID, sessionID)
		return tsk, nil
	}
	return nil, fmt.Errorf("task: %s transition contended: %w", taskID, models.ErrStateConflict)
}

// Revert undoes a dispatch claim: it moves a task out of running back to
// its pre-dispatch state (pending or interrupted) after the execution
// backend refused the job. This is not a state-machine edge callers can
// take; it exists so a failed submission never strands a task in running
// without an accepted job. The expected-state check still applies, so a
// revert racing a real callback loses cleanly.
func (m *Manager) Revert(userID, sessionID, taskID, toState string, p Payload) (*models.Task, error) {
	if toState != models.TaskPending && toState != models.TaskInterrupted {
		return nil, fmt.Errorf("task: revert to %s: %w", toState, models.ErrInvalidState)
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		tsk, rev, err := m.load(userID, sessionID, taskID)
		if err != nil {
			return nil, err
		}
		if tsk.State != models.TaskRunning {
			return nil, fmt.Errorf("task: %s is %s, expected running: %w",
				taskID, tsk.State, models.ErrStateConflict)
		}

		tsk.State = toState
		tsk.UpdatedAt = time.Now().UTC()
		tsk.ExecutionHandle = ""
		if toState == models.TaskInterrupted {
			tsk.InterruptPayload = p.Interrupt
		}

		data, err := json.Marshal(tsk)
		if err != nil {
			return nil, fmt.Errorf("task: encode %s: %w", taskID, err)
		}
		err = m.store.CompareAndSet(store.TaskKey(userID, sessionID, taskID), rev, string(data))
		if errors.Is(err, store.ErrRevisionMismatch) {
			continue
		}
		if err != nil {
			return nil, storageErr("revert", err)
		}
		return tsk, nil
	}
	return nil, fmt.Errorf("task: %s revert contended: %w", taskID, models.ErrStateConflict)
}

// Delete removes a task record. Missing tasks are a successful no-op.
func (m *Manager) Delete(userID, sessionID, taskID string) error {
	if err := m.store.Delete(store.TaskKey(userID, sessionID, taskID)); err != nil {
		return storageErr("delete task", err)
	}
	return nil
}

// apply writes the state-specific fields for the target state.
func apply(tsk *models.Task, newState string, p Payload) {
	tsk.State = newState
	tsk.UpdatedAt = time.Now().UTC()

	switch newState {
	case models.TaskRunning:
		tsk.ExecutionHandle = p.Handle
		tsk.InterruptPayload = nil
		if p.Query != "" {
			tsk.LastQuery = p.Query
		}
	case models.TaskCompleted:
		tsk.LastResponse = p.Response
		tsk.ExecutionHandle = ""
	case models.TaskInterrupted:
		tsk.InterruptPayload = p.Interrupt
		tsk.ExecutionHandle = ""
	case models.TaskFailed:
		tsk.ErrorDetail = p.ErrorDetail
		tsk.ExecutionHandle = ""
	}
}

func (m *Manager) load(userID, sessionID, taskID string) (*models.Task, int64, error) {
	val, rev, err := m.store.Get(store.TaskKey(userID, sessionID, taskID))
	if errors.Is(err, store.ErrKeyNotFound) {
		return nil, 0, fmt.Errorf("task: %s/%s/%s: %w", userID, sessionID, taskID, models.ErrNotFound)
	}
	if err != nil {
		return nil, 0, storageErr("get task", err)
	}
	var tsk models.Task
	if err := json.Unmarshal([]byte(val), &tsk); err != nil {
		return nil, 0, fmt.Errorf("task: decode %s: %w", taskID, err)
	}
	return &tsk, rev, nil
}

func (m *Manager) put(tsk *models.Task) error {
	data, err := json.Marshal(tsk)
	if err != nil {
		return fmt.Errorf("task: encode %s: %w", tsk.TaskID, err)
	}
	if err := m.store.Set(store.TaskKey(tsk.UserID, tsk.SessionID, tsk.TaskID), string(data)); err != nil {
		return storageErr("put task", err)
	}
	return nil
}

// touchSession bumps session activity after a task mutation. Activity
// tracking is advisory: a missing session means a concurrent delete won,
// and its leftover task keys are the janitor's job, not an error here.
func (m *Manager) touchSession(userID, sessionID string) {
	_ = m.registry.Touch(userID, sessionID)
}

func storageErr(op string, err error) error {
	return fmt.Errorf("task: %s: %w: %w", op, models.ErrStorageUnavailable, err)
}
