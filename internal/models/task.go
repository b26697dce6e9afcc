package models

import (
	"encoding/json"
	"time"
)

// Task states. A task is created pending, moves to running once the
// execution backend acknowledges the job, and lands in completed, failed,
// or interrupted when the round ends. Interrupted tasks can be resumed
// back to running any number of times; completed and failed are terminal
// for the task's lifetime.
const (
	TaskPending     = "pending"
	TaskRunning     = "running"
	TaskCompleted   = "completed"
	TaskFailed      = "failed"
	TaskInterrupted = "interrupted"
)

// transitions maps each state to the set of states reachable from it.
var transitions = map[string][]string{
	TaskPending:     {TaskRunning},
	TaskRunning:     {TaskCompleted, TaskFailed, TaskInterrupted},
	TaskInterrupted: {TaskRunning},
	TaskCompleted:   {},
	TaskFailed:      {},
}

// ValidState reports whether s is a known task state.
func ValidState(s string) bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether the state machine permits moving from one
// state to another.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a state ends the task's lifetime. Interrupted is
// not terminal: it ends a round but the task can be resumed.
func Terminal(state string) bool {
	return state == TaskCompleted || state == TaskFailed
}

// Task is one agent invocation round, scoped to a session. It may span
// multiple interrupt/resume cycles before reaching a terminal state.
type Task struct {
	TaskID    string `json:"task_id"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	State     string `json:"state"`

	// LastQuery is the most recent input handed to the agent executor.
	LastQuery string `json:"last_query,omitempty"`
	// LastResponse is set when a round completes; all-or-nothing, never a
	// partial stream.
	LastResponse json.RawMessage `json:"last_response,omitempty"`
	// InterruptPayload holds the executor's opaque checkpoint while the
	// task is interrupted. Cleared on resume.
	InterruptPayload json.RawMessage `json:"interrupt_payload,omitempty"`
	// ErrorDetail is set when a round fails.
	ErrorDetail string `json:"error_detail,omitempty"`

	// ExecutionHandle correlates the task with its in-flight job in the
	// execution backend. Owned by the dispatch coordinator, opaque to
	// API callers.
	ExecutionHandle string `json:"execution_handle,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
