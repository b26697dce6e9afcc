// Package dispatch bridges synchronous API calls and asynchronous agent
// execution. The coordinator creates task records, hands jobs to the
// execution backend, and reconciles completion, failure, and interruption
// reports back into task state.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/zulandar/relay/internal/memory"
	"github.com/zulandar/relay/internal/models"
	"github.com/zulandar/relay/internal/registry"
	"github.com/zulandar/relay/internal/task"
)

// Ref identifies one task across the store's namespaces.
type Ref struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	TaskID    string `json:"task_id"`
}

// Decision is the human response that resumes an interrupted task. Type is
// one of accept, edit, respond, reject; Args carries edited tool arguments
// or free-form feedback for edit/respond.
type Decision struct {
	Type string          `json:"type"`
	Args json.RawMessage `json:"args,omitempty"`
}

// DecisionTypes lists the accepted resume decision types.
var DecisionTypes = []string{"accept", "edit", "respond", "reject"}

// ValidDecision reports whether t is a known decision type.
func ValidDecision(t string) bool {
	for _, d := range DecisionTypes {
		if d == t {
			return true
		}
	}
	return false
}

// Job is one unit of work handed to the execution backend. Handle is the
// coordinator-assigned correlator recorded on the task before submission.
type Job struct {
	Ref
	Handle string `json:"handle"`
	Kind   string `json:"kind"` // "invoke" or "resume"

	// Query is the user input for invoke jobs.
	Query string `json:"query,omitempty"`
	// Decision and Checkpoint are set on resume jobs; Checkpoint is the
	// opaque executor state persisted at interruption time.
	Decision   *Decision       `json:"decision,omitempty"`
	Checkpoint json.RawMessage `json:"checkpoint,omitempty"`

	// Memory is the user's long-term memory context, newest first.
	Memory []models.MemoryEntry `json:"memory,omitempty"`
}

// Result is the executor's report for one round. Exactly one of Response
// and Interrupt is set: Interrupt means the agent suspended awaiting a
// human decision.
type Result struct {
	Response  json.RawMessage
	Interrupt json.RawMessage
}

// Backend accepts job descriptors for asynchronous execution. Submit must
// return only once the job is accepted; an error means nothing will run.
type Backend interface {
	Submit(ctx context.Context, job Job) error
}

// Notifier is told when a task suspends awaiting human approval.
// Notification is best-effort and must not affect task state.
type Notifier interface {
	TaskInterrupted(ctx context.Context, tsk *models.Task)
}

// Coordinator wires the registry, task manager, memory store, and
// execution backend together.
type Coordinator struct {
	registry    *registry.Registry
	tasks       *task.Manager
	memory      *memory.Store
	backend     Backend
	notifier    Notifier
	memoryLimit int
	log         *slog.Logger
}

// Opts holds Coordinator dependencies.
type Opts struct {
	Registry    *registry.Registry
	Tasks       *task.Manager
	Memory      *memory.Store
	Backend     Backend
	Notifier    Notifier // optional
	MemoryLimit int
	Logger      *slog.Logger // optional
}

// New creates a Coordinator.
func New(opts Opts) (*Coordinator, error) {
	if opts.Registry == nil || opts.Tasks == nil || opts.Memory == nil {
		return nil, fmt.Errorf("dispatch: registry, tasks, and memory are required")
	}
	if opts.Backend == nil {
		return nil, fmt.Errorf("dispatch: backend is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		registry:    opts.Registry,
		tasks:       opts.Tasks,
		memory:      opts.Memory,
		backend:     opts.Backend,
		notifier:    opts.Notifier,
		memoryLimit: opts.MemoryLimit,
		log:         log,
	}, nil
}

// Invoke starts a new task round: ensures the session, creates the task in
// pending, claims it to running, and submits the job. It returns as soon as
// the backend accepts; execution completes via the On* callbacks. If the
// backend refuses, the task reverts to pending and DispatchUnavailable is
// returned.
func (c *Coordinator) Invoke(ctx context.Context, userID, sessionID, query string) (*models.Task, error) {
	sess, err := c.registry.Ensure(userID, sessionID)
	if err != nil {
		return nil, err
	}

	tsk, err := c.tasks.Create(userID, sess.SessionID, query)
	if err != nil {
		return nil, err
	}

	job := Job{
		Ref:    Ref{UserID: userID, SessionID: sess.SessionID, TaskID: tsk.TaskID},
		Handle: uuid.NewString(),
		Kind:   "invoke",
		Query:  query,
		Memory: c.memoryContext(userID),
	}

	// Claim the round before submitting so a fast callback can never
	// observe the task still pending.
	tsk, err = c.tasks.Transition(userID, sess.SessionID, tsk.TaskID,
		models.TaskPending, models.TaskRunning, task.Payload{Handle: job.Handle})
	if err != nil {
		return nil, err
	}

	if err := c.backend.Submit(ctx, job); err != nil {
		if _, revErr := c.tasks.Revert(userID, sess.SessionID, tsk.TaskID, models.TaskPending, task.Payload{}); revErr != nil {
			c.log.Error("revert after failed submit", "task_id", tsk.TaskID, "error", revErr)
		}
		return nil, fmt.Errorf("dispatch: submit invoke for %s: %w: %w", tsk.TaskID, models.ErrDispatchUnavailable, err)
	}

	c.log.Info("task dispatched", "user_id", userID, "session_id", sess.SessionID,
		"task_id", tsk.TaskID, "kind", "invoke")
	return tsk, nil
}

// Resume re-enters an interrupted task with a human decision. The stored
// interrupt payload travels to the backend as the executor's checkpoint.
// Fails with InvalidState unless the task is currently interrupted; a
// concurrent resume loses with StateConflict at the claim. On a refused
// submission the task reverts to interrupted with its checkpoint intact.
func (c *Coordinator) Resume(ctx context.Context, userID, sessionID, taskID string, decision Decision) (*models.Task, error) {
	if !ValidDecision(decision.Type) {
		return nil, fmt.Errorf("dispatch: decision type %q: %w", decision.Type, models.ErrInvalidState)
	}

	tsk, err := c.tasks.Get(userID, sessionID, taskID)
	if err != nil {
		return nil, err
	}
	if tsk.State != models.TaskInterrupted {
		return nil, fmt.Errorf("dispatch: task %s is %s, only interrupted tasks resume: %w",
			taskID, tsk.State, models.ErrInvalidState)
	}

	job := Job{
		Ref:        Ref{UserID: userID, SessionID: sessionID, TaskID: taskID},
		Handle:     uuid.NewString(),
		Kind:       "resume",
		Decision:   &decision,
		Checkpoint: tsk.InterruptPayload,
		Memory:     c.memoryContext(userID),
	}

	tsk, err = c.tasks.Transition(userID, sessionID, taskID,
		models.TaskInterrupted, models.TaskRunning,
		task.Payload{Handle: job.Handle, Query: "resume: " + decision.Type})
	if err != nil {
		return nil, err
	}

	if err := c.backend.Submit(ctx, job); err != nil {
		if _, revErr := c.tasks.Revert(userID, sessionID, taskID, models.TaskInterrupted,
			task.Payload{Interrupt: job.Checkpoint}); revErr != nil {
			c.log.Error("revert after failed submit", "task_id", taskID, "error", revErr)
		}
		return nil, fmt.Errorf("dispatch: submit resume for %s: %w: %w", taskID, models.ErrDispatchUnavailable, err)
	}

	c.log.Info("task dispatched", "user_id", userID, "session_id", sessionID,
		"task_id", taskID, "kind", "resume")
	return tsk, nil
}

// OnExecutionComplete reconciles an executor report back into task state.
// An interrupt in the result moves the task to interrupted (and notifies);
// otherwise it completes. Reports for deleted tasks and reports that lose a
// transition race are swallowed: at most one transition takes effect per
// round, and the backend is never handed an error for a task it no longer
// owns.
func (c *Coordinator) OnExecutionComplete(ctx context.Context, ref Ref, expectedPrior string, result Result) {
	var (
		tsk *models.Task
		err error
	)
	if result.Interrupt != nil {
		tsk, err = c.tasks.Transition(ref.UserID, ref.SessionID, ref.TaskID,
			expectedPrior, models.TaskInterrupted, task.Payload{Interrupt: result.Interrupt})
	} else {
		tsk, err = c.tasks.Transition(ref.UserID, ref.SessionID, ref.TaskID,
			expectedPrior, models.TaskCompleted, task.Payload{Response: result.Response})
	}
	if err != nil {
		c.swallowCallbackErr("complete", ref, err)
		return
	}

	if tsk.State == models.TaskInterrupted {
		c.log.Info("task interrupted", "task_id", ref.TaskID, "user_id", ref.UserID)
		if c.notifier != nil {
			c.notifier.TaskInterrupted(ctx, tsk)
		}
		return
	}
	c.log.Info("task completed", "task_id", ref.TaskID, "user_id", ref.UserID)
}

// OnExecutionFailed records an execution failure. Same tolerance rules as
// OnExecutionComplete; no automatic retry happens here. A retry is a fresh
// invoke or resume from the client.
func (c *Coordinator) OnExecutionFailed(ctx context.Context, ref Ref, expectedPrior string, execErr error) {
	detail := "execution failed"
	if execErr != nil {
		detail = execErr.Error()
	}
	_, err := c.tasks.Transition(ref.UserID, ref.SessionID, ref.TaskID,
		expectedPrior, models.TaskFailed, task.Payload{ErrorDetail: detail})
	if err != nil {
		c.swallowCallbackErr("failed", ref, err)
		return
	}
	c.log.Warn("task failed", "task_id", ref.TaskID, "user_id", ref.UserID, "error", detail)
}

// swallowCallbackErr drops NotFound (task deleted mid-flight) and
// StateConflict (a concurrent callback won) without surfacing them to the
// backend; anything else is logged.
func (c *Coordinator) swallowCallbackErr(kind string, ref Ref, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		c.log.Debug("callback for deleted task ignored", "kind", kind, "task_id", ref.TaskID)
	case errors.Is(err, models.ErrStateConflict):
		c.log.Debug("losing callback discarded", "kind", kind, "task_id", ref.TaskID)
	default:
		c.log.Error("callback transition failed", "kind", kind, "task_id", ref.TaskID, "error", err)
	}
}

// memoryContext loads the user's recent long-term memory for injection into
// the executor. Memory is context, not a precondition: a read failure logs
// and the job goes out without it.
func (c *Coordinator) memoryContext(userID string) []models.MemoryEntry {
	entries, err := c.memory.Read(userID, c.memoryLimit)
	if err != nil {
		c.log.Warn("long-term memory read failed", "user_id", userID, "error", err)
		return nil
	}
	return entries
}
