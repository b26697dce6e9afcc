package store

import "fmt"

// Key namespaces. Components never build raw keys themselves; these helpers
// are the single source of the layout.
const (
	sessionNS = "session"
	taskNS    = "task"
	memoryNS  = "memory"
)

// SessionKey is the record key for one session's metadata.
func SessionKey(userID, sessionID string) string {
	return fmt.Sprintf("%s:%s:%s", sessionNS, userID, sessionID)
}

// SessionPrefix covers all sessions for a user.
func SessionPrefix(userID string) string {
	return fmt.Sprintf("%s:%s:", sessionNS, userID)
}

// AllSessionsPrefix covers every session for every user.
func AllSessionsPrefix() string {
	return sessionNS + ":"
}

// TaskKey is the record key for one task.
func TaskKey(userID, sessionID, taskID string) string {
	return fmt.Sprintf("%s:%s:%s:%s", taskNS, userID, sessionID, taskID)
}

// TaskPrefix covers all tasks under a session.
func TaskPrefix(userID, sessionID string) string {
	return fmt.Sprintf("%s:%s:%s:", taskNS, userID, sessionID)
}

// UserTaskPrefix covers all tasks for a user across sessions.
func UserTaskPrefix(userID string) string {
	return fmt.Sprintf("%s:%s:", taskNS, userID)
}

// AllTasksPrefix covers every task for every user.
func AllTasksPrefix() string {
	return taskNS + ":"
}

// MemoryKey is the record key for one long-term memory entry. seq embeds a
// zero-padded nanosecond timestamp so lexical key order is chronological.
func MemoryKey(userID, seq string) string {
	return fmt.Sprintf("%s:%s:%s", memoryNS, userID, seq)
}

// MemoryPrefix covers all memory entries for a user.
func MemoryPrefix(userID string) string {
	return fmt.Sprintf("%s:%s:", memoryNS, userID)
}
