package models

import "time"

// Session is a conversational context grouping related tasks for one user.
// Sessions are created lazily on first invoke and carry no state of their
// own beyond activity timestamps; tasks are stored under separate keys.
type Session struct {
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// MemoryEntry is one append-only long-term memory record for a user,
// injected into future agent invocations. MemoryInfo is opaque to the
// orchestration core.
type MemoryEntry struct {
	UserID     string    `json:"user_id"`
	MemoryInfo string    `json:"memory_info"`
	WrittenAt  time.Time `json:"written_at"`
}
