package models

import "time"

// LoginState is the external login fallback state for one service
type LoginState string

const (
	LoginIdle    LoginState = "IDLE"
	LoginOpening LoginState = "OPENING"
	LoginWaiting LoginState = "WAITING"
)

// LoginAttempt tracks one external login attempt
type LoginAttempt struct {
	ID         string      `json:"id"`
	Service    ServiceID   `json:"service"`
	State      LoginState  `json:"state"`
	URL        string      `json:"url"`
	StartedAt  time.Time   `json:"startedAt"`
	SyncAt     time.Time   `json:"syncAt,omitempty"`
	SyncedAt   *time.Time  `json:"syncedAt,omitempty"`
	SyncResult *SyncResult `json:"syncResult,omitempty"`
	EndedBy    string      `json:"endedBy,omitempty"` // "refresh" or "close"
}

// LoginResult is returned to the shell after launching the external browser
type LoginResult struct {
	AttemptID string `json:"attemptId"`
	Message   string `json:"message"`
}
