package storage

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle state of a benchmark run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunManifest records what a benchmark run was asked to do and how far
// it got. One manifest exists per run; counters are updated as stages
// finish.
type RunManifest struct {
	ID     string    `json:"id"`
	Model  string    `json:"model"`
	Status RunStatus `json:"status"`

	ConversationsPath   string `json:"conversations_path,omitempty"`
	QuestionsPath       string `json:"questions_path,omitempty"`
	ConversationsDigest string `json:"conversations_digest,omitempty"`
	QuestionsDigest     string `json:"questions_digest,omitempty"`
	ConfigDigest        string `json:"config_digest,omitempty"`

	ContextPolicy    string `json:"context_policy,omitempty"`
	MaxContextTokens int    `json:"max_context_tokens,omitempty"`

	Questions int `json:"questions"`
	Answered  int `json:"answered"`
	Failed    int `json:"failed"`
	Scored    int `json:"scored"`
	Excluded  int `json:"excluded"`

	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// NewRunID generates a run identifier that sorts chronologically:
// a UTC timestamp prefix followed by a short random suffix.
func NewRunID(startedAt time.Time) string {
	return startedAt.UTC().Format("20060102-150405") + "-" + uuid.New().String()[:8]
}

// Complete marks the manifest finished at the given time.
func (m *RunManifest) Complete(at time.Time) {
	m.Status = RunStatusComplete
	m.UpdatedAt = at
	m.CompletedAt = &at
}

// Fail marks the manifest failed with the given reason.
func (m *RunManifest) Fail(at time.Time, reason string) {
	m.Status = RunStatusFailed
	m.UpdatedAt = at
	m.CompletedAt = &at
	m.Error = reason
}
