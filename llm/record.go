package llm

import (
	"context"
	"time"
)

// CallRecord captures a single LLM API call for run auditing. Records are
// appended to the run's call log so every model interaction in a benchmark
// run can be replayed and inspected.
type CallRecord struct {
	// RequestID uniquely identifies this LLM call.
	RequestID string `json:"request_id"`

	// Capability is the semantic capability requested (subject, judge, fast).
	Capability string `json:"capability,omitempty"`

	// Endpoint is the registry endpoint name that served the call.
	Endpoint string `json:"endpoint,omitempty"`

	// Model is the actual model identifier that was used.
	Model string `json:"model,omitempty"`

	// Provider is the LLM provider (anthropic, ollama, openai).
	Provider string `json:"provider,omitempty"`

	// Messages is the input message history sent to the LLM.
	Messages []Message `json:"messages"`

	// Response is the generated content from the LLM.
	Response string `json:"response,omitempty"`

	// PromptTokens is the number of input/prompt tokens consumed.
	PromptTokens int `json:"prompt_tokens"`

	// CompletionTokens is the number of output/completion tokens generated.
	CompletionTokens int `json:"completion_tokens"`

	// TotalTokens is the total tokens consumed (prompt + completion).
	TotalTokens int `json:"total_tokens"`

	// ContextBudget is the context window size of the endpoint (optional).
	ContextBudget int `json:"context_budget,omitempty"`

	// FinishReason indicates why generation stopped (stop, length, etc.).
	FinishReason string `json:"finish_reason,omitempty"`

	// StartedAt is when the LLM call began.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the LLM call finished.
	CompletedAt time.Time `json:"completed_at"`

	// DurationMs is the call duration in milliseconds.
	DurationMs int64 `json:"duration_ms"`

	// Error contains any error message if the call failed.
	Error string `json:"error,omitempty"`

	// Retries is the number of retry attempts made.
	Retries int `json:"retries"`

	// FallbacksUsed lists endpoints tried before success (if fallback was needed).
	FallbacksUsed []string `json:"fallbacks_used,omitempty"`
}

// Recorder persists call records. The harness wires a JSONL-backed
// implementation from the storage package; a nil recorder disables
// recording.
type Recorder interface {
	Record(ctx context.Context, record *CallRecord) error
}
