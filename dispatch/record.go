// Package dispatch sends benchmark questions to the subject model and
// records the raw responses. Each question is rendered with its
// permitted conversation context, dispatched through the model access
// layer with bounded retries, and appended to the response log whether
// it succeeded or failed.
package dispatch

import (
	"time"

	"github.com/evermem/membench/dataset"
)

// Status is the final state of a dispatched question.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// ErrorKind classifies why an item failed. Kinds are shared with the
// scorer so downstream reports can break failures out by cause.
type ErrorKind string

const (
	// KindDispatchFailure marks calls aborted in flight, typically by
	// the run-global timeout. Transient HTTP failures are retried and
	// only surface here when the run is cancelled mid-retry.
	KindDispatchFailure ErrorKind = "dispatch_failure"

	// KindDispatchPermanentFailure marks calls that exhausted retries
	// or failed fatally (auth, bad request).
	KindDispatchPermanentFailure ErrorKind = "dispatch_permanent_failure"

	// KindDataIntegrityError marks questions whose required evidence
	// cannot be satisfied: unknown community, span out of range, or
	// evidence truncated out of the context window. Fatal for the
	// item, never for the run.
	KindDataIntegrityError ErrorKind = "data_integrity_error"
)

// ResponseRecord is one dispatched question's outcome. Records are
// append-only; re-dispatching a question appends a new record rather
// than rewriting the old one.
type ResponseRecord struct {
	RecordID    string       `json:"record_id"`
	RunID       string       `json:"run_id,omitempty"`
	QuestionID  string       `json:"question_id"`
	Tier        dataset.Tier `json:"tier"`
	CommunityID string       `json:"community_id"`
	Model       string       `json:"model"`

	Status    Status    `json:"status"`
	Response  string    `json:"response,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`

	PromptTokens     int  `json:"prompt_tokens,omitempty"`
	CompletionTokens int  `json:"completion_tokens,omitempty"`
	ContextTurns     int  `json:"context_turns"`
	Truncated        bool `json:"truncated,omitempty"`
	Retries          int  `json:"retries,omitempty"`

	QueriedAt  time.Time `json:"queried_at"`
	DurationMs int64     `json:"duration_ms"`
}

// AnsweredIDs returns the ids of questions with a successful response,
// used to resume an interrupted dispatch without re-querying. Failed
// questions are not included so a re-run retries them.
func AnsweredIDs(records []ResponseRecord) map[string]struct{} {
	ids := make(map[string]struct{})
	for _, rec := range records {
		if rec.Status == StatusOK {
			ids[rec.QuestionID] = struct{}{}
		}
	}
	return ids
}

// LatestByQuestion keeps the last record per question in log order, so
// a re-dispatched question supersedes its earlier failure. Output
// order is deterministic: first appearance order of each question.
func LatestByQuestion(records []ResponseRecord) []ResponseRecord {
	index := make(map[string]int, len(records))
	out := make([]ResponseRecord, 0, len(records))
	for _, rec := range records {
		if i, ok := index[rec.QuestionID]; ok {
			out[i] = rec
			continue
		}
		index[rec.QuestionID] = len(out)
		out = append(out, rec)
	}
	return out
}
