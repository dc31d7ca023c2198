// Package score grades recorded subject-model responses. Each benchmark
// tier has its own evaluator behind a common interface: factual recall is
// matched deterministically against expected facts, while applied memory
// and personalization are graded by a judge model. Evaluators fail closed:
// a response they cannot grade gets a scoring_error record, never a made-up
// number.
package score

import (
	"time"

	"github.com/evermem/membench/dataset"
	"github.com/evermem/membench/dispatch"
)

// Status describes the outcome of scoring one response.
type Status string

const (
	// StatusOK marks a response that received a numeric score.
	StatusOK Status = "ok"

	// StatusScoringError marks a response the evaluator could not grade.
	// These are retried on a re-run, like failed dispatches.
	StatusScoringError Status = "scoring_error"

	// StatusExcluded marks a response that was never scoreable: the
	// dispatch failed, or the question could not be resolved. Excluded
	// records carry the reason and are reported next to the aggregates.
	StatusExcluded Status = "excluded"
)

// KindScoringError tags records where the evaluator itself failed.
const KindScoringError dispatch.ErrorKind = "scoring_error"

// Verdict is an evaluator's categorical judgment. The factual and applied
// evaluators use correct/partial/incorrect; the personalization evaluator
// distinguishes style failures from wrong answers with adapted/generic/
// contradicting.
type Verdict string

const (
	VerdictCorrect   Verdict = "correct"
	VerdictPartial   Verdict = "partial"
	VerdictIncorrect Verdict = "incorrect"

	VerdictAdapted       Verdict = "adapted"
	VerdictGeneric       Verdict = "generic"
	VerdictContradicting Verdict = "contradicting"
)

// ScoreRecord is the scoring outcome for one response. Records append to a
// JSONL log, one line per scored response; identity is the (question,
// model) pair plus the response record id it graded.
type ScoreRecord struct {
	QuestionID  string       `json:"question_id"`
	ResponseID  string       `json:"response_id"`
	RunID       string       `json:"run_id,omitempty"`
	Tier        dataset.Tier `json:"tier"`
	CommunityID string       `json:"community_id"`
	Model       string       `json:"model"`

	Status    Status  `json:"status"`
	Score     float64 `json:"score"`
	Verdict   Verdict `json:"verdict,omitempty"`
	Rationale string  `json:"rationale,omitempty"`

	ErrorKind dispatch.ErrorKind `json:"error_kind,omitempty"`
	Error     string             `json:"error,omitempty"`

	Evaluator  string `json:"evaluator,omitempty"`
	JudgeModel string `json:"judge_model,omitempty"`
	Cached     bool   `json:"cached,omitempty"`

	ScoredAt time.Time `json:"scored_at"`
}

// PairKey identifies the (question, subject-model) pair this record scored.
func (r *ScoreRecord) PairKey() string {
	return pairKey(r.QuestionID, r.Model)
}

func pairKey(questionID, model string) string {
	return questionID + "|" + model
}

// ScoredPairs returns the pair keys already settled in prior records, used
// to keep scoring at-most-once per (question, model) pair across re-runs.
// Scoring errors are not settled: a re-run retries them.
func ScoredPairs(records []ScoreRecord) map[string]struct{} {
	pairs := make(map[string]struct{})
	for i := range records {
		if records[i].Status == StatusScoringError {
			continue
		}
		pairs[records[i].PairKey()] = struct{}{}
	}
	return pairs
}

// LatestByPair deduplicates records so only the newest record per
// (question, model) pair remains, preserving first-appearance order.
// Explicit re-scoring appends rather than rewrites, so readers take the
// last word per pair.
func LatestByPair(records []ScoreRecord) []ScoreRecord {
	index := make(map[string]int, len(records))
	out := make([]ScoreRecord, 0, len(records))
	for _, rec := range records {
		key := rec.PairKey()
		if at, ok := index[key]; ok {
			out[at] = rec
			continue
		}
		index[key] = len(out)
		out = append(out, rec)
	}
	return out
}
