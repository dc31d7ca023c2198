package score

import (
	"context"
	"fmt"

	"github.com/evermem/membench/dataset"
	"github.com/evermem/membench/llm"
)

// Judgment is an evaluator's verdict on one response. Score is always in
// [0, 1]; the engine copies the judgment into the ScoreRecord.
type Judgment struct {
	Score      float64 `json:"score"`
	Verdict    Verdict `json:"verdict"`
	Rationale  string  `json:"rationale,omitempty"`
	JudgeModel string  `json:"judge_model,omitempty"`

	// Cached reports whether the judgment was replayed from the verdict
	// cache rather than freshly graded. Set per lookup, not persisted.
	Cached bool `json:"-"`
}

// Evaluator grades responses for one tier. Evaluate is a pure function of
// (question, response): given the same inputs it must render the same
// judgment, which makes re-scoring idempotent. Judge-backed evaluators
// satisfy this through the verdict cache.
type Evaluator interface {
	// Name identifies the evaluator and its grading policy version.
	Name() string

	// Tier returns the tier this evaluator grades.
	Tier() dataset.Tier

	// Evaluate grades a response. A returned error means the response
	// could not be graded; the engine records it as a scoring error.
	Evaluate(ctx context.Context, q *dataset.QuestionItem, response string) (*Judgment, error)
}

// Registry maps tiers to their evaluators.
type Registry struct {
	byTier map[dataset.Tier]Evaluator
}

// NewRegistry builds a registry, rejecting duplicate tiers and evaluators
// that claim an unknown tier.
func NewRegistry(evaluators ...Evaluator) (*Registry, error) {
	byTier := make(map[dataset.Tier]Evaluator, len(evaluators))
	for _, ev := range evaluators {
		tier := ev.Tier()
		if !tier.IsValid() {
			return nil, fmt.Errorf("evaluator %s: unknown tier %q", ev.Name(), string(tier))
		}
		if prev, ok := byTier[tier]; ok {
			return nil, fmt.Errorf("tier %s: evaluators %s and %s both registered", tier, prev.Name(), ev.Name())
		}
		byTier[tier] = ev
	}
	return &Registry{byTier: byTier}, nil
}

// DefaultRegistry wires the three production evaluators: deterministic
// factual matching plus judge-graded applied memory and personalization.
// The store supplies evidence transcripts for the applied-memory judge.
func DefaultRegistry(judge llm.Completer, store *dataset.ConversationStore, opts ...JudgeOption) *Registry {
	return &Registry{byTier: map[dataset.Tier]Evaluator{
		dataset.TierFactualRecall:   FactualEvaluator{},
		dataset.TierAppliedMemory:   NewAppliedEvaluator(judge, store, opts...),
		dataset.TierPersonalization: NewPersonaEvaluator(judge, opts...),
	}}
}

// Get returns the evaluator for a tier.
func (r *Registry) Get(tier dataset.Tier) (Evaluator, bool) {
	ev, ok := r.byTier[tier]
	return ev, ok
}
