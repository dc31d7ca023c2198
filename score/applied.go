package score

import (
	"context"
	"fmt"
	"strings"

	"github.com/evermem/membench/dataset"
	"github.com/evermem/membench/llm"
)

// appliedSystem instructs the judge to check both halves of applied memory:
// recalling the right prior event and integrating it correctly. Plausible
// answers that contradict the recorded event must not earn credit.
const appliedSystem = `You grade answers for a workplace-chat memory benchmark.
Compare the candidate answer against the reference answer and rubric. Check two things:
1. Does the candidate recall the prior event the question depends on?
2. Does it integrate that event correctly into its answer?
An answer that sounds plausible in context but contradicts the recorded event is wrong and must score low.
Reply with a single JSON object and nothing else:
{"score": <number 0.0-1.0>, "recalled_event": <true|false>, "integrated_correctly": <true|false>, "reasoning": "<one short sentence>"}`

// appliedVerdict is the judge's JSON reply.
type appliedVerdict struct {
	Score               float64 `json:"score"`
	RecalledEvent       bool    `json:"recalled_event"`
	IntegratedCorrectly bool    `json:"integrated_correctly"`
	Reasoning           string  `json:"reasoning"`
}

// Verdict thresholds for the judge's graded score.
const (
	appliedCorrectAt   = 0.7
	appliedIncorrectAt = 0.3
)

// AppliedEvaluator grades applied-memory answers with a judge model. The
// judge sees the question, the reference answer, the rubric, and the
// evidence transcript of what actually happened, then returns a graded
// score with recall and integration flags.
type AppliedEvaluator struct {
	judge llm.Completer
	store *dataset.ConversationStore
	cfg   judgeConfig
}

// NewAppliedEvaluator builds the applied-memory evaluator. The store is
// optional; without it the judge grades from the reference answer and
// rubric alone.
func NewAppliedEvaluator(judge llm.Completer, store *dataset.ConversationStore, opts ...JudgeOption) *AppliedEvaluator {
	return &AppliedEvaluator{judge: judge, store: store, cfg: newJudgeConfig(opts...)}
}

// Name implements Evaluator.
func (e *AppliedEvaluator) Name() string { return "applied_memory/v1" }

// Tier implements Evaluator.
func (e *AppliedEvaluator) Tier() dataset.Tier { return dataset.TierAppliedMemory }

// Evaluate implements Evaluator.
func (e *AppliedEvaluator) Evaluate(ctx context.Context, q *dataset.QuestionItem, response string) (*Judgment, error) {
	if strings.TrimSpace(response) == "" {
		return nil, fmt.Errorf("question %s: empty response", q.QuestionID)
	}
	if cached, ok := e.cfg.lookup(e.Name(), q.QuestionID, response); ok {
		return cached, nil
	}

	var transcript string
	if e.store != nil && len(q.Evidence) > 0 {
		turns, err := e.store.ResolveAll(q.Evidence)
		if err != nil {
			return nil, fmt.Errorf("resolve evidence: %w", err)
		}
		transcript = renderTranscript(turns)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", q.Prompt)
	fmt.Fprintf(&b, "Reference answer: %s\n\n", q.ExpectedAnswer)
	if q.Rubric != "" {
		fmt.Fprintf(&b, "Rubric: %s\n\n", q.Rubric)
	}
	if transcript != "" {
		fmt.Fprintf(&b, "Evidence transcript (what actually happened):\n%s\n", transcript)
	}
	fmt.Fprintf(&b, "Candidate answer:\n%s\n\nGrade the candidate answer.", response)

	resp, err := e.judge.Complete(ctx, e.cfg.request(appliedSystem, b.String()))
	if err != nil {
		return nil, fmt.Errorf("judge call: %w", err)
	}
	var verdict appliedVerdict
	if err := decodeVerdict(resp.Content, &verdict); err != nil {
		return nil, err
	}

	score := clampScore(verdict.Score)
	judged := VerdictPartial
	switch {
	case score >= appliedCorrectAt:
		judged = VerdictCorrect
	case score < appliedIncorrectAt:
		judged = VerdictIncorrect
	}

	judgment := Judgment{
		Score:      score,
		Verdict:    judged,
		Rationale:  verdict.Reasoning,
		JudgeModel: resp.Model,
	}
	if err := e.cfg.store(e.Name(), q.QuestionID, response, judgment); err != nil {
		return nil, err
	}
	return &judgment, nil
}
