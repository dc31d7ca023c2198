package score

import (
	"context"
	"fmt"
	"strings"

	"github.com/evermem/membench/dataset"
	"github.com/evermem/membench/llm"
)

// personaSystem instructs the judge to grade style alignment, not factual
// content. Generic and contradicting answers are flagged distinctly so the
// report can separate "did not adapt" from "plain wrong".
const personaSystem = `You grade whether an answer written in a workplace chat matches the expected communication style of the persona being asked.
Judge style only, not factual content. Classify the answer's alignment:
- "adapted": the answer follows the expected style.
- "generic": a neutral assistant voice with no adaptation toward the expected style.
- "contradicting": the answer works against the expected style.
Reply with a single JSON object and nothing else:
{"alignment": "<adapted|generic|contradicting>", "score": <number 0.0-1.0>, "reasoning": "<one short sentence>"}`

// personaVerdict is the judge's JSON reply.
type personaVerdict struct {
	Alignment string  `json:"alignment"`
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning"`
}

// genericScoreCap bounds the score of unadapted answers: a generic reply
// can be half right at best, while a contradicting one earns nothing.
const genericScoreCap = 0.5

// PersonaEvaluator grades style adaptation with a judge model against the
// persona-consistent style expected for the queried community and time.
type PersonaEvaluator struct {
	judge llm.Completer
	cfg   judgeConfig
}

// NewPersonaEvaluator builds the personalization evaluator.
func NewPersonaEvaluator(judge llm.Completer, opts ...JudgeOption) *PersonaEvaluator {
	return &PersonaEvaluator{judge: judge, cfg: newJudgeConfig(opts...)}
}

// Name implements Evaluator.
func (e *PersonaEvaluator) Name() string { return "personalization/v1" }

// Tier implements Evaluator.
func (e *PersonaEvaluator) Tier() dataset.Tier { return dataset.TierPersonalization }

// Evaluate implements Evaluator.
func (e *PersonaEvaluator) Evaluate(ctx context.Context, q *dataset.QuestionItem, response string) (*Judgment, error) {
	if strings.TrimSpace(response) == "" {
		return nil, fmt.Errorf("question %s: empty response", q.QuestionID)
	}
	if q.ExpectedStyle == nil || q.ExpectedStyle.IsZero() {
		return nil, fmt.Errorf("question %s: no expected style", q.QuestionID)
	}
	if cached, ok := e.cfg.lookup(e.Name(), q.QuestionID, response); ok {
		return cached, nil
	}

	speaker := q.SpeakerID
	if speaker == "" {
		speaker = "the persona"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Expected style for %s in community %s: %s\n\n", speaker, q.CommunityID, q.ExpectedStyle.Describe())
	fmt.Fprintf(&b, "Question asked: %s\n\n", q.Prompt)
	fmt.Fprintf(&b, "Candidate answer:\n%s\n\nClassify the style alignment.", response)

	resp, err := e.judge.Complete(ctx, e.cfg.request(personaSystem, b.String()))
	if err != nil {
		return nil, fmt.Errorf("judge call: %w", err)
	}
	var verdict personaVerdict
	if err := decodeVerdict(resp.Content, &verdict); err != nil {
		return nil, err
	}

	judgment := Judgment{Rationale: verdict.Reasoning, JudgeModel: resp.Model}
	switch strings.ToLower(strings.TrimSpace(verdict.Alignment)) {
	case string(VerdictAdapted):
		judgment.Verdict = VerdictAdapted
		judgment.Score = clampScore(verdict.Score)
	case string(VerdictGeneric):
		judgment.Verdict = VerdictGeneric
		judgment.Score = min(clampScore(verdict.Score), genericScoreCap)
	case string(VerdictContradicting):
		judgment.Verdict = VerdictContradicting
		judgment.Score = 0
	default:
		return nil, fmt.Errorf("judge returned unknown alignment %q", verdict.Alignment)
	}

	if err := e.cfg.store(e.Name(), q.QuestionID, response, judgment); err != nil {
		return nil, err
	}
	return &judgment, nil
}
