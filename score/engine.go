package score

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/evermem/membench/dataset"
	"github.com/evermem/membench/dispatch"
	"github.com/evermem/membench/metrics"
)

// Sink receives score records as they are produced.
type Sink interface {
	Append(rec ScoreRecord) error
}

// Config controls one scoring pass.
type Config struct {
	// RunID stamps the produced records. Empty falls back to the run id
	// carried by each response record.
	RunID string

	// Concurrency bounds parallel evaluations. Defaults to 4; the
	// factual evaluator is cheap but judge calls are network-bound.
	Concurrency int
}

const defaultConcurrency = 4

// Engine scores recorded responses. Failed dispatches and unresolvable
// questions become excluded records, evaluator failures become scoring
// errors, and neither aborts the pass; every response gets exactly one
// record.
type Engine struct {
	registry  *Registry
	questions *dataset.QuestionSet
	sink      Sink
	cfg       Config
	logger    *slog.Logger

	// scored holds (question, model) pairs from prior passes; responses
	// matching them are skipped so scoring stays at-most-once unless the
	// caller re-runs explicitly.
	scored map[string]struct{}
}

// Option configures the engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithScored marks pairs already scored in earlier passes. Use ScoredPairs
// over the existing score log.
func WithScored(pairs map[string]struct{}) Option {
	return func(e *Engine) {
		e.scored = pairs
	}
}

// New builds a scoring engine.
func New(registry *Registry, questions *dataset.QuestionSet, sink Sink, cfg Config, opts ...Option) (*Engine, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if questions == nil {
		return nil, fmt.Errorf("question set is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	e := &Engine{
		registry:  registry,
		questions: questions,
		sink:      sink,
		cfg:       cfg,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Result summarizes one scoring pass.
type Result struct {
	Scored   int
	Excluded int
	Errors   int
	Skipped  int
}

// Run scores a batch of response records. Responses are deduplicated to
// the newest record per question first, then pairs settled in prior passes
// are skipped. The returned error reports sink failures only; per-item
// grading failures are recorded, counted, and never abort the pass.
func (e *Engine) Run(ctx context.Context, responses []dispatch.ResponseRecord) (*Result, error) {
	latest := dispatch.LatestByQuestion(responses)
	pending := make([]dispatch.ResponseRecord, 0, len(latest))
	result := &Result{}
	for _, rec := range latest {
		if _, done := e.scored[pairKey(rec.QuestionID, rec.Model)]; done {
			result.Skipped++
			continue
		}
		pending = append(pending, rec)
	}

	e.logger.Info("scoring responses",
		"responses", len(responses),
		"pending", len(pending),
		"skipped", result.Skipped,
		"concurrency", e.cfg.Concurrency)

	var mu sync.Mutex
	var sinkErr error
	p := pool.New().WithMaxGoroutines(e.cfg.Concurrency)
	for _, rec := range pending {
		p.Go(func() {
			out := e.scoreOne(ctx, rec)
			mu.Lock()
			defer mu.Unlock()
			if sinkErr != nil {
				return
			}
			if err := e.sink.Append(out); err != nil {
				sinkErr = err
				return
			}
			switch out.Status {
			case StatusOK:
				result.Scored++
			case StatusExcluded:
				result.Excluded++
			default:
				result.Errors++
			}
		})
	}
	p.Wait()

	if sinkErr != nil {
		return result, fmt.Errorf("write score record: %w", sinkErr)
	}
	e.logger.Info("scoring pass complete",
		"scored", result.Scored,
		"excluded", result.Excluded,
		"errors", result.Errors,
		"skipped", result.Skipped)
	return result, nil
}

// scoreOne grades a single response, always producing a record.
func (e *Engine) scoreOne(ctx context.Context, rec dispatch.ResponseRecord) ScoreRecord {
	out := ScoreRecord{
		QuestionID:  rec.QuestionID,
		ResponseID:  rec.RecordID,
		RunID:       e.cfg.RunID,
		Tier:        rec.Tier,
		CommunityID: rec.CommunityID,
		Model:       rec.Model,
		ScoredAt:    time.Now().UTC(),
	}
	if out.RunID == "" {
		out.RunID = rec.RunID
	}

	// Failed dispatches are excluded, keeping the original failure kind
	// so the report can separate transport trouble from bad data.
	if rec.Status != dispatch.StatusOK {
		out.Status = StatusExcluded
		out.ErrorKind = rec.ErrorKind
		out.Error = rec.Error
		metrics.IncExcluded(string(out.Tier))
		return out
	}

	q, ok := e.questions.Get(rec.QuestionID)
	if !ok {
		out.Status = StatusExcluded
		out.ErrorKind = dispatch.KindDataIntegrityError
		out.Error = fmt.Sprintf("question %s not in dataset", rec.QuestionID)
		metrics.IncExcluded(string(out.Tier))
		return out
	}
	out.Tier = q.Tier
	out.CommunityID = q.CommunityID

	evaluator, ok := e.registry.Get(q.Tier)
	if !ok {
		out.Status = StatusScoringError
		out.ErrorKind = KindScoringError
		out.Error = fmt.Sprintf("no evaluator for tier %s", q.Tier)
		metrics.IncScoreError(string(out.Tier))
		return out
	}
	out.Evaluator = evaluator.Name()

	judgment, err := evaluator.Evaluate(ctx, q, rec.Response)
	if err != nil {
		if integrityError(err) {
			out.Status = StatusExcluded
			out.ErrorKind = dispatch.KindDataIntegrityError
			metrics.IncExcluded(string(out.Tier))
		} else {
			out.Status = StatusScoringError
			out.ErrorKind = KindScoringError
			metrics.IncScoreError(string(out.Tier))
		}
		out.Error = err.Error()
		e.logger.Warn("scoring failed",
			"question_id", rec.QuestionID,
			"tier", string(q.Tier),
			"error_kind", string(out.ErrorKind),
			"error", err)
		return out
	}

	out.Status = StatusOK
	out.Score = judgment.Score
	out.Verdict = judgment.Verdict
	out.Rationale = judgment.Rationale
	out.JudgeModel = judgment.JudgeModel
	out.Cached = judgment.Cached
	metrics.ObserveScore(string(out.Tier), out.Score)
	return out
}

// integrityError reports whether an evaluator failure traces back to
// unresolvable dataset references rather than the grading itself.
func integrityError(err error) bool {
	return errors.Is(err, dataset.ErrUnknownCommunity) || errors.Is(err, dataset.ErrSpanOutOfRange)
}
