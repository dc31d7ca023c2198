package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/evermem/membench/dataset"
	"github.com/evermem/membench/llm"
	"github.com/evermem/membench/metrics"
	"github.com/evermem/membench/model"
	"github.com/evermem/membench/tokens"
)

// Sink receives response records as they are produced. The storage
// package's JSONL log satisfies it.
type Sink interface {
	Append(rec ResponseRecord) error
}

// Config holds the dispatch parameters for one run.
type Config struct {
	// RunID stamps every record produced by this run.
	RunID string

	// Model is the registry endpoint name of the subject model. Empty
	// falls back to the subject capability chain.
	Model string

	// Policy selects full history or earliest-first truncation.
	Policy Policy

	// MaxContextTokens bounds the rendered history under
	// PolicyTruncate. Zero drops every turn.
	MaxContextTokens int

	// Concurrency bounds the worker pool. Defaults to 4.
	Concurrency int

	// Timeout is the run-global deadline. Outstanding questions when
	// it expires are recorded as failed, not dropped. Zero disables.
	Timeout time.Duration

	// MaxAnswerTokens caps the subject response length. Zero uses the
	// endpoint default.
	MaxAnswerTokens int
}

// Dispatcher sends questions to the subject model and appends one
// ResponseRecord per question to the sink.
type Dispatcher struct {
	client   llm.Completer
	store    *dataset.ConversationStore
	sink     Sink
	cfg      Config
	logger   *slog.Logger
	counter  tokens.Counter
	builder  *PromptBuilder
	answered map[string]struct{}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithAnswered marks questions that already have a successful response
// from a previous run; they are skipped, so dispatch is at-most-once
// per question until an explicit re-run with a fresh log.
func WithAnswered(ids map[string]struct{}) Option {
	return func(d *Dispatcher) {
		d.answered = ids
	}
}

// WithCounter overrides the token counter used for context budgeting.
// Defaults to the encoding for the configured model.
func WithCounter(c tokens.Counter) Option {
	return func(d *Dispatcher) {
		d.counter = c
	}
}

// New creates a Dispatcher over an ingested conversation store.
func New(client llm.Completer, store *dataset.ConversationStore, sink Sink, cfg Config, opts ...Option) (*Dispatcher, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if store == nil {
		return nil, fmt.Errorf("conversation store is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if cfg.MaxContextTokens < 0 {
		return nil, fmt.Errorf("max_context_tokens must not be negative")
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyTruncate
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	d := &Dispatcher{
		client: client,
		store:  store,
		sink:   sink,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.counter == nil {
		d.counter = tokens.ForModel(cfg.Model)
	}
	d.builder = NewPromptBuilder(store, d.counter, cfg.Policy, cfg.MaxContextTokens)

	return d, nil
}

// Result summarizes one dispatch run.
type Result struct {
	Dispatched int `json:"dispatched"`
	Answered   int `json:"answered"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// Run dispatches every pending question through a bounded worker pool.
// Per-question failures are recorded, never returned; the returned
// error only reports infrastructure problems (the sink failing).
func (d *Dispatcher) Run(ctx context.Context, questions *dataset.QuestionSet) (*Result, error) {
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	result := &Result{}
	items := questions.Items()
	pending := make([]*dataset.QuestionItem, 0, len(items))
	for i := range items {
		if _, ok := d.answered[items[i].QuestionID]; ok {
			result.Skipped++
			continue
		}
		pending = append(pending, &items[i])
	}

	d.logger.Info("dispatching questions",
		"total", len(items),
		"pending", len(pending),
		"skipped", result.Skipped,
		"model", d.subjectName(),
		"policy", string(d.cfg.Policy),
		"concurrency", d.cfg.Concurrency)

	var mu sync.Mutex
	var sinkErr error

	p := pool.New().WithMaxGoroutines(d.cfg.Concurrency)
	for _, q := range pending {
		p.Go(func() {
			rec := d.dispatchOne(ctx, q)
			err := d.sink.Append(rec)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if sinkErr == nil {
					sinkErr = err
				}
				return
			}
			result.Dispatched++
			if rec.Status == StatusOK {
				result.Answered++
			} else {
				result.Failed++
			}
		})
	}
	p.Wait()

	d.logger.Info("dispatch finished",
		"dispatched", result.Dispatched,
		"answered", result.Answered,
		"failed", result.Failed,
		"skipped", result.Skipped)

	if sinkErr != nil {
		return result, fmt.Errorf("write response record: %w", sinkErr)
	}
	return result, nil
}

// dispatchOne produces exactly one record for a question, regardless
// of outcome.
func (d *Dispatcher) dispatchOne(ctx context.Context, q *dataset.QuestionItem) ResponseRecord {
	start := time.Now()
	rec := ResponseRecord{
		RecordID:    uuid.New().String(),
		RunID:       d.cfg.RunID,
		QuestionID:  q.QuestionID,
		Tier:        q.Tier,
		CommunityID: q.CommunityID,
		Model:       d.subjectName(),
		QueriedAt:   start,
	}
	finish := func() ResponseRecord {
		rec.DurationMs = time.Since(start).Milliseconds()
		metrics.ObserveDispatch(string(rec.Status), q.Tier.String(), start)
		metrics.AddRetries(rec.Retries)
		return rec
	}

	prompt, err := d.builder.Build(q)
	if err != nil {
		rec.Status = StatusFailed
		rec.ErrorKind = KindDataIntegrityError
		rec.Error = err.Error()
		d.logger.Warn("question failed integrity check",
			"question", q.QuestionID, "error", err)
		return finish()
	}
	rec.ContextTurns = prompt.Turns
	rec.Truncated = prompt.Truncated
	rec.PromptTokens = prompt.ContextTokens
	metrics.ObservePrompt(prompt.ContextTokens, prompt.Truncated)

	if err := ctx.Err(); err != nil {
		rec.Status = StatusFailed
		rec.ErrorKind = KindDispatchFailure
		rec.Error = fmt.Sprintf("cancelled before dispatch: %v", err)
		return finish()
	}

	temperature := 0.0 // deterministic subject responses
	req := llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: prompt.System},
			{Role: "user", Content: prompt.User},
		},
		Temperature: &temperature,
		MaxTokens:   d.cfg.MaxAnswerTokens,
	}
	if d.cfg.Model != "" {
		req.Endpoint = d.cfg.Model
	} else {
		req.Capability = string(model.CapabilitySubject)
	}

	resp, err := d.client.Complete(ctx, req)
	if err != nil {
		rec.Status = StatusFailed
		rec.Error = err.Error()
		if ctx.Err() != nil {
			rec.ErrorKind = KindDispatchFailure
		} else {
			rec.ErrorKind = KindDispatchPermanentFailure
		}
		d.logger.Warn("question dispatch failed",
			"question", q.QuestionID,
			"kind", string(rec.ErrorKind),
			"error", err)
		return finish()
	}

	rec.Status = StatusOK
	rec.Response = resp.Content
	rec.Retries = resp.Retries
	rec.CompletionTokens = resp.Usage.CompletionTokens
	if resp.Usage.PromptTokens > 0 {
		rec.PromptTokens = resp.Usage.PromptTokens
	}
	if d.cfg.Model == "" && resp.Model != "" {
		rec.Model = resp.Model
	}

	d.logger.Debug("question answered",
		"question", q.QuestionID,
		"turns", rec.ContextTurns,
		"truncated", rec.Truncated,
		"duration_ms", rec.DurationMs)
	return finish()
}

func (d *Dispatcher) subjectName() string {
	if d.cfg.Model != "" {
		return d.cfg.Model
	}
	return string(model.CapabilitySubject)
}
