package score

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/evermem/membench/dataset"
	"github.com/evermem/membench/llm"
	"github.com/evermem/membench/model"
)

// defaultJudgeMaxTokens bounds judge replies; verdicts are a short JSON
// object, so this leaves generous headroom.
const defaultJudgeMaxTokens = 1024

// judgeConfig carries the options shared by the judge-backed evaluators.
type judgeConfig struct {
	endpoint  string
	cache     *VerdictCache
	maxTokens int
}

// JudgeOption configures the judge-backed evaluators.
type JudgeOption func(*judgeConfig)

// WithJudgeEndpoint pins judge calls to a named registry endpoint instead
// of resolving the judge capability.
func WithJudgeEndpoint(name string) JudgeOption {
	return func(jc *judgeConfig) {
		jc.endpoint = name
	}
}

// WithJudgeCache replays stored verdicts for unchanged grading inputs
// instead of paying a second judge call.
func WithJudgeCache(cache *VerdictCache) JudgeOption {
	return func(jc *judgeConfig) {
		jc.cache = cache
	}
}

// WithJudgeMaxTokens overrides the judge reply token limit.
func WithJudgeMaxTokens(n int) JudgeOption {
	return func(jc *judgeConfig) {
		if n > 0 {
			jc.maxTokens = n
		}
	}
}

func newJudgeConfig(opts ...JudgeOption) judgeConfig {
	jc := judgeConfig{maxTokens: defaultJudgeMaxTokens}
	for _, opt := range opts {
		opt(&jc)
	}
	return jc
}

// request builds a deterministic judge request. Temperature is pinned to 0
// so grading does not drift between runs.
func (jc judgeConfig) request(system, user string) llm.Request {
	temperature := 0.0
	req := llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: &temperature,
		MaxTokens:   jc.maxTokens,
	}
	if jc.endpoint != "" {
		req.Endpoint = jc.endpoint
	} else {
		req.Capability = string(model.CapabilityJudge)
	}
	return req
}

// judgeRef names the judge configuration for cache keying: the pinned
// endpoint, or the capability the registry resolves.
func (jc judgeConfig) judgeRef() string {
	if jc.endpoint != "" {
		return jc.endpoint
	}
	return string(model.CapabilityJudge)
}

// lookup returns a cached judgment for the grading input, if present.
func (jc judgeConfig) lookup(evaluator, questionID, response string) (*Judgment, bool) {
	if jc.cache == nil {
		return nil, false
	}
	key := CacheKey(evaluator, questionID, response, jc.judgeRef())
	judgment, ok := jc.cache.Get(key)
	if !ok {
		return nil, false
	}
	judgment.Cached = true
	return &judgment, true
}

// store persists a fresh judgment for later replay.
func (jc judgeConfig) store(evaluator, questionID, response string, judgment Judgment) error {
	if jc.cache == nil {
		return nil
	}
	key := CacheKey(evaluator, questionID, response, jc.judgeRef())
	if err := jc.cache.Put(key, judgment); err != nil {
		return fmt.Errorf("persist judge verdict: %w", err)
	}
	return nil
}

// decodeVerdict unmarshals the JSON object in a judge reply. Judges are
// prompted for strict JSON but ExtractJSON tolerates fenced and commented
// replies.
func decodeVerdict(content string, out any) error {
	raw := llm.ExtractJSON(content)
	if raw == "" {
		return fmt.Errorf("no JSON object in judge reply")
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("parse judge verdict: %w", err)
	}
	return nil
}

// renderTranscript renders turns in the same line format the dispatcher
// shows the subject model, so the judge reads what the subject read.
func renderTranscript(turns []dataset.ConversationTurn) string {
	var b strings.Builder
	for i := range turns {
		t := &turns[i]
		fmt.Fprintf(&b, "[%s] %s: %s\n", t.Timestamp.UTC().Format(time.RFC3339), t.SpeakerID, t.Text)
	}
	return b.String()
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
