package dispatch

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/evermem/membench/dataset"
	"github.com/evermem/membench/tokens"
)

// ErrEvidenceUnavailable marks a question whose evidence turns are not
// present in the rendered context window.
var ErrEvidenceUnavailable = errors.New("evidence unavailable in context window")

// Policy selects how much conversation history a question is given.
type Policy string

const (
	// PolicyFull sends the entire community history up to the
	// question's as_of time, regardless of max_context_tokens.
	PolicyFull Policy = "full"

	// PolicyTruncate drops the earliest turns until the rendered
	// history fits max_context_tokens.
	PolicyTruncate Policy = "truncate"
)

// ParsePolicy parses a policy string; empty defaults to truncate.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyFull, PolicyTruncate:
		return Policy(s), nil
	case "":
		return PolicyTruncate, nil
	}
	return "", fmt.Errorf("unknown context policy %q", s)
}

const subjectSystem = "You are a member of a workplace chat. Answer questions " +
	"about the conversation history you are shown. Base your answer only on " +
	"that history."

// Prompt is the exact content sent to the subject model for one
// question, plus what the context policy did to produce it.
type Prompt struct {
	System string
	User   string

	// ContextTokens counts the rendered history lines that survived
	// truncation, in the builder's token encoding.
	ContextTokens int
	Turns         int
	Truncated     bool
}

// PromptBuilder renders question prompts deterministically: the same
// store, policy, budget, and question always produce the same prompt.
type PromptBuilder struct {
	store   *dataset.ConversationStore
	counter tokens.Counter
	policy  Policy
	budget  int
}

// NewPromptBuilder creates a builder over an ingested conversation
// store. budget is max_context_tokens and only applies under
// PolicyTruncate.
func NewPromptBuilder(store *dataset.ConversationStore, counter tokens.Counter, policy Policy, budget int) *PromptBuilder {
	if counter == nil {
		counter = tokens.Estimator{}
	}
	return &PromptBuilder{
		store:   store,
		counter: counter,
		policy:  policy,
		budget:  budget,
	}
}

// Build renders the prompt for a question. All errors are integrity
// errors: unknown community, unresolvable evidence span, or evidence
// falling outside the context window (ErrEvidenceUnavailable). The
// latter covers max_context_tokens=0, which drops every turn.
func (b *PromptBuilder) Build(q *dataset.QuestionItem) (*Prompt, error) {
	history, err := b.store.History(q.CommunityID, q.AsOf)
	if err != nil {
		return nil, err
	}
	if _, err := b.store.ResolveAll(q.Evidence); err != nil {
		return nil, err
	}

	lines := make([]string, len(history))
	costs := make([]int, len(history))
	total := 0
	for i, turn := range history {
		lines[i] = renderTurn(turn)
		costs[i] = b.counter.Count(lines[i]) + 1 // trailing newline
		total += costs[i]
	}

	// Earliest-first drop until the history fits the budget.
	drop := 0
	if b.policy == PolicyTruncate {
		for drop < len(history) && total > b.budget {
			total -= costs[drop]
			drop++
		}
	}

	for _, span := range q.Evidence {
		if span.CommunityID != q.CommunityID {
			return nil, fmt.Errorf("span %s outside question community %s: %w", span, q.CommunityID, ErrEvidenceUnavailable)
		}
		if span.Start < drop || span.End > len(history) {
			return nil, fmt.Errorf("span %s with window [%d:%d): %w", span, drop, len(history), ErrEvidenceUnavailable)
		}
	}

	included := lines[drop:]
	var user strings.Builder
	if len(included) > 0 {
		fmt.Fprintf(&user, "Message history for community %s, oldest first:\n\n", q.CommunityID)
		for _, line := range included {
			user.WriteString(line)
			user.WriteByte('\n')
		}
		user.WriteByte('\n')
	} else {
		user.WriteString("No message history is available.\n\n")
	}
	fmt.Fprintf(&user, "Question: %s\n", q.Prompt)

	return &Prompt{
		System:        subjectSystem,
		User:          user.String(),
		ContextTokens: total,
		Turns:         len(included),
		Truncated:     drop > 0,
	}, nil
}

func renderTurn(t dataset.ConversationTurn) string {
	return fmt.Sprintf("[%s] %s: %s", t.Timestamp.UTC().Format(time.RFC3339), t.SpeakerID, t.Text)
}
