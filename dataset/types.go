// Package dataset defines the benchmark data model: personas with
// time-windowed communication styles, community conversation turns, and the
// three-tier question items that reference them. Records are loaded from
// JSONL files and are immutable once ingested.
package dataset

import (
	"fmt"
	"strings"
	"time"
)

// Tier identifies one of the three evaluated capability axes.
type Tier string

const (
	// TierFactualRecall tests retrieval of facts stated in the conversation.
	TierFactualRecall Tier = "factual_recall"

	// TierAppliedMemory tests recall of a prior event plus its correct
	// integration into a contextually appropriate answer.
	TierAppliedMemory Tier = "applied_memory"

	// TierPersonalization tests adaptation to a persona's communication
	// style for the queried community and time window.
	TierPersonalization Tier = "personalization"
)

// IsValid checks if a tier string is a known tier.
func (t Tier) IsValid() bool {
	switch t {
	case TierFactualRecall, TierAppliedMemory, TierPersonalization:
		return true
	}
	return false
}

// String returns the string representation of the tier.
func (t Tier) String() string {
	return string(t)
}

// ParseTier converts a string to a Tier, returning empty for invalid values.
func ParseTier(s string) Tier {
	tier := Tier(s)
	if tier.IsValid() {
		return tier
	}
	return ""
}

// Tiers lists all tiers in report order.
func Tiers() []Tier {
	return []Tier{TierFactualRecall, TierAppliedMemory, TierPersonalization}
}

// StyleProfile describes a persona's communication style along eight
// dimensions. Level values are enumerated; see the dimension constants.
type StyleProfile struct {
	Formality        string `json:"formality"`         // Formal, Semi-formal, Casual
	Verbosity        string `json:"verbosity"`         // Detailed, Moderate, Concise
	Humor            string `json:"humor"`             // Frequent, Occasional, Minimal
	JargonUsage      string `json:"jargon_usage"`      // Technical, Balanced, Plain
	EmojiUsage       string `json:"emoji_usage"`       // Frequent, Occasional, Rare
	Directness       string `json:"directness"`        // Direct, Balanced, Indirect
	Warmth           string `json:"warmth"`            // Warm, Friendly, Neutral
	QuestioningStyle string `json:"questioning_style"` // Probing, Clarifying, Accepting
}

// styleLevels maps each dimension to its allowed values.
var styleLevels = map[string][]string{
	"formality":         {"Formal", "Semi-formal", "Casual"},
	"verbosity":         {"Detailed", "Moderate", "Concise"},
	"humor":             {"Frequent", "Occasional", "Minimal"},
	"jargon_usage":      {"Technical", "Balanced", "Plain"},
	"emoji_usage":       {"Frequent", "Occasional", "Rare"},
	"directness":        {"Direct", "Balanced", "Indirect"},
	"warmth":            {"Warm", "Friendly", "Neutral"},
	"questioning_style": {"Probing", "Clarifying", "Accepting"},
}

// dimensions returns the profile as ordered (name, value) pairs.
func (s *StyleProfile) dimensions() [][2]string {
	return [][2]string{
		{"formality", s.Formality},
		{"verbosity", s.Verbosity},
		{"humor", s.Humor},
		{"jargon_usage", s.JargonUsage},
		{"emoji_usage", s.EmojiUsage},
		{"directness", s.Directness},
		{"warmth", s.Warmth},
		{"questioning_style", s.QuestioningStyle},
	}
}

// Validate checks that every set dimension uses an allowed level.
// Empty dimensions are permitted: a profile may constrain only some axes.
func (s *StyleProfile) Validate() error {
	for _, dim := range s.dimensions() {
		name, value := dim[0], dim[1]
		if value == "" {
			continue
		}
		valid := false
		for _, lv := range styleLevels[name] {
			if value == lv {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("style dimension %s: unknown level %q", name, value)
		}
	}
	return nil
}

// Describe renders the profile as a compact single-line description,
// suitable for embedding in grading prompts. Unset dimensions are omitted.
func (s *StyleProfile) Describe() string {
	parts := make([]string, 0, 8)
	labels := map[string]string{
		"formality":         "Formality",
		"verbosity":         "Verbosity",
		"humor":             "Humor",
		"jargon_usage":      "Jargon usage",
		"emoji_usage":       "Emoji usage",
		"directness":        "Directness",
		"warmth":            "Warmth",
		"questioning_style": "Questioning style",
	}
	for _, dim := range s.dimensions() {
		if dim[1] == "" {
			continue
		}
		parts = append(parts, labels[dim[0]]+": "+dim[1])
	}
	return strings.Join(parts, "; ")
}

// IsZero reports whether no dimension is set.
func (s *StyleProfile) IsZero() bool {
	for _, dim := range s.dimensions() {
		if dim[1] != "" {
			return false
		}
	}
	return true
}

// HardSkill is a persona skill with a proficiency level.
type HardSkill struct {
	Skill       string `json:"skill"`
	Proficiency string `json:"proficiency"` // strong, medium, low
}

// StyleWindow binds a style profile to a community and time window.
// A zero From or To leaves that side of the window open.
type StyleWindow struct {
	CommunityID string       `json:"community_id"`
	From        time.Time    `json:"from,omitzero"`
	To          time.Time    `json:"to,omitzero"`
	Style       StyleProfile `json:"style"`
}

// Contains reports whether the window covers the given community and time.
func (w *StyleWindow) Contains(community string, at time.Time) bool {
	if w.CommunityID != "" && w.CommunityID != community {
		return false
	}
	if !w.From.IsZero() && at.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && at.After(w.To) {
		return false
	}
	return true
}

// Persona describes a conversation participant. Styles may differ per
// community and drift over time, so a persona carries one style window per
// (community, period) rather than a single profile.
type Persona struct {
	UserID     string        `json:"user_id"`
	UserName   string        `json:"user_name"`
	Team       string        `json:"team,omitempty"`
	DeptID     string        `json:"dept_id,omitempty"`
	Rank       int           `json:"rank,omitempty"` // 1 senior leadership, 2 team lead, 3 staff
	Title      string        `json:"title,omitempty"`
	HardSkills []HardSkill   `json:"hard_skills,omitempty"`
	Styles     []StyleWindow `json:"styles,omitempty"`
}

// StyleAt returns the style profile expected for a community at a point in
// time. When several windows match, the latest-starting one wins, matching
// how drift is recorded (later windows refine earlier ones).
func (p *Persona) StyleAt(community string, at time.Time) (StyleProfile, bool) {
	var best *StyleWindow
	for i := range p.Styles {
		w := &p.Styles[i]
		if !w.Contains(community, at) {
			continue
		}
		if best == nil || w.From.After(best.From) {
			best = w
		}
	}
	if best == nil {
		return StyleProfile{}, false
	}
	return best.Style, true
}

// ConversationTurn is a single utterance in a community conversation.
// Turns are immutable once ingested and ordered within a community by
// timestamp, with turn_id as the tiebreaker.
type ConversationTurn struct {
	TurnID      string    `json:"turn_id"`
	CommunityID string    `json:"community_id"`
	SpeakerID   string    `json:"speaker_id"`
	Timestamp   time.Time `json:"timestamp"`
	Text        string    `json:"text"`
}

// Span references the half-open range [Start, End) of a community's
// time-ordered turn sequence.
type Span struct {
	CommunityID string `json:"community_id"`
	Start       int    `json:"start"`
	End         int    `json:"end"`
}

// String renders the span as community[start:end).
func (s Span) String() string {
	return fmt.Sprintf("%s[%d:%d)", s.CommunityID, s.Start, s.End)
}

// QuestionItem is one benchmark question. The expected-answer fields used
// depend on the tier; Validate enforces the per-tier requirements.
type QuestionItem struct {
	QuestionID  string    `json:"question_id"`
	Tier        Tier      `json:"tier"`
	Prompt      string    `json:"prompt"`
	CommunityID string    `json:"community_id"`
	SpeakerID   string    `json:"speaker_id,omitempty"`
	AsOf        time.Time `json:"as_of,omitzero"`
	Evidence    []Span    `json:"evidence,omitempty"`

	// ExpectedAnswer is the reference answer shown to graders.
	ExpectedAnswer string `json:"expected_answer,omitempty"`

	// ExpectedFacts lists independently creditable facts (factual_recall).
	ExpectedFacts []string `json:"expected_facts,omitempty"`

	// Rubric describes what a correct integration must contain and what
	// plausible-but-wrong looks like (applied_memory).
	Rubric string `json:"rubric,omitempty"`

	// ExpectedStyle is the persona-consistent style for the queried
	// community and time window (personalization).
	ExpectedStyle *StyleProfile `json:"expected_style,omitempty"`
}

// RequiresEvidence reports whether the question declares evidence spans.
func (q *QuestionItem) RequiresEvidence() bool {
	return len(q.Evidence) > 0
}

// Validate checks identity, tier, and the per-tier expected-answer fields.
func (q *QuestionItem) Validate() error {
	if q.QuestionID == "" {
		return fmt.Errorf("question_id is required")
	}
	if !q.Tier.IsValid() {
		return fmt.Errorf("question %s: unknown tier %q", q.QuestionID, string(q.Tier))
	}
	if q.Prompt == "" {
		return fmt.Errorf("question %s: prompt is required", q.QuestionID)
	}
	if q.CommunityID == "" {
		return fmt.Errorf("question %s: community_id is required", q.QuestionID)
	}
	for _, span := range q.Evidence {
		if span.CommunityID == "" {
			return fmt.Errorf("question %s: evidence span missing community_id", q.QuestionID)
		}
		if span.Start < 0 || span.End < span.Start {
			return fmt.Errorf("question %s: invalid evidence span %s", q.QuestionID, span)
		}
	}

	switch q.Tier {
	case TierFactualRecall:
		if len(q.ExpectedFacts) == 0 {
			return fmt.Errorf("question %s: factual_recall requires expected_facts", q.QuestionID)
		}
	case TierAppliedMemory:
		if q.ExpectedAnswer == "" {
			return fmt.Errorf("question %s: applied_memory requires expected_answer", q.QuestionID)
		}
		if q.Rubric == "" {
			return fmt.Errorf("question %s: applied_memory requires rubric", q.QuestionID)
		}
	case TierPersonalization:
		if q.ExpectedStyle == nil || q.ExpectedStyle.IsZero() {
			return fmt.Errorf("question %s: personalization requires expected_style", q.QuestionID)
		}
		if err := q.ExpectedStyle.Validate(); err != nil {
			return fmt.Errorf("question %s: %w", q.QuestionID, err)
		}
	}
	return nil
}
