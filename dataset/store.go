package dataset

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Sentinel errors for evidence resolution and store construction.
var (
	ErrUnknownCommunity  = errors.New("unknown community")
	ErrSpanOutOfRange    = errors.New("evidence span out of range")
	ErrDuplicateTurn     = errors.New("duplicate turn id")
	ErrDuplicateQuestion = errors.New("duplicate question id")
	ErrDuplicatePersona  = errors.New("duplicate persona id")
)

// ConversationStore holds ingested turns grouped by community and ordered by
// timestamp (turn_id breaks ties). The store is built once and never mutated,
// so reads are safe for concurrent use without locking.
type ConversationStore struct {
	byCommunity map[string][]ConversationTurn
	communities []string
}

// NewConversationStore builds a store from loaded turns. Turns are sorted
// per community; duplicate turn ids are rejected.
func NewConversationStore(turns []ConversationTurn) (*ConversationStore, error) {
	byCommunity := make(map[string][]ConversationTurn)
	seen := make(map[string]string, len(turns)) // turn_id -> community

	for _, turn := range turns {
		if turn.TurnID == "" {
			return nil, fmt.Errorf("turn in community %q has no turn_id", turn.CommunityID)
		}
		if turn.CommunityID == "" {
			return nil, fmt.Errorf("turn %s has no community_id", turn.TurnID)
		}
		if prev, ok := seen[turn.TurnID]; ok {
			return nil, fmt.Errorf("turn %s in %s and %s: %w", turn.TurnID, prev, turn.CommunityID, ErrDuplicateTurn)
		}
		seen[turn.TurnID] = turn.CommunityID
		byCommunity[turn.CommunityID] = append(byCommunity[turn.CommunityID], turn)
	}

	communities := make([]string, 0, len(byCommunity))
	for community, sequence := range byCommunity {
		sort.SliceStable(sequence, func(i, j int) bool {
			if sequence[i].Timestamp.Equal(sequence[j].Timestamp) {
				return sequence[i].TurnID < sequence[j].TurnID
			}
			return sequence[i].Timestamp.Before(sequence[j].Timestamp)
		})
		byCommunity[community] = sequence
		communities = append(communities, community)
	}
	sort.Strings(communities)

	return &ConversationStore{
		byCommunity: byCommunity,
		communities: communities,
	}, nil
}

// Communities returns all community ids in sorted order.
func (s *ConversationStore) Communities() []string {
	return s.communities
}

// Turns returns the time-ordered turn sequence for a community.
// The returned slice is shared; callers must not modify it.
func (s *ConversationStore) Turns(community string) ([]ConversationTurn, error) {
	sequence, ok := s.byCommunity[community]
	if !ok {
		return nil, fmt.Errorf("community %q: %w", community, ErrUnknownCommunity)
	}
	return sequence, nil
}

// TurnCount returns the number of turns in a community, 0 when unknown.
func (s *ConversationStore) TurnCount(community string) int {
	return len(s.byCommunity[community])
}

// TotalTurns returns the number of turns across all communities.
func (s *ConversationStore) TotalTurns() int {
	total := 0
	for _, sequence := range s.byCommunity {
		total += len(sequence)
	}
	return total
}

// History returns the turns of a community up to and including asOf.
// A zero asOf returns the full sequence. The returned slice is shared;
// callers must not modify it.
func (s *ConversationStore) History(community string, asOf time.Time) ([]ConversationTurn, error) {
	sequence, err := s.Turns(community)
	if err != nil {
		return nil, err
	}
	if asOf.IsZero() {
		return sequence, nil
	}
	// Sequences are time-ordered, so the cutoff is a prefix boundary.
	cut := sort.Search(len(sequence), func(i int) bool {
		return sequence[i].Timestamp.After(asOf)
	})
	return sequence[:cut], nil
}

// Resolve returns the turns referenced by a span.
// Returns ErrUnknownCommunity or ErrSpanOutOfRange (wrapped) on bad spans.
func (s *ConversationStore) Resolve(span Span) ([]ConversationTurn, error) {
	sequence, ok := s.byCommunity[span.CommunityID]
	if !ok {
		return nil, fmt.Errorf("span %s: %w", span, ErrUnknownCommunity)
	}
	if span.Start < 0 || span.End < span.Start || span.End > len(sequence) {
		return nil, fmt.Errorf("span %s over %d turns: %w", span, len(sequence), ErrSpanOutOfRange)
	}
	return sequence[span.Start:span.End], nil
}

// ResolveAll resolves every span, concatenating the referenced turns in
// span order. Any unresolvable span fails the whole call.
func (s *ConversationStore) ResolveAll(spans []Span) ([]ConversationTurn, error) {
	var turns []ConversationTurn
	for _, span := range spans {
		resolved, err := s.Resolve(span)
		if err != nil {
			return nil, err
		}
		turns = append(turns, resolved...)
	}
	return turns, nil
}

// QuestionSet holds the loaded question items, indexed by id.
// Like the conversation store it is immutable after construction.
type QuestionSet struct {
	items []QuestionItem
	byID  map[string]int
}

// NewQuestionSet builds a set from loaded items, validating each and
// rejecting duplicate question ids.
func NewQuestionSet(items []QuestionItem) (*QuestionSet, error) {
	byID := make(map[string]int, len(items))
	for i := range items {
		if err := items[i].Validate(); err != nil {
			return nil, err
		}
		if _, ok := byID[items[i].QuestionID]; ok {
			return nil, fmt.Errorf("question %s: %w", items[i].QuestionID, ErrDuplicateQuestion)
		}
		byID[items[i].QuestionID] = i
	}
	return &QuestionSet{items: items, byID: byID}, nil
}

// Items returns all questions in load order.
// The returned slice is shared; callers must not modify it.
func (qs *QuestionSet) Items() []QuestionItem {
	return qs.items
}

// Get returns the question with the given id.
func (qs *QuestionSet) Get(id string) (*QuestionItem, bool) {
	i, ok := qs.byID[id]
	if !ok {
		return nil, false
	}
	return &qs.items[i], true
}

// Len returns the number of questions.
func (qs *QuestionSet) Len() int {
	return len(qs.items)
}

// IntegrityIssue records one evidence reference that failed to resolve.
type IntegrityIssue struct {
	QuestionID string `json:"question_id"`
	Span       Span   `json:"span"`
	Reason     string `json:"reason"`
}

// VerifyEvidence checks that every question's evidence spans resolve against
// the conversation store. All issues are collected rather than failing on
// the first, so a validation run reports the complete picture.
func (qs *QuestionSet) VerifyEvidence(store *ConversationStore) []IntegrityIssue {
	var issues []IntegrityIssue
	for i := range qs.items {
		q := &qs.items[i]
		for _, span := range q.Evidence {
			if _, err := store.Resolve(span); err != nil {
				issues = append(issues, IntegrityIssue{
					QuestionID: q.QuestionID,
					Span:       span,
					Reason:     err.Error(),
				})
			}
		}
	}
	return issues
}

// PersonaSet indexes personas by user id.
type PersonaSet struct {
	byID map[string]Persona
}

// NewPersonaSet builds a set from loaded personas, rejecting duplicates.
func NewPersonaSet(personas []Persona) (*PersonaSet, error) {
	byID := make(map[string]Persona, len(personas))
	for _, p := range personas {
		if p.UserID == "" {
			return nil, fmt.Errorf("persona %q has no user_id", p.UserName)
		}
		if _, ok := byID[p.UserID]; ok {
			return nil, fmt.Errorf("persona %s: %w", p.UserID, ErrDuplicatePersona)
		}
		for _, w := range p.Styles {
			if err := w.Style.Validate(); err != nil {
				return nil, fmt.Errorf("persona %s: %w", p.UserID, err)
			}
		}
		byID[p.UserID] = p
	}
	return &PersonaSet{byID: byID}, nil
}

// Get returns the persona with the given user id.
func (ps *PersonaSet) Get(userID string) (Persona, bool) {
	p, ok := ps.byID[userID]
	return p, ok
}

// Len returns the number of personas.
func (ps *PersonaSet) Len() int {
	return len(ps.byID)
}
