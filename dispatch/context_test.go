package dispatch_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evermem/membench/dataset"
	"github.com/evermem/membench/dispatch"
)

// flatCounter makes budget math exact: every line costs the same.
type flatCounter struct{ per int }

func (f flatCounter) Count(string) int { return f.per }

func testStore(t *testing.T) *dataset.ConversationStore {
	t.Helper()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	turns := []dataset.ConversationTurn{
		{TurnID: "t1", CommunityID: "eng", SpeakerID: "u1", Timestamp: base, Text: "standup moved to Tuesday"},
		{TurnID: "t2", CommunityID: "eng", SpeakerID: "u2", Timestamp: base.Add(5 * time.Minute), Text: "works for me"},
		{TurnID: "t3", CommunityID: "eng", SpeakerID: "u1", Timestamp: base.Add(10 * time.Minute), Text: "3pm then"},
		{TurnID: "t4", CommunityID: "eng", SpeakerID: "u3", Timestamp: base.Add(15 * time.Minute), Text: "noted, see you there"},
		{TurnID: "o1", CommunityID: "ops", SpeakerID: "u4", Timestamp: base, Text: "deploy window is friday"},
	}
	store, err := dataset.NewConversationStore(turns)
	require.NoError(t, err)
	return store
}

func factualQuestion(id string) dataset.QuestionItem {
	return dataset.QuestionItem{
		QuestionID:    id,
		Tier:          dataset.TierFactualRecall,
		Prompt:        "When is the standup?",
		CommunityID:   "eng",
		ExpectedFacts: []string{"Tuesday", "3pm"},
	}
}

func TestBuildFullHistory(t *testing.T) {
	store := testStore(t)
	b := dispatch.NewPromptBuilder(store, flatCounter{per: 10}, dispatch.PolicyFull, 0)

	q := factualQuestion("q-1")
	prompt, err := b.Build(&q)
	require.NoError(t, err)

	assert.Equal(t, 4, prompt.Turns)
	assert.False(t, prompt.Truncated)
	assert.Contains(t, prompt.User, "standup moved to Tuesday")
	assert.Contains(t, prompt.User, "noted, see you there")
	assert.Contains(t, prompt.User, "Question: When is the standup?")
	assert.NotContains(t, prompt.User, "deploy window", "other communities stay out of the prompt")
	assert.Equal(t, 44, prompt.ContextTokens, "4 lines at 10 tokens plus newlines")
}

func TestBuildTruncateDropsEarliestFirst(t *testing.T) {
	store := testStore(t)
	// Each line costs 11; budget 22 keeps exactly the last two turns.
	b := dispatch.NewPromptBuilder(store, flatCounter{per: 10}, dispatch.PolicyTruncate, 22)

	q := factualQuestion("q-1")
	prompt, err := b.Build(&q)
	require.NoError(t, err)

	assert.Equal(t, 2, prompt.Turns)
	assert.True(t, prompt.Truncated)
	assert.Equal(t, 22, prompt.ContextTokens)
	assert.NotContains(t, prompt.User, "standup moved to Tuesday")
	assert.NotContains(t, prompt.User, "works for me")
	assert.Contains(t, prompt.User, "3pm then")
	assert.Contains(t, prompt.User, "noted, see you there")
}

func TestBuildDeterministic(t *testing.T) {
	store := testStore(t)
	b := dispatch.NewPromptBuilder(store, flatCounter{per: 10}, dispatch.PolicyTruncate, 22)

	q := factualQuestion("q-1")
	first, err := b.Build(&q)
	require.NoError(t, err)
	second, err := b.Build(&q)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestBuildNoTruncationWhenUnderBudget(t *testing.T) {
	store := testStore(t)
	b := dispatch.NewPromptBuilder(store, flatCounter{per: 10}, dispatch.PolicyTruncate, 1000)

	q := factualQuestion("q-1")
	prompt, err := b.Build(&q)
	require.NoError(t, err)

	assert.Equal(t, 4, prompt.Turns)
	assert.False(t, prompt.Truncated)
}

func TestBuildZeroBudget(t *testing.T) {
	store := testStore(t)
	b := dispatch.NewPromptBuilder(store, flatCounter{per: 10}, dispatch.PolicyTruncate, 0)

	t.Run("evidence required fails closed", func(t *testing.T) {
		q := factualQuestion("q-1")
		q.Evidence = []dataset.Span{{CommunityID: "eng", Start: 0, End: 1}}
		_, err := b.Build(&q)
		require.Error(t, err)
		assert.ErrorIs(t, err, dispatch.ErrEvidenceUnavailable)
	})

	t.Run("no evidence proceeds with empty context", func(t *testing.T) {
		q := factualQuestion("q-1")
		prompt, err := b.Build(&q)
		require.NoError(t, err)
		assert.Equal(t, 0, prompt.Turns)
		assert.True(t, prompt.Truncated)
		assert.Contains(t, prompt.User, "No message history is available")
		assert.Contains(t, prompt.User, "Question:")
	})
}

func TestBuildEvidenceTruncatedAway(t *testing.T) {
	store := testStore(t)
	// Budget 11 keeps only the final turn; evidence points at the first.
	b := dispatch.NewPromptBuilder(store, flatCounter{per: 10}, dispatch.PolicyTruncate, 11)

	q := factualQuestion("q-1")
	q.Evidence = []dataset.Span{{CommunityID: "eng", Start: 0, End: 1}}
	_, err := b.Build(&q)
	assert.ErrorIs(t, err, dispatch.ErrEvidenceUnavailable)
}

func TestBuildEvidenceInsideWindowSurvives(t *testing.T) {
	store := testStore(t)
	b := dispatch.NewPromptBuilder(store, flatCounter{per: 10}, dispatch.PolicyTruncate, 22)

	q := factualQuestion("q-1")
	q.Evidence = []dataset.Span{{CommunityID: "eng", Start: 2, End: 4}}
	prompt, err := b.Build(&q)
	require.NoError(t, err)
	assert.True(t, prompt.Truncated)
	assert.Equal(t, 2, prompt.Turns)
}

func TestBuildIntegrityErrors(t *testing.T) {
	store := testStore(t)
	b := dispatch.NewPromptBuilder(store, flatCounter{per: 10}, dispatch.PolicyFull, 0)

	t.Run("unknown community", func(t *testing.T) {
		q := factualQuestion("q-1")
		q.CommunityID = "ghost"
		_, err := b.Build(&q)
		assert.ErrorIs(t, err, dataset.ErrUnknownCommunity)
	})

	t.Run("span out of range", func(t *testing.T) {
		q := factualQuestion("q-1")
		q.Evidence = []dataset.Span{{CommunityID: "eng", Start: 0, End: 99}}
		_, err := b.Build(&q)
		assert.ErrorIs(t, err, dataset.ErrSpanOutOfRange)
	})

	t.Run("span outside question community", func(t *testing.T) {
		q := factualQuestion("q-1")
		q.Evidence = []dataset.Span{{CommunityID: "ops", Start: 0, End: 1}}
		_, err := b.Build(&q)
		assert.ErrorIs(t, err, dispatch.ErrEvidenceUnavailable)
	})

	t.Run("as_of cuts evidence away", func(t *testing.T) {
		q := factualQuestion("q-1")
		q.AsOf = time.Date(2026, 3, 2, 9, 6, 0, 0, time.UTC) // only t1, t2 visible
		q.Evidence = []dataset.Span{{CommunityID: "eng", Start: 2, End: 4}}
		_, err := b.Build(&q)
		assert.ErrorIs(t, err, dispatch.ErrEvidenceUnavailable)
	})
}

func TestBuildAsOfLimitsHistory(t *testing.T) {
	store := testStore(t)
	b := dispatch.NewPromptBuilder(store, flatCounter{per: 10}, dispatch.PolicyFull, 0)

	q := factualQuestion("q-1")
	q.AsOf = time.Date(2026, 3, 2, 9, 6, 0, 0, time.UTC)
	prompt, err := b.Build(&q)
	require.NoError(t, err)

	assert.Equal(t, 2, prompt.Turns)
	assert.Contains(t, prompt.User, "works for me")
	assert.NotContains(t, prompt.User, "3pm then")
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		input   string
		want    dispatch.Policy
		wantErr bool
	}{
		{"full", dispatch.PolicyFull, false},
		{"truncate", dispatch.PolicyTruncate, false},
		{"", dispatch.PolicyTruncate, false},
		{"sliding", "", true},
	}

	for _, tc := range tests {
		got, err := dispatch.ParsePolicy(tc.input)
		if tc.wantErr {
			assert.Error(t, err, "input %q", tc.input)
			continue
		}
		require.NoError(t, err, "input %q", tc.input)
		assert.Equal(t, tc.want, got)
	}
}
