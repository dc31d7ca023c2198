package score_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evermem/membench/dataset"
	"github.com/evermem/membench/score"
)

func personaQuestion() *dataset.QuestionItem {
	return &dataset.QuestionItem{
		QuestionID:  "q-persona",
		Tier:        dataset.TierPersonalization,
		Prompt:      "Reply to Jordan's deploy question the way Casey would.",
		CommunityID: "eng",
		SpeakerID:   "casey",
		ExpectedStyle: &dataset.StyleProfile{
			Formality:  "Casual",
			Verbosity:  "Concise",
			EmojiUsage: "Frequent",
		},
	}
}

func TestPersonaAdapted(t *testing.T) {
	mock := judgeReply(`{"alignment": "adapted", "score": 0.8, "reasoning": "short, casual, uses emoji"}`)
	ev := score.NewPersonaEvaluator(mock)

	j, err := ev.Evaluate(context.Background(), personaQuestion(), "yep, shipping it now 🚀")
	require.NoError(t, err)
	assert.Equal(t, 0.8, j.Score)
	assert.Equal(t, score.VerdictAdapted, j.Verdict)
	assert.Equal(t, "short, casual, uses emoji", j.Rationale)
	assert.Equal(t, "judge-1", j.JudgeModel)

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "judge", reqs[0].Capability)
	user := reqs[0].Messages[1].Content
	assert.Contains(t, user, "casey")
	assert.Contains(t, user, "Formality: Casual")
	assert.Contains(t, user, "Emoji usage: Frequent")
	assert.Contains(t, user, "yep, shipping it now")
}

func TestPersonaGenericIsCapped(t *testing.T) {
	mock := judgeReply(`{"alignment": "generic", "score": 0.9, "reasoning": "neutral assistant voice"}`)
	ev := score.NewPersonaEvaluator(mock)

	j, err := ev.Evaluate(context.Background(), personaQuestion(), "The deployment is scheduled and will proceed as planned.")
	require.NoError(t, err)
	assert.Equal(t, 0.5, j.Score)
	assert.Equal(t, score.VerdictGeneric, j.Verdict)
}

func TestPersonaContradictingScoresZero(t *testing.T) {
	mock := judgeReply(`{"alignment": "contradicting", "score": 0.6, "reasoning": "stiff and formal where casual was expected"}`)
	ev := score.NewPersonaEvaluator(mock)

	j, err := ev.Evaluate(context.Background(), personaQuestion(), "Dear Jordan, per our deployment policy...")
	require.NoError(t, err)
	assert.Equal(t, 0.0, j.Score)
	assert.Equal(t, score.VerdictContradicting, j.Verdict)
}

func TestPersonaAlignmentCaseInsensitive(t *testing.T) {
	mock := judgeReply(`{"alignment": "Adapted", "score": 0.7, "reasoning": "x"}`)
	ev := score.NewPersonaEvaluator(mock)

	j, err := ev.Evaluate(context.Background(), personaQuestion(), "sounds good, go for it")
	require.NoError(t, err)
	assert.Equal(t, score.VerdictAdapted, j.Verdict)
}

func TestPersonaUnknownAlignment(t *testing.T) {
	mock := judgeReply(`{"alignment": "mixed", "score": 0.7, "reasoning": "x"}`)
	ev := score.NewPersonaEvaluator(mock)

	_, err := ev.Evaluate(context.Background(), personaQuestion(), "sounds good")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown alignment")
}

func TestPersonaMissingStyle(t *testing.T) {
	mock := judgeReply(`{"alignment": "adapted", "score": 0.7, "reasoning": "x"}`)
	ev := score.NewPersonaEvaluator(mock)
	q := personaQuestion()
	q.ExpectedStyle = nil

	_, err := ev.Evaluate(context.Background(), q, "sounds good")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no expected style")
	assert.Equal(t, 0, mock.CallCount())
}

func TestPersonaCacheReplaysVerdict(t *testing.T) {
	mock := judgeReply(`{"alignment": "adapted", "score": 0.8, "reasoning": "x"}`)
	ev := score.NewPersonaEvaluator(mock, score.WithJudgeCache(score.NewVerdictCache()))
	q := personaQuestion()

	first, err := ev.Evaluate(context.Background(), q, "yep, on it")
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := ev.Evaluate(context.Background(), q, "yep, on it")
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, 1, mock.CallCount())
}

func TestPersonaIdentity(t *testing.T) {
	ev := score.NewPersonaEvaluator(nil)
	assert.Equal(t, "personalization/v1", ev.Name())
	assert.Equal(t, dataset.TierPersonalization, ev.Tier())
}
