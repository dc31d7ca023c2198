package score_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/evermem/membench/score"
)

func TestPairKey(t *testing.T) {
	rec := score.ScoreRecord{QuestionID: "q-1", Model: "gpt-4o"}
	assert.Equal(t, "q-1|gpt-4o", rec.PairKey())
}

func TestScoredPairs(t *testing.T) {
	records := []score.ScoreRecord{
		{QuestionID: "q-1", Model: "gpt-4o", Status: score.StatusOK},
		{QuestionID: "q-2", Model: "gpt-4o", Status: score.StatusExcluded},
		{QuestionID: "q-3", Model: "gpt-4o", Status: score.StatusScoringError},
	}

	pairs := score.ScoredPairs(records)
	assert.Contains(t, pairs, "q-1|gpt-4o")
	assert.Contains(t, pairs, "q-2|gpt-4o")
	// Scoring errors stay open so a re-run retries them.
	assert.NotContains(t, pairs, "q-3|gpt-4o")
}

func TestLatestByPair(t *testing.T) {
	records := []score.ScoreRecord{
		{QuestionID: "q-1", Model: "gpt-4o", Score: 0.2},
		{QuestionID: "q-2", Model: "gpt-4o", Score: 0.9},
		{QuestionID: "q-1", Model: "gpt-4o", Score: 0.8},
		{QuestionID: "q-1", Model: "claude", Score: 0.4},
	}

	latest := score.LatestByPair(records)
	assert.Len(t, latest, 3)

	// The re-score replaces the first record in place.
	assert.Equal(t, "q-1", latest[0].QuestionID)
	assert.Equal(t, 0.8, latest[0].Score)
	assert.Equal(t, "q-2", latest[1].QuestionID)

	// Different subject models are distinct pairs.
	assert.Equal(t, "claude", latest[2].Model)
	assert.Equal(t, 0.4, latest[2].Score)
}
