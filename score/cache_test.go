package score_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evermem/membench/score"
)

func TestCacheKey(t *testing.T) {
	base := score.CacheKey("applied_memory/v1", "q-1", "the answer", "judge")

	assert.Equal(t, base, score.CacheKey("applied_memory/v1", "q-1", "the answer", "judge"))
	assert.NotEqual(t, base, score.CacheKey("applied_memory/v2", "q-1", "the answer", "judge"))
	assert.NotEqual(t, base, score.CacheKey("applied_memory/v1", "q-2", "the answer", "judge"))
	assert.NotEqual(t, base, score.CacheKey("applied_memory/v1", "q-1", "the answer.", "judge"))
	assert.NotEqual(t, base, score.CacheKey("applied_memory/v1", "q-1", "the answer", "judge-2"))
}

func TestVerdictCachePutGet(t *testing.T) {
	cache := score.NewVerdictCache()

	_, ok := cache.Get("missing")
	assert.False(t, ok)

	judgment := score.Judgment{Score: 0.8, Verdict: score.VerdictCorrect, Rationale: "recalls the review", JudgeModel: "judge-1"}
	require.NoError(t, cache.Put("k1", judgment))

	got, ok := cache.Get("k1")
	require.True(t, ok)
	assert.Equal(t, judgment, got)
	assert.Equal(t, 1, cache.Len())
}

func TestVerdictCachePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "verdicts.jsonl")

	cache, err := score.OpenVerdictCache(path)
	require.NoError(t, err)
	require.NoError(t, cache.Put("k1", score.Judgment{Score: 0.4, Verdict: score.VerdictPartial}))
	require.NoError(t, cache.Put("k2", score.Judgment{Score: 1.0, Verdict: score.VerdictCorrect}))
	// Same key again: the newest entry wins on reload.
	require.NoError(t, cache.Put("k1", score.Judgment{Score: 0.6, Verdict: score.VerdictPartial}))
	require.NoError(t, cache.Close())

	reloaded, err := score.OpenVerdictCache(path)
	require.NoError(t, err)
	defer reloaded.Close()

	assert.Equal(t, 2, reloaded.Len())
	got, ok := reloaded.Get("k1")
	require.True(t, ok)
	assert.Equal(t, 0.6, got.Score)
	got, ok = reloaded.Get("k2")
	require.True(t, ok)
	assert.Equal(t, score.VerdictCorrect, got.Verdict)
}

func TestOpenVerdictCacheMissingFile(t *testing.T) {
	cache, err := score.OpenVerdictCache(filepath.Join(t.TempDir(), "fresh.jsonl"))
	require.NoError(t, err)
	defer cache.Close()
	assert.Equal(t, 0, cache.Len())
}
