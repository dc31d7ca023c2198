package dataset_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evermem/membench/dataset"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const personaLines = `{"user_id":"u1","user_name":"Wei Chen","rank":2,"title":"Team Lead"}
{"user_id":"u2","user_name":"Dana Flores","rank":3}
`

const questionLines = `{"question_id":"q1","tier":"factual_recall","prompt":"When is kickoff?","community_id":"eng","evidence":[{"community_id":"eng","start":0,"end":2}],"expected_facts":["tomorrow"]}
`

func turnLines() string {
	return `{"turn_id":"t1","community_id":"eng","speaker_id":"u1","timestamp":"2025-03-01T09:00:00Z","text":"kickoff tomorrow"}
{"turn_id":"t2","community_id":"eng","speaker_id":"u2","timestamp":"2025-03-01T10:00:00Z","text":"<p>room <b>booked</b></p>"}
`
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "personas.jsonl", personaLines)
	writeFile(t, dir, "conversations/eng.jsonl", turnLines())
	writeFile(t, dir, "questions.jsonl", questionLines)

	src := dataset.Source{
		Personas:      []string{filepath.Join(dir, "personas.jsonl")},
		Conversations: []string{filepath.Join(dir, "conversations/*.jsonl")},
		Questions:     []string{filepath.Join(dir, "questions.jsonl")},
	}

	ds, err := dataset.Load(src, dataset.LoadOptions{ValidateSchema: true})
	require.NoError(t, err)

	assert.Equal(t, 2, ds.Personas.Len())
	assert.Equal(t, 2, ds.Conversations.TurnCount("eng"))
	assert.Equal(t, 1, ds.Questions.Len())
	assert.Len(t, ds.Digests, 3, "every loaded file is digested")
	for _, digest := range ds.Digests {
		assert.Len(t, digest, 64)
	}

	// Without normalization the raw markup is preserved.
	turns, err := ds.Conversations.Turns("eng")
	require.NoError(t, err)
	assert.Contains(t, turns[1].Text, "<b>")
}

func TestLoadNormalizesRichText(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "personas.jsonl", personaLines)
	writeFile(t, dir, "conversations.jsonl", turnLines())
	writeFile(t, dir, "questions.jsonl", questionLines)

	src := dataset.Source{
		Personas:      []string{filepath.Join(dir, "personas.jsonl")},
		Conversations: []string{filepath.Join(dir, "conversations.jsonl")},
		Questions:     []string{filepath.Join(dir, "questions.jsonl")},
	}

	ds, err := dataset.Load(src, dataset.LoadOptions{NormalizeRichText: true})
	require.NoError(t, err)

	turns, err := ds.Conversations.Turns("eng")
	require.NoError(t, err)
	assert.NotContains(t, turns[1].Text, "<b>")
	assert.Contains(t, turns[1].Text, "**booked**")
	assert.Equal(t, "kickoff tomorrow", turns[0].Text, "plain text is untouched")
}

func TestLoadUnmatchedGlob(t *testing.T) {
	dir := t.TempDir()
	src := dataset.Source{
		Personas:      []string{filepath.Join(dir, "nope/*.jsonl")},
		Conversations: []string{filepath.Join(dir, "nope/*.jsonl")},
		Questions:     []string{filepath.Join(dir, "nope/*.jsonl")},
	}
	_, err := dataset.Load(src, dataset.LoadOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "matched no files")
}

func TestLoadBadLineReportsLocation(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "personas.jsonl", personaLines+"{not json\n")
	writeFile(t, dir, "conversations.jsonl", turnLines())
	writeFile(t, dir, "questions.jsonl", questionLines)

	src := dataset.Source{
		Personas:      []string{filepath.Join(dir, "personas.jsonl")},
		Conversations: []string{filepath.Join(dir, "conversations.jsonl")},
		Questions:     []string{filepath.Join(dir, "questions.jsonl")},
	}
	_, err := dataset.Load(src, dataset.LoadOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "personas.jsonl:3")
}

func TestValidateJSONL(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "questions.jsonl", strings.Join([]string{
		`{"question_id":"q1","tier":"factual_recall","prompt":"p","community_id":"eng"}`,
		`{"question_id":"q2","tier":"recall","prompt":"p","community_id":"eng"}`,
		`{"question_id":"q3","prompt":"p","community_id":"eng"}`,
	}, "\n"))

	issues, err := dataset.ValidateJSONL(path, dataset.RecordQuestion)
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, 2, issues[0].Line)
	assert.Contains(t, issues[0].Detail, "tier")
	assert.Equal(t, 3, issues[1].Line)
}

func TestNormalizer(t *testing.T) {
	n := dataset.NewNormalizer()

	assert.Equal(t, "plain text", n.Normalize("plain text"))
	assert.Equal(t, "a < b and b > c", n.Normalize("a < b and b > c"), "bare comparisons are not markup")

	got := n.Normalize("<p>ship it <strong>today</strong></p><script>alert(1)</script>")
	assert.Contains(t, got, "**today**")
	assert.NotContains(t, got, "script")
	assert.NotContains(t, got, "alert")
}
