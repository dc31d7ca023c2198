package dataset

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// maxLineBytes caps a single JSONL line. Long community histories produce
// large turn records, but a line beyond this is almost certainly corrupt.
const maxLineBytes = 16 * 1024 * 1024

// Dataset bundles the loaded benchmark inputs.
type Dataset struct {
	Personas      *PersonaSet
	Conversations *ConversationStore
	Questions     *QuestionSet

	// Digests maps each loaded file path to its SHA-256 hex digest,
	// recorded in the run manifest for reproducibility.
	Digests map[string]string
}

// LoadOptions controls dataset loading behavior.
type LoadOptions struct {
	// ValidateSchema runs JSON Schema validation on every line before
	// decoding. Slower, but turns malformed records into per-line errors
	// instead of partial decodes.
	ValidateSchema bool

	// NormalizeRichText converts HTML-formatted turn text to markdown.
	NormalizeRichText bool
}

// Source names the dataset input files as glob patterns.
// Patterns support doublestar syntax, e.g. "conversations/**/*.jsonl".
type Source struct {
	Personas      []string `yaml:"personas" json:"personas"`
	Conversations []string `yaml:"conversations" json:"conversations"`
	Questions     []string `yaml:"questions" json:"questions"`
}

// ExpandGlobs resolves glob patterns to matching file paths, sorted and
// de-duplicated. A pattern matching nothing is an error: a dataset silently
// missing a shard would skew every aggregate downstream.
func ExpandGlobs(patterns []string) ([]string, error) {
	seen := make(map[string]struct{})
	var paths []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("glob %q matched no files", pattern)
		}
		for _, match := range matches {
			if _, ok := seen[match]; ok {
				continue
			}
			seen[match] = struct{}{}
			paths = append(paths, match)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Load reads the dataset named by src, building the persona set,
// conversation store, and question set.
func Load(src Source, opts LoadOptions) (*Dataset, error) {
	ds := &Dataset{Digests: make(map[string]string)}

	personaPaths, err := ExpandGlobs(src.Personas)
	if err != nil {
		return nil, fmt.Errorf("personas: %w", err)
	}
	turnPaths, err := ExpandGlobs(src.Conversations)
	if err != nil {
		return nil, fmt.Errorf("conversations: %w", err)
	}
	questionPaths, err := ExpandGlobs(src.Questions)
	if err != nil {
		return nil, fmt.Errorf("questions: %w", err)
	}

	if opts.ValidateSchema {
		kinds := []struct {
			kind  RecordKind
			paths []string
		}{
			{RecordPersona, personaPaths},
			{RecordTurn, turnPaths},
			{RecordQuestion, questionPaths},
		}
		for _, group := range kinds {
			for _, path := range group.paths {
				issues, err := ValidateJSONL(path, group.kind)
				if err != nil {
					return nil, err
				}
				if len(issues) > 0 {
					return nil, fmt.Errorf("%s: %d schema violations, first: %s", path, len(issues), issues[0])
				}
			}
		}
	}

	var personas []Persona
	for _, path := range personaPaths {
		if err := readJSONL(path, func(line []byte) error {
			var p Persona
			if err := json.Unmarshal(line, &p); err != nil {
				return err
			}
			personas = append(personas, p)
			return nil
		}); err != nil {
			return nil, err
		}
		if err := ds.digest(path); err != nil {
			return nil, err
		}
	}

	var normalizer *Normalizer
	if opts.NormalizeRichText {
		normalizer = NewNormalizer()
	}
	var turns []ConversationTurn
	for _, path := range turnPaths {
		if err := readJSONL(path, func(line []byte) error {
			var turn ConversationTurn
			if err := json.Unmarshal(line, &turn); err != nil {
				return err
			}
			if normalizer != nil {
				turn.Text = normalizer.Normalize(turn.Text)
			}
			turns = append(turns, turn)
			return nil
		}); err != nil {
			return nil, err
		}
		if err := ds.digest(path); err != nil {
			return nil, err
		}
	}

	var questions []QuestionItem
	for _, path := range questionPaths {
		if err := readJSONL(path, func(line []byte) error {
			var q QuestionItem
			if err := json.Unmarshal(line, &q); err != nil {
				return err
			}
			questions = append(questions, q)
			return nil
		}); err != nil {
			return nil, err
		}
		if err := ds.digest(path); err != nil {
			return nil, err
		}
	}

	ds.Personas, err = NewPersonaSet(personas)
	if err != nil {
		return nil, fmt.Errorf("personas: %w", err)
	}
	ds.Conversations, err = NewConversationStore(turns)
	if err != nil {
		return nil, fmt.Errorf("conversations: %w", err)
	}
	ds.Questions, err = NewQuestionSet(questions)
	if err != nil {
		return nil, fmt.Errorf("questions: %w", err)
	}

	return ds, nil
}

// readJSONL streams a JSONL file line by line, invoking fn per non-empty
// line. Decode errors are wrapped with the file path and line number.
func readJSONL(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

// digest records the SHA-256 of a loaded file.
func (d *Dataset) digest(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("hash %s: %w", path, err)
	}
	d.Digests[path] = hex.EncodeToString(h.Sum(nil))
	return nil
}
