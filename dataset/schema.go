package dataset

import (
	"bufio"
	"fmt"
	"os"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// RecordKind selects which JSONL record schema applies to a file.
type RecordKind string

const (
	RecordPersona  RecordKind = "persona"
	RecordTurn     RecordKind = "turn"
	RecordQuestion RecordKind = "question"
)

const turnSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["turn_id", "community_id", "speaker_id", "timestamp", "text"],
  "properties": {
    "turn_id": {"type": "string", "minLength": 1},
    "community_id": {"type": "string", "minLength": 1},
    "speaker_id": {"type": "string", "minLength": 1},
    "timestamp": {"type": "string", "format": "date-time"},
    "text": {"type": "string"}
  }
}`

const questionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["question_id", "tier", "prompt", "community_id"],
  "properties": {
    "question_id": {"type": "string", "minLength": 1},
    "tier": {"enum": ["factual_recall", "applied_memory", "personalization"]},
    "prompt": {"type": "string", "minLength": 1},
    "community_id": {"type": "string", "minLength": 1},
    "speaker_id": {"type": "string"},
    "as_of": {"type": "string", "format": "date-time"},
    "evidence": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["community_id", "start", "end"],
        "properties": {
          "community_id": {"type": "string", "minLength": 1},
          "start": {"type": "integer", "minimum": 0},
          "end": {"type": "integer", "minimum": 0}
        }
      }
    },
    "expected_answer": {"type": "string"},
    "expected_facts": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "rubric": {"type": "string"},
    "expected_style": {"$ref": "#/definitions/style"}
  },
  "definitions": {
    "style": {
      "type": "object",
      "properties": {
        "formality": {"enum": ["", "Formal", "Semi-formal", "Casual"]},
        "verbosity": {"enum": ["", "Detailed", "Moderate", "Concise"]},
        "humor": {"enum": ["", "Frequent", "Occasional", "Minimal"]},
        "jargon_usage": {"enum": ["", "Technical", "Balanced", "Plain"]},
        "emoji_usage": {"enum": ["", "Frequent", "Occasional", "Rare"]},
        "directness": {"enum": ["", "Direct", "Balanced", "Indirect"]},
        "warmth": {"enum": ["", "Warm", "Friendly", "Neutral"]},
        "questioning_style": {"enum": ["", "Probing", "Clarifying", "Accepting"]}
      }
    }
  }
}`

const personaSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["user_id", "user_name"],
  "properties": {
    "user_id": {"type": "string", "minLength": 1},
    "user_name": {"type": "string", "minLength": 1},
    "team": {"type": "string"},
    "dept_id": {"type": "string"},
    "rank": {"type": "integer", "minimum": 1, "maximum": 3},
    "title": {"type": "string"},
    "hard_skills": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["skill", "proficiency"],
        "properties": {
          "skill": {"type": "string", "minLength": 1},
          "proficiency": {"enum": ["strong", "medium", "low"]}
        }
      }
    },
    "styles": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["style"],
        "properties": {
          "community_id": {"type": "string"},
          "from": {"type": "string", "format": "date-time"},
          "to": {"type": "string", "format": "date-time"},
          "style": {"type": "object"}
        }
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schemas    map[RecordKind]*gojsonschema.Schema
	schemaErr  error
)

// compiledSchema returns the compiled schema for a record kind.
// Compilation happens once; the schemas are constants.
func compiledSchema(kind RecordKind) (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		sources := map[RecordKind]string{
			RecordPersona:  personaSchema,
			RecordTurn:     turnSchema,
			RecordQuestion: questionSchema,
		}
		compiled := make(map[RecordKind]*gojsonschema.Schema, len(sources))
		for k, src := range sources {
			schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
			if err != nil {
				schemaErr = fmt.Errorf("compile %s schema: %w", k, err)
				return
			}
			compiled[k] = schema
		}
		schemas = compiled
	})
	if schemaErr != nil {
		return nil, schemaErr
	}
	schema, ok := schemas[kind]
	if !ok {
		return nil, fmt.Errorf("unknown record kind %q", kind)
	}
	return schema, nil
}

// LineIssue records one schema violation in a JSONL file.
type LineIssue struct {
	Path   string `json:"path"`
	Line   int    `json:"line"`
	Detail string `json:"detail"`
}

func (i LineIssue) String() string {
	return fmt.Sprintf("%s:%d: %s", i.Path, i.Line, i.Detail)
}

// ValidateJSONL checks every line of a JSONL file against the schema for the
// given record kind. Violations are collected per line rather than failing
// fast, so one pass reports every bad record in the file.
func ValidateJSONL(path string, kind RecordKind) ([]LineIssue, error) {
	schema, err := compiledSchema(kind)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var issues []LineIssue
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		result, err := schema.Validate(gojsonschema.NewBytesLoader(line))
		if err != nil {
			issues = append(issues, LineIssue{Path: path, Line: lineNo, Detail: fmt.Sprintf("invalid JSON: %v", err)})
			continue
		}
		for _, violation := range result.Errors() {
			issues = append(issues, LineIssue{Path: path, Line: lineNo, Detail: violation.String()})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	return issues, nil
}
