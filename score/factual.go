package score

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/evermem/membench/dataset"
)

// FactualEvaluator grades factual recall deterministically. Each expected
// fact is matched against the response after unicode and case normalization;
// the score is the fraction of facts present, so multi-fact answers earn
// partial credit per fact rather than all-or-nothing.
type FactualEvaluator struct{}

// Name implements Evaluator.
func (FactualEvaluator) Name() string { return "factual_recall/v1" }

// Tier implements Evaluator.
func (FactualEvaluator) Tier() dataset.Tier { return dataset.TierFactualRecall }

// Evaluate implements Evaluator.
func (FactualEvaluator) Evaluate(_ context.Context, q *dataset.QuestionItem, response string) (*Judgment, error) {
	if len(q.ExpectedFacts) == 0 {
		return nil, fmt.Errorf("question %s: no expected facts to match", q.QuestionID)
	}

	respTokens := normalizeTokens(response)
	matched := 0
	var missing []string
	for _, fact := range q.ExpectedFacts {
		if factPresent(respTokens, fact) {
			matched++
		} else {
			missing = append(missing, fact)
		}
	}

	score := float64(matched) / float64(len(q.ExpectedFacts))
	verdict := VerdictPartial
	switch matched {
	case len(q.ExpectedFacts):
		verdict = VerdictCorrect
	case 0:
		verdict = VerdictIncorrect
	}

	rationale := fmt.Sprintf("matched %d of %d expected facts", matched, len(q.ExpectedFacts))
	if len(missing) > 0 {
		rationale += "; missing: " + strings.Join(missing, "; ")
	}
	return &Judgment{Score: score, Verdict: verdict, Rationale: rationale}, nil
}

// factPresent reports whether a fact's salient tokens appear in order in
// the response tokens. Order matters for multi-token facts ("review before
// merge" does not match "merge before review"), but intervening words are
// allowed.
func factPresent(respTokens []string, fact string) bool {
	factTokens := salientTokens(fact)
	if len(factTokens) == 0 {
		// A fact made entirely of filler words still has to appear.
		factTokens = normalizeTokens(fact)
	}
	if len(factTokens) == 0 {
		return false
	}
	i := 0
	for _, tok := range respTokens {
		if tok == factTokens[i] {
			i++
			if i == len(factTokens) {
				return true
			}
		}
	}
	return false
}

// normalizeTokens lowercases and NFKC-normalizes text, then splits it into
// letter/digit runs. Punctuation and width variants never affect matching.
func normalizeTokens(s string) []string {
	s = strings.ToLower(norm.NFKC.String(s))
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// fillerWords are dropped from expected facts so that "Tuesday at 3pm"
// requires "tuesday" and "3pm" but not the preposition.
var fillerWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {},
	"at": {}, "on": {}, "in": {}, "of": {}, "to": {}, "for": {}, "by": {}, "with": {},
	"is": {}, "was": {}, "are": {}, "were": {}, "be": {},
	"and": {}, "or": {}, "it": {},
}

func salientTokens(fact string) []string {
	tokens := normalizeTokens(fact)
	out := tokens[:0]
	for _, tok := range tokens {
		if _, filler := fillerWords[tok]; !filler {
			out = append(out, tok)
		}
	}
	return out
}
