// Package tokens provides deterministic token counting for context budgets.
package tokens

import (
	"github.com/pkoukk/tiktoken-go"
)

// Counter counts the tokens a piece of text consumes in a model's context
// window. Implementations must be deterministic and safe for concurrent use.
type Counter interface {
	Count(text string) int
}

// Estimator approximates token counts as bytes/4, rounded up. It is the
// fallback when no BPE encoding data is available (offline environments,
// unknown models) and is what keeps truncation reproducible in tests.
type Estimator struct{}

// Count returns the estimated token count.
func (Estimator) Count(text string) int {
	return (len(text) + 3) / 4
}

// bpeCounter counts with a tiktoken BPE encoding.
type bpeCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *bpeCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// ForModel returns a counter for the given model. Unknown models fall back
// to the cl100k_base encoding; if no encoding data can be loaded at all the
// byte estimator is returned, so callers always get a usable counter.
func ForModel(model string) Counter {
	if model != "" {
		if enc, err := tiktoken.EncodingForModel(model); err == nil {
			return &bpeCounter{enc: enc}
		}
	}
	if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
		return &bpeCounter{enc: enc}
	}
	return Estimator{}
}
