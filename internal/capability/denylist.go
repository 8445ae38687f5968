package capability

import (
	"strings"

	"github.com/hpungsan/lichen/internal/errors"
)

// DenyTokens is the built-in denylist, checked in order.
var DenyTokens = []string{
	"import ",
	"exec(",
	"eval(",
	"os.system",
	"subprocess",
	"open(",
	"__import__",
	"socket",
}

// Validator screens capability bodies against a denylist.
// Matching is case-insensitive substring over the newline-joined body.
type Validator struct {
	tokens []string
}

// NewValidator returns a Validator over DenyTokens plus extra.
func NewValidator(extra ...string) *Validator {
	tokens := make([]string, 0, len(DenyTokens)+len(extra))
	tokens = append(tokens, DenyTokens...)
	for _, t := range extra {
		if t = strings.ToLower(t); t != "" {
			tokens = append(tokens, t)
		}
	}
	return &Validator{tokens: tokens}
}

// Tokens returns the active denylist.
func (v *Validator) Tokens() []string {
	return append([]string(nil), v.tokens...)
}

// Validate returns a VALIDATION_ERROR naming the first denylisted token found
// in body, or nil.
func (v *Validator) Validate(body []string) error {
	haystack := strings.ToLower(strings.Join(body, "\n"))
	for _, token := range v.tokens {
		if strings.Contains(haystack, token) {
			return errors.NewValidation(token)
		}
	}
	return nil
}

// Validate checks body against DenyTokens plus extra.
func Validate(body []string, extra ...string) error {
	return NewValidator(extra...).Validate(body)
}
