package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ErrParseFailure marks model output that could not be recovered into
// valid JSON. Stage-local: callers treat the stage's output as empty and
// continue; a parse failure never aborts a stage.
var ErrParseFailure = errors.New("llm output is not valid JSON")

var trailingComma = regexp.MustCompile(`,\s*([}\]])`)

// ParseJSON reads model output into v, recovering from the common LLM
// malformations. Attempts, in order: strict parse; code-fence strip;
// trailing-comma strip; largest balanced {...} or [...] substring;
// jsonrepair. Returns ErrParseFailure when nothing works.
func ParseJSON(raw string, v any) error {
	candidates := []string{strings.TrimSpace(raw)}

	stripped := stripFences(raw)
	if stripped != candidates[0] {
		candidates = append(candidates, stripped)
	}
	noCommas := trailingComma.ReplaceAllString(stripped, "$1")
	if noCommas != stripped {
		candidates = append(candidates, noCommas)
	}
	if extracted := extractBalanced(stripped); extracted != "" && extracted != stripped {
		candidates = append(candidates, extracted, trailingComma.ReplaceAllString(extracted, "$1"))
	}

	for _, c := range candidates {
		if c == "" {
			continue
		}
		if err := json.Unmarshal([]byte(c), v); err == nil {
			return nil
		}
	}

	// Last resort: structural repair of the most promising candidate.
	target := stripped
	if extracted := extractBalanced(stripped); extracted != "" {
		target = extracted
	}
	if repaired, err := jsonrepair.JSONRepair(target); err == nil {
		if err := json.Unmarshal([]byte(repaired), v); err == nil {
			return nil
		}
	}
	return ErrParseFailure
}

// stripFences removes a leading/trailing markdown code fence.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop a language tag on the opening fence line.
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		first := strings.TrimSpace(s[:i])
		if len(first) <= 10 && !strings.ContainsAny(first, "{}[]") {
			s = s[i+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// extractBalanced returns the largest balanced {...} or [...] substring,
// honoring string literals and escapes. Empty when none exists.
func extractBalanced(s string) string {
	best := ""
	for _, open := range []byte{'{', '['} {
		close := byte('}')
		if open == '[' {
			close = ']'
		}
		start := strings.IndexByte(s, open)
		for start >= 0 {
			if sub := scanBalanced(s[start:], open, close); sub != "" && len(sub) > len(best) {
				best = sub
			}
			next := strings.IndexByte(s[start+1:], open)
			if next < 0 {
				break
			}
			start += 1 + next
		}
	}
	return best
}

func scanBalanced(s string, open, close byte) string {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}
