package words

import (
	"fmt"
	"strings"
)

// TermsMatchingStrategy decides whether the words rule may drop query terms.
type TermsMatchingStrategy uint8

const (
	// All requires every term of the query: the rule yields a single bucket.
	All TermsMatchingStrategy = iota
	// Last drops terms starting from the last position until only the first
	// one remains, yielding one bucket per step.
	Last
)

func (s TermsMatchingStrategy) String() string {
	switch s {
	case All:
		return "all"
	case Last:
		return "last"
	default:
		return fmt.Sprintf("TermsMatchingStrategy(%d)", uint8(s))
	}
}

// ParseTermsMatchingStrategy parses "all" or "last", ignoring case.
func ParseTermsMatchingStrategy(s string) (TermsMatchingStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "all":
		return All, nil
	case "last":
		return Last, nil
	default:
		return 0, fmt.Errorf("unknown terms matching strategy %q, expected 'all' or 'last'", s)
	}
}

func (s TermsMatchingStrategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *TermsMatchingStrategy) UnmarshalText(text []byte) error {
	parsed, err := ParseTermsMatchingStrategy(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
