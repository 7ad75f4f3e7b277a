package rules

import (
	"fmt"
	"regexp"
	"strings"

	"wxreply/pkg/failure"
)

// Kind is the closed set of pattern matcher variants.
type Kind int

const (
	KindExact Kind = iota + 1
	KindContains
	KindRegex
)

func (k Kind) String() string {
	switch k {
	case KindExact:
		return "exact"
	case KindContains:
		return "contains"
	case KindRegex:
		return "regex"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind maps a config/API type name onto a Kind.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "exact":
		return KindExact, nil
	case "contains":
		return KindContains, nil
	case "regex":
		return KindRegex, nil
	default:
		return 0, failure.New(failure.InvalidRule, fmt.Sprintf("unknown rule type %q", name))
	}
}

// Matcher decides whether trimmed user text triggers a rule.
type Matcher struct {
	kind    Kind
	pattern string
	re      *regexp.Regexp
}

// Exact matches text equal to pattern, case-sensitively.
func Exact(pattern string) Matcher {
	return Matcher{kind: KindExact, pattern: pattern}
}

// Contains matches text containing pattern, ignoring case.
func Contains(pattern string) Matcher {
	return Matcher{kind: KindContains, pattern: pattern}
}

// Regex compiles pattern case-insensitively and matches when it is found anywhere in text.
func Regex(pattern string) (Matcher, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return Matcher{}, failure.Wrap(failure.InvalidRule, fmt.Sprintf("compile pattern %q", pattern), err)
	}

	return Matcher{kind: KindRegex, pattern: pattern, re: re}, nil
}

// MustRegex is Regex for patterns known at compile time.
func MustRegex(pattern string) Matcher {
	m, err := Regex(pattern)
	if err != nil {
		panic(err)
	}

	return m
}

// NewMatcher builds the matcher for kind.
func NewMatcher(kind Kind, pattern string) (Matcher, error) {
	switch kind {
	case KindExact:
		return Exact(pattern), nil
	case KindContains:
		return Contains(pattern), nil
	case KindRegex:
		return Regex(pattern)
	default:
		return Matcher{}, failure.New(failure.InvalidRule, fmt.Sprintf("unknown rule kind %s", kind))
	}
}

func (m Matcher) Kind() Kind {
	return m.kind
}

func (m Matcher) Pattern() string {
	return m.pattern
}

// Match reports whether text triggers m. The zero Matcher never matches.
func (m Matcher) Match(text string) bool {
	switch m.kind {
	case KindExact:
		return text == m.pattern
	case KindContains:
		return strings.Contains(strings.ToLower(text), strings.ToLower(m.pattern))
	case KindRegex:
		return m.re != nil && m.re.MatchString(text)
	default:
		return false
	}
}
