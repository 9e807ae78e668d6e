package automation

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mudlark/mudlark/logging"
)

// Matcher decides whether a line matches a pattern in a given dialect and
// extracts captures. It is stateless apart from a compiled-pattern cache;
// a pattern that fails to compile is treated as never matching, which
// isolates a bad rule without halting evaluation of the rest.
type Matcher struct {
	mu    sync.Mutex
	cache map[string]*compiledPattern
	log   zerolog.Logger
}

type compiledPattern struct {
	re        *regexp.Regexp
	err       error
	wildcards int
}

// NewMatcher creates a matcher with an empty pattern cache.
func NewMatcher() *Matcher {
	return &Matcher{
		cache: make(map[string]*compiledPattern),
		log:   logging.GetLogger("automation.matcher"),
	}
}

// Matches reports whether line matches pattern under the given dialect.
func (m *Matcher) Matches(line, pattern string, dialect Dialect, ignoreCase bool) bool {
	switch dialect {
	case DialectExact:
		if ignoreCase {
			return strings.EqualFold(strings.TrimSpace(line), pattern)
		}
		return strings.TrimSpace(line) == pattern

	case DialectSubstring:
		if ignoreCase {
			return strings.Contains(strings.ToLower(line), strings.ToLower(pattern))
		}
		return strings.Contains(line, pattern)

	case DialectBeginsWith:
		if ignoreCase {
			return strings.HasPrefix(strings.ToLower(line), strings.ToLower(pattern))
		}
		return strings.HasPrefix(line, pattern)

	case DialectEndsWith:
		if ignoreCase {
			return strings.HasSuffix(strings.ToLower(line), strings.ToLower(pattern))
		}
		return strings.HasSuffix(line, pattern)

	case DialectRegex, DialectWildcard:
		compiled := m.compile(pattern, dialect, ignoreCase)
		if compiled.err != nil {
			return false
		}
		return compiled.re.MatchString(line)
	}

	return false
}

// Capture extracts named and positional captures for a matching line. It
// returns nil when the line does not match. Every returned map contains
// "line" and "pattern"; positional captures appear under both "k" and the
// MUD-convention "%k" keys.
func (m *Matcher) Capture(line, pattern string, dialect Dialect, ignoreCase bool) map[string]string {
	if !m.Matches(line, pattern, dialect, ignoreCase) {
		return nil
	}

	captures := map[string]string{
		"line":    line,
		"pattern": pattern,
	}

	switch dialect {
	case DialectWildcard:
		compiled := m.compile(pattern, dialect, ignoreCase)
		groups := compiled.re.FindStringSubmatch(line)
		if groups == nil {
			return captures
		}
		for i := 1; i < len(groups); i++ {
			key := strconv.Itoa(i)
			captures[key] = groups[i]
			captures["%"+key] = groups[i]
		}

	case DialectRegex:
		compiled := m.compile(pattern, dialect, ignoreCase)
		groups := compiled.re.FindStringSubmatch(line)
		if groups == nil {
			return captures
		}
		names := compiled.re.SubexpNames()
		for i, group := range groups {
			key := strconv.Itoa(i)
			captures[key] = group
			if i > 0 {
				captures["%"+key] = group
			}
			if i < len(names) && names[i] != "" {
				captures[names[i]] = group
			}
		}
	}

	return captures
}

// WildcardCount returns the number of positional captures a wildcard
// pattern produces.
func (m *Matcher) WildcardCount(pattern string) int {
	return m.compile(pattern, DialectWildcard, false).wildcards
}

func (m *Matcher) compile(pattern string, dialect Dialect, ignoreCase bool) *compiledPattern {
	key := dialect.String() + "\x00" + pattern
	if ignoreCase {
		key = "i\x00" + key
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cached, ok := m.cache[key]; ok {
		return cached
	}

	source := pattern
	wildcards := 0
	if dialect == DialectWildcard {
		source, wildcards = wildcardToRegex(pattern)
	}
	if ignoreCase {
		source = "(?i)" + source
	}

	re, err := regexp.Compile(source)
	if err != nil {
		// A bad pattern disables only this rule's matching.
		m.log.Warn().Err(err).Str("pattern", pattern).Msg("pattern failed to compile; rule will never match")
	}

	compiled := &compiledPattern{re: re, err: err, wildcards: wildcards}
	m.cache[key] = compiled
	return compiled
}

// wildcardToRegex escapes literal regex metacharacters, then turns each *
// into a capturing any-text group and each ? into a capturing
// single-character group, anchored at both ends.
func wildcardToRegex(pattern string) (string, int) {
	var sb strings.Builder
	sb.WriteString("^")

	wildcards := 0
	for _, r := range pattern {
		switch r {
		case '*':
			sb.WriteString("(.*)")
			wildcards++
		case '?':
			sb.WriteString("(.)")
			wildcards++
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}

	sb.WriteString("$")
	return sb.String(), wildcards
}
