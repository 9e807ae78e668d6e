// Package automation evaluates the rule layer of the engine: triggers
// against incoming server lines, aliases against outgoing user input,
// gags for line suppression, and tickers on a wall-clock schedule.
package automation

import (
	"time"
)

// Options is a fixed bitset of rule flags.
type Options uint16

const (
	// OptEnabled gates all evaluation of the rule.
	OptEnabled Options = 1 << iota
	// OptOneShot disables a trigger immediately after its first firing.
	OptOneShot
	// OptKeepEvaluating lets later triggers run after this one fires.
	OptKeepEvaluating
	// OptIgnoreCase makes pattern matching case-insensitive.
	OptIgnoreCase
	// OptOmitFromOutput suppresses the matched line from rendering.
	OptOmitFromOutput
	// OptOmitFromLog suppresses the matched line from the session log.
	OptOmitFromLog
	// OptHidden removes the rule from evaluation without disabling it,
	// used for group toggling.
	OptHidden
)

// Has reports whether every flag in mask is set.
func (o Options) Has(mask Options) bool {
	return o&mask == mask
}

// With returns the options with the given flags set.
func (o Options) With(mask Options) Options {
	return o | mask
}

// Without returns the options with the given flags cleared.
func (o Options) Without(mask Options) Options {
	return o &^ mask
}

// DefaultPriority is the mid-range priority assigned to new rules.
const DefaultPriority = 50

// Rule is the core record shared by all four rule variants. Rules are
// owned by a world identity; the engine mutates only MatchCount and the
// enabled flag (for one-shot triggers), never deletes.
type Rule struct {
	ID           string
	World        string
	Pattern      string
	Commands     []string
	Priority     int
	Sequence     int
	Options      Options
	MatchCount   int
	LastModified time.Time
}

// Enabled reports whether the rule participates in evaluation.
func (r *Rule) Enabled() bool {
	return r.Options.Has(OptEnabled)
}

// Dialect selects how a pattern is interpreted.
type Dialect uint8

const (
	DialectWildcard Dialect = iota
	DialectRegex
	DialectExact
	DialectSubstring
	DialectBeginsWith
	DialectEndsWith
)

func (d Dialect) String() string {
	switch d {
	case DialectWildcard:
		return "wildcard"
	case DialectRegex:
		return "regex"
	case DialectExact:
		return "exact"
	case DialectSubstring:
		return "substring"
	case DialectBeginsWith:
		return "beginsWith"
	case DialectEndsWith:
		return "endsWith"
	default:
		return "unknown"
	}
}

// Trigger reacts to incoming server text by producing commands and
// display side effects.
type Trigger struct {
	Rule

	Dialect Dialect
	// Group allows selective evaluation; empty means ungrouped.
	Group string
	// Variables holds the captures from the most recent firing,
	// overwritten each time.
	Variables map[string]string

	// Side-effect hints surfaced on LineResult; the consumer decides
	// what to do with them.
	SoundName string
	Vibrate   bool
}

// Alias expands a short user-typed token into one or more commands. The
// rule's Pattern holds the alias name, matched case-insensitively against
// the first whitespace-delimited token of the input.
type Alias struct {
	Rule
}

// Name returns the token the alias is invoked by.
func (a *Alias) Name() string {
	return a.Pattern
}

// Gag suppresses matching incoming lines. Purely suppressive: it
// produces no commands.
type Gag struct {
	Rule

	// Dialect is limited to substring, exact, or regex for gags.
	Dialect Dialect
}

// Ticker fires its commands on a fixed wall-clock interval, independent
// of incoming text.
type Ticker struct {
	Rule

	// Interval between firings. Must be > 0.
	Interval time.Duration

	lastFired time.Time
}

// Repository is the persistence collaborator. Implementations serialize
// access per world; the engine persists counter and flag mutations back
// through RecordFire.
type Repository interface {
	ActiveTriggers(world string) []*Trigger
	Aliases(world string) []*Alias
	Gags(world string) []*Gag
	Tickers(world string) []*Ticker

	// RecordFire persists a rule's post-firing counter and enabled flag.
	RecordFire(world, id string, matchCount int, enabled bool) error
}
