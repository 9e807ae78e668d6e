package automation

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mudlark/mudlark/config"
	"github.com/mudlark/mudlark/logging"
)

// LineResult is the outcome of evaluating one incoming line. The consumer
// decides what to do with the side-effect hints; the engine only reports
// them.
type LineResult struct {
	// Line is the original input line.
	Line string
	// Display is the text to render, empty when OmitOutput is set.
	Display string
	// LogText is the text to log, empty when OmitLog is set.
	LogText string
	// OmitOutput suppresses the line from rendering (gag or trigger flag).
	OmitOutput bool
	// OmitLog suppresses the line from the session log.
	OmitLog bool
	// Gagged reports that a gag matched, as opposed to a trigger omit flag.
	Gagged bool
	// Commands are the expanded commands queued for sending.
	Commands []string
	// Sounds and Vibrate are side-effect hints from firing triggers.
	Sounds  []string
	Vibrate bool
}

// Engine orchestrates pattern matching and command expansion against the
// ordered rule set for one world. Rule mutations (counters, one-shot
// disables, captured variables) are applied under the engine's lock,
// atomically relative to subsequent reads of the same rule.
type Engine struct {
	mu sync.Mutex

	cfg      config.Config
	repo     Repository
	world    string
	matcher  *Matcher
	expander *Expander
	log      zerolog.Logger

	disabledGroups map[string]struct{}
}

// NewEngine creates an engine for a world, evaluating rules fetched from
// the repository.
func NewEngine(cfg config.Config, repo Repository, world string) *Engine {
	return &Engine{
		cfg:            cfg,
		repo:           repo,
		world:          world,
		matcher:        NewMatcher(),
		expander:       NewExpander(cfg.CommandDelimiter),
		log:            logging.GetLogger("automation.engine"),
		disabledGroups: make(map[string]struct{}),
	}
}

// Matcher exposes the engine's pattern matcher, sharing its compiled cache.
func (e *Engine) Matcher() *Matcher {
	return e.matcher
}

// SetGroupEnabled toggles evaluation of every trigger in a group.
func (e *Engine) SetGroupEnabled(group string, enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if enabled {
		delete(e.disabledGroups, group)
	} else {
		e.disabledGroups[group] = struct{}{}
	}
}

// ProcessLine runs exactly one rule evaluation pass over a complete
// incoming line: gags first, then triggers in priority order.
func (e *Engine) ProcessLine(line string) LineResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := LineResult{Line: line}

	// Gags drop the line from rendering but do not stop trigger evaluation.
	for _, gag := range e.repo.Gags(e.world) {
		if !gag.Enabled() {
			continue
		}
		if e.matcher.Matches(line, gag.Pattern, gag.Dialect, gag.Options.Has(OptIgnoreCase)) {
			result.Gagged = true
			result.OmitOutput = true
			if gag.Options.Has(OptOmitFromLog) {
				result.OmitLog = true
			}
		}
	}

	triggers := e.orderedTriggers()
	for _, trigger := range triggers {
		if !e.matcher.Matches(line, trigger.Pattern, trigger.Dialect, trigger.Options.Has(OptIgnoreCase)) {
			continue
		}

		e.fireTrigger(trigger, line, &result)

		if !trigger.Options.Has(OptKeepEvaluating) {
			break
		}
	}

	if !result.OmitOutput {
		result.Display = line
	}
	if !result.OmitLog {
		result.LogText = line
	}

	return result
}

func (e *Engine) fireTrigger(trigger *Trigger, line string, result *LineResult) {
	trigger.MatchCount++

	captures := e.matcher.Capture(line, trigger.Pattern, trigger.Dialect, trigger.Options.Has(OptIgnoreCase))
	if captures == nil {
		captures = map[string]string{"line": line, "pattern": trigger.Pattern}
	}
	captures["trigger"] = trigger.Pattern
	captures["match_count"] = strconv.Itoa(trigger.MatchCount)
	trigger.Variables = captures

	for _, template := range trigger.Commands {
		result.Commands = append(result.Commands, e.expander.Expand(template, captures)...)
	}

	// Omit flags accumulate across every firing trigger for the line.
	if trigger.Options.Has(OptOmitFromOutput) {
		result.OmitOutput = true
	}
	if trigger.Options.Has(OptOmitFromLog) {
		result.OmitLog = true
	}
	if trigger.SoundName != "" {
		result.Sounds = append(result.Sounds, trigger.SoundName)
	}
	if trigger.Vibrate {
		result.Vibrate = true
	}

	if trigger.Options.Has(OptOneShot) {
		trigger.Options = trigger.Options.Without(OptEnabled)
	}

	if err := e.repo.RecordFire(trigger.World, trigger.ID, trigger.MatchCount, trigger.Enabled()); err != nil {
		e.log.Warn().Err(err).Str("trigger", trigger.ID).Msg("failed to persist trigger fire")
	}

	e.log.Debug().
		Str("trigger", trigger.ID).
		Str("pattern", trigger.Pattern).
		Int("matchCount", trigger.MatchCount).
		Msg("trigger fired")
}

// orderedTriggers returns the active triggers sorted by priority
// descending, then sequence ascending, then creation order. The sort is
// stable so equal rules keep repository order.
func (e *Engine) orderedTriggers() []*Trigger {
	fetched := e.repo.ActiveTriggers(e.world)

	triggers := make([]*Trigger, 0, len(fetched))
	for _, trigger := range fetched {
		if !trigger.Enabled() || trigger.Options.Has(OptHidden) {
			continue
		}
		if _, disabled := e.disabledGroups[trigger.Group]; disabled && trigger.Group != "" {
			continue
		}
		triggers = append(triggers, trigger)
	}

	sort.SliceStable(triggers, func(i, j int) bool {
		if triggers[i].Priority != triggers[j].Priority {
			return triggers[i].Priority > triggers[j].Priority
		}
		return triggers[i].Sequence < triggers[j].Sequence
	})

	return triggers
}

// ProcessInput evaluates outgoing user input against the alias set. The
// first whitespace token is matched case-insensitively against enabled
// alias names; without a match the input passes through verbatim.
func (e *Engine) ProcessInput(input string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	fields := strings.Fields(input)
	if len(fields) == 0 {
		return []string{input}
	}

	for _, alias := range e.repo.Aliases(e.world) {
		if !alias.Enabled() || !strings.EqualFold(alias.Name(), fields[0]) {
			continue
		}

		alias.MatchCount++
		if err := e.repo.RecordFire(alias.World, alias.ID, alias.MatchCount, alias.Enabled()); err != nil {
			e.log.Warn().Err(err).Str("alias", alias.ID).Msg("failed to persist alias fire")
		}

		var commands []string
		for _, template := range alias.Commands {
			commands = append(commands, e.expander.ExpandAlias(template, fields[1:])...)
		}
		return commands
	}

	return []string{input}
}

// Tick fires every enabled ticker whose interval has elapsed and returns
// the expanded commands to send. A ticker seen for the first time starts
// its clock rather than firing immediately.
func (e *Engine) Tick(now time.Time) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var commands []string
	for _, ticker := range e.repo.Tickers(e.world) {
		if !ticker.Enabled() || ticker.Interval <= 0 {
			continue
		}

		if ticker.lastFired.IsZero() {
			ticker.lastFired = now
			continue
		}

		if now.Sub(ticker.lastFired) < ticker.Interval {
			continue
		}

		ticker.lastFired = now
		ticker.MatchCount++

		for _, template := range ticker.Commands {
			commands = append(commands, e.expander.Expand(template, nil)...)
		}

		if err := e.repo.RecordFire(ticker.World, ticker.ID, ticker.MatchCount, ticker.Enabled()); err != nil {
			e.log.Warn().Err(err).Str("ticker", ticker.ID).Msg("failed to persist ticker fire")
		}
	}

	return commands
}
