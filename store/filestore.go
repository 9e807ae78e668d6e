package store

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/mudlark/mudlark/automation"
	"github.com/mudlark/mudlark/logging"
)

// Rule kinds as stored in the document.
const (
	kindTriggers = "triggers"
	kindAliases  = "aliases"
	kindGags     = "gags"
	kindTickers  = "tickers"
)

// FileStore keeps every world's rules in a single JSON document:
//
//	{"worlds": {"<world>": {"triggers": [...], "aliases": [...], ...}}}
//
// Rules are materialized once at open; queries serve the in-memory set,
// while mutations update the document with sjson and rewrite the file.
// Access is serialized: the engine never sees a half-applied mutation.
type FileStore struct {
	mu sync.Mutex

	path string
	doc  string
	mem  *MemStore
	log  zerolog.Logger
}

var _ automation.Repository = (*FileStore)(nil)

// Open loads the rule document at path, creating an empty store if the
// file does not exist yet.
func Open(path string) (*FileStore, error) {
	s := &FileStore{
		path: path,
		doc:  "{}",
		mem:  NewMemStore(),
		log:  logging.GetLogger("store"),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	} else if err != nil {
		return nil, fmt.Errorf("store: reading %s: %w", path, err)
	}

	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("store: %s is not valid JSON", path)
	}

	s.doc = string(data)
	s.materialize()
	return s, nil
}

func (s *FileStore) materialize() {
	gjson.Get(s.doc, "worlds").ForEach(func(world, rules gjson.Result) bool {
		worldName := world.String()

		rules.Get(kindTriggers).ForEach(func(_, raw gjson.Result) bool {
			s.mem.AddTrigger(decodeTrigger(worldName, raw))
			return true
		})
		rules.Get(kindAliases).ForEach(func(_, raw gjson.Result) bool {
			s.mem.AddAlias(&automation.Alias{Rule: decodeRule(worldName, raw)})
			return true
		})
		rules.Get(kindGags).ForEach(func(_, raw gjson.Result) bool {
			s.mem.AddGag(&automation.Gag{
				Rule:    decodeRule(worldName, raw),
				Dialect: parseGagDialect(raw.Get("dialect").String()),
			})
			return true
		})
		rules.Get(kindTickers).ForEach(func(_, raw gjson.Result) bool {
			s.mem.AddTicker(&automation.Ticker{
				Rule:     decodeRule(worldName, raw),
				Interval: time.Duration(raw.Get("interval").Float() * float64(time.Second)),
			})
			return true
		})
		return true
	})
}

func decodeRule(world string, raw gjson.Result) automation.Rule {
	var commands []string
	raw.Get("commands").ForEach(func(_, command gjson.Result) bool {
		commands = append(commands, command.String())
		return true
	})

	priority := automation.DefaultPriority
	if p := raw.Get("priority"); p.Exists() {
		priority = int(p.Int())
	}

	rule := automation.Rule{
		ID:         raw.Get("id").String(),
		World:      world,
		Pattern:    raw.Get("pattern").String(),
		Commands:   commands,
		Priority:   priority,
		Sequence:   int(raw.Get("sequence").Int()),
		Options:    automation.Options(raw.Get("options").Uint()),
		MatchCount: int(raw.Get("match_count").Int()),
	}

	if modified := raw.Get("last_modified"); modified.Exists() {
		if t, err := time.Parse(time.RFC3339, modified.String()); err == nil {
			rule.LastModified = t
		}
	}

	return rule
}

func decodeTrigger(world string, raw gjson.Result) *automation.Trigger {
	return &automation.Trigger{
		Rule:      decodeRule(world, raw),
		Dialect:   parseDialect(raw.Get("dialect").String()),
		Group:     raw.Get("group").String(),
		SoundName: raw.Get("sound").String(),
		Vibrate:   raw.Get("vibrate").Bool(),
	}
}

func parseDialect(name string) automation.Dialect {
	switch name {
	case "regex":
		return automation.DialectRegex
	case "exact":
		return automation.DialectExact
	case "substring", "contains":
		return automation.DialectSubstring
	case "beginsWith":
		return automation.DialectBeginsWith
	case "endsWith":
		return automation.DialectEndsWith
	default:
		return automation.DialectWildcard
	}
}

// parseGagDialect is the narrower parse for gag records, whose dialects
// are limited to contains, exact, and regex. Anything else, including a
// typo, degrades to the safest option: a substring match.
func parseGagDialect(name string) automation.Dialect {
	switch name {
	case "regex":
		return automation.DialectRegex
	case "exact":
		return automation.DialectExact
	default:
		return automation.DialectSubstring
	}
}

func (s *FileStore) ActiveTriggers(world string) []*automation.Trigger {
	return s.mem.ActiveTriggers(world)
}

func (s *FileStore) Aliases(world string) []*automation.Alias {
	return s.mem.Aliases(world)
}

func (s *FileStore) Gags(world string) []*automation.Gag {
	return s.mem.Gags(world)
}

func (s *FileStore) Tickers(world string) []*automation.Ticker {
	return s.mem.Tickers(world)
}

// RecordFire persists a rule's counter and enabled flag back into the
// document. The rule is located by id across all four kinds.
func (s *FileStore) RecordFire(world, id string, matchCount int, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, kind := range []string{kindTriggers, kindAliases, kindGags, kindTickers} {
		base := fmt.Sprintf("worlds.%s.%s", world, kind)
		index := -1
		gjson.Get(s.doc, base).ForEach(func(key, raw gjson.Result) bool {
			if raw.Get("id").String() == id {
				index = int(key.Int())
				return false
			}
			return true
		})
		if index < 0 {
			continue
		}

		doc, err := sjson.Set(s.doc, fmt.Sprintf("%s.%d.match_count", base, index), matchCount)
		if err != nil {
			return fmt.Errorf("store: recording fire for %s: %w", id, err)
		}

		var options automation.Options
		options = automation.Options(gjson.Get(doc, fmt.Sprintf("%s.%d.options", base, index)).Uint())
		if enabled {
			options = options.With(automation.OptEnabled)
		} else {
			options = options.Without(automation.OptEnabled)
		}
		doc, err = sjson.Set(doc, fmt.Sprintf("%s.%d.options", base, index), uint64(options))
		if err != nil {
			return fmt.Errorf("store: recording fire for %s: %w", id, err)
		}

		s.doc = doc
		return s.flush()
	}

	// Unknown rules are tolerated: the engine may hold rules that were
	// never persisted (session-local ones).
	return nil
}

// SaveTrigger upserts a trigger record by id and refreshes the in-memory
// set for its world.
func (s *FileStore) SaveTrigger(t *automation.Trigger) error {
	extra := map[string]any{
		"dialect": t.Dialect.String(),
		"group":   t.Group,
		"sound":   t.SoundName,
		"vibrate": t.Vibrate,
	}
	return s.saveRule(kindTriggers, &t.Rule, extra)
}

// SaveAlias upserts an alias record by id.
func (s *FileStore) SaveAlias(a *automation.Alias) error {
	return s.saveRule(kindAliases, &a.Rule, nil)
}

// SaveGag upserts a gag record by id.
func (s *FileStore) SaveGag(g *automation.Gag) error {
	return s.saveRule(kindGags, &g.Rule, map[string]any{"dialect": g.Dialect.String()})
}

// SaveTicker upserts a ticker record by id.
func (s *FileStore) SaveTicker(t *automation.Ticker) error {
	return s.saveRule(kindTickers, &t.Rule, map[string]any{"interval": t.Interval.Seconds()})
}

func (s *FileStore) saveRule(kind string, rule *automation.Rule, extra map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule.LastModified = time.Now()

	record := map[string]any{
		"id":            rule.ID,
		"pattern":       rule.Pattern,
		"commands":      rule.Commands,
		"priority":      rule.Priority,
		"sequence":      rule.Sequence,
		"options":       uint64(rule.Options),
		"match_count":   rule.MatchCount,
		"last_modified": rule.LastModified.Format(time.RFC3339),
	}
	for key, value := range extra {
		record[key] = value
	}

	base := fmt.Sprintf("worlds.%s.%s", rule.World, kind)
	index := s.findIndex(base, rule.ID)

	path := fmt.Sprintf("%s.%d", base, index)
	if index < 0 {
		path = base + ".-1"
	}

	doc, err := sjson.Set(s.doc, path, record)
	if err != nil {
		return fmt.Errorf("store: saving %s: %w", rule.ID, err)
	}
	s.doc = doc

	s.reload()
	return s.flush()
}

// DeleteRule removes a rule record by id from a world's rule set.
func (s *FileStore) DeleteRule(world, kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := fmt.Sprintf("worlds.%s.%s", world, kind)
	index := s.findIndex(base, id)
	if index < 0 {
		return nil
	}

	doc, err := sjson.Delete(s.doc, fmt.Sprintf("%s.%d", base, index))
	if err != nil {
		return fmt.Errorf("store: deleting %s: %w", id, err)
	}
	s.doc = doc

	s.reload()
	return s.flush()
}

func (s *FileStore) findIndex(base, id string) int {
	index := -1
	gjson.Get(s.doc, base).ForEach(func(key, raw gjson.Result) bool {
		if raw.Get("id").String() == id {
			index = int(key.Int())
			return false
		}
		return true
	})
	return index
}

func (s *FileStore) reload() {
	s.mem = NewMemStore()
	s.materialize()
}

func (s *FileStore) flush() error {
	if err := os.WriteFile(s.path, []byte(s.doc), 0o644); err != nil {
		return fmt.Errorf("store: writing %s: %w", s.path, err)
	}
	return nil
}
