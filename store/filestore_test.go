package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/mudlark/mudlark/automation"
)

func tempStore(t *testing.T) (*FileStore, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "worlds.json")
	s, err := Open(path)
	require.NoError(t, err)
	return s, path
}

func TestOpenMissingFile(t *testing.T) {
	s, _ := tempStore(t)
	assert.Empty(t, s.ActiveTriggers("midgaard"))
}

func TestSaveAndReloadTrigger(t *testing.T) {
	s, path := tempStore(t)

	trigger := &automation.Trigger{
		Rule: automation.Rule{
			ID:       "t1",
			World:    "midgaard",
			Pattern:  "* says, '*'",
			Commands: []string{"say %1 said: %2"},
			Priority: 75,
			Options:  automation.OptEnabled | automation.OptKeepEvaluating,
		},
		Dialect: automation.DialectWildcard,
		Group:   "chat",
	}
	require.NoError(t, s.SaveTrigger(trigger))

	// Reopen from disk and verify the round trip.
	reopened, err := Open(path)
	require.NoError(t, err)

	triggers := reopened.ActiveTriggers("midgaard")
	require.Len(t, triggers, 1)
	assert.Equal(t, "t1", triggers[0].ID)
	assert.Equal(t, "* says, '*'", triggers[0].Pattern)
	assert.Equal(t, []string{"say %1 said: %2"}, triggers[0].Commands)
	assert.Equal(t, 75, triggers[0].Priority)
	assert.Equal(t, automation.DialectWildcard, triggers[0].Dialect)
	assert.Equal(t, "chat", triggers[0].Group)
	assert.True(t, triggers[0].Enabled())
	assert.True(t, triggers[0].Options.Has(automation.OptKeepEvaluating))
}

func TestSaveUpsertsById(t *testing.T) {
	s, _ := tempStore(t)

	alias := &automation.Alias{Rule: automation.Rule{
		ID: "a1", World: "midgaard", Pattern: "k",
		Commands: []string{"kill $1$"}, Options: automation.OptEnabled,
	}}
	require.NoError(t, s.SaveAlias(alias))

	alias.Commands = []string{"kill $1$", "kick $1$"}
	require.NoError(t, s.SaveAlias(alias))

	aliases := s.Aliases("midgaard")
	require.Len(t, aliases, 1)
	assert.Equal(t, []string{"kill $1$", "kick $1$"}, aliases[0].Commands)
}

func TestRecordFirePersists(t *testing.T) {
	s, path := tempStore(t)

	trigger := &automation.Trigger{
		Rule: automation.Rule{
			ID: "once", World: "midgaard", Pattern: "gold",
			Commands: []string{"get gold"},
			Options:  automation.OptEnabled | automation.OptOneShot,
		},
		Dialect: automation.DialectSubstring,
	}
	require.NoError(t, s.SaveTrigger(trigger))

	// Simulate the engine firing the one-shot.
	require.NoError(t, s.RecordFire("midgaard", "once", 1, false))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gjson.GetBytes(data, "worlds.midgaard.triggers.0.match_count").Int())

	reopened, err := Open(path)
	require.NoError(t, err)
	triggers := reopened.ActiveTriggers("midgaard")
	require.Len(t, triggers, 1)
	assert.Equal(t, 1, triggers[0].MatchCount)
	assert.False(t, triggers[0].Enabled())
	assert.True(t, triggers[0].Options.Has(automation.OptOneShot))
}

func TestRecordFireUnknownRuleTolerated(t *testing.T) {
	s, _ := tempStore(t)
	assert.NoError(t, s.RecordFire("midgaard", "ghost", 3, true))
}

func TestSaveTickerInterval(t *testing.T) {
	s, path := tempStore(t)

	ticker := &automation.Ticker{
		Rule:     automation.Rule{ID: "tick", World: "midgaard", Commands: []string{"save"}, Options: automation.OptEnabled},
		Interval: 30 * time.Second,
	}
	require.NoError(t, s.SaveTicker(ticker))

	reopened, err := Open(path)
	require.NoError(t, err)
	tickers := reopened.Tickers("midgaard")
	require.Len(t, tickers, 1)
	assert.Equal(t, 30*time.Second, tickers[0].Interval)
}

func TestDeleteRule(t *testing.T) {
	s, _ := tempStore(t)

	gag := &automation.Gag{
		Rule:    automation.Rule{ID: "g1", World: "midgaard", Pattern: "chats", Options: automation.OptEnabled},
		Dialect: automation.DialectSubstring,
	}
	require.NoError(t, s.SaveGag(gag))
	require.Len(t, s.Gags("midgaard"), 1)

	require.NoError(t, s.DeleteRule("midgaard", "gags", "g1"))
	assert.Empty(t, s.Gags("midgaard"))
}

func TestGagDialectFallsBackToSubstring(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worlds.json")
	doc := `{"worlds":{"midgaard":{"gags":[
		{"id":"g1","pattern":"chats","dialect":"wldcard","options":1},
		{"id":"g2","pattern":"^spam","dialect":"regex","options":1}
	]}}}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	s, err := Open(path)
	require.NoError(t, err)

	gags := s.Gags("midgaard")
	require.Len(t, gags, 2)
	assert.Equal(t, automation.DialectSubstring, gags[0].Dialect, "unknown gag dialects degrade to substring")
	assert.Equal(t, automation.DialectRegex, gags[1].Dialect)
}

func TestOpenRejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worlds.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Open(path)
	assert.Error(t, err)
}
