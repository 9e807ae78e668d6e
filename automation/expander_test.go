package automation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandSubstitution(t *testing.T) {
	e := NewExpander(";")

	commands := e.Expand("say %1 said: %2", map[string]string{"1": "Biscuit", "2": "hello"})
	assert.Equal(t, []string{"say Biscuit said: hello"}, commands)
}

func TestExpandDollarForm(t *testing.T) {
	e := NewExpander(";")

	commands := e.Expand("cast heal $target", map[string]string{"target": "Biscuit"})
	assert.Equal(t, []string{"cast heal Biscuit"}, commands)
}

func TestExpandLongestKeyFirst(t *testing.T) {
	e := NewExpander(";")

	commands := e.Expand("%10 %1", map[string]string{"1": "one", "10": "ten"})
	assert.Equal(t, []string{"ten one"}, commands)
}

func TestExpandSplitsOnDelimiter(t *testing.T) {
	e := NewExpander(";")

	commands := e.Expand("n; e ;; look", nil)
	assert.Equal(t, []string{"n", "e", "look"}, commands)
}

func TestExpandCustomDelimiter(t *testing.T) {
	e := NewExpander("|")

	commands := e.Expand("n|e;w", nil)
	assert.Equal(t, []string{"n", "e;w"}, commands)
}

func TestConditionalTrueBranch(t *testing.T) {
	e := NewExpander(";")

	commands := e.Expand("if (%hp < 20) {flee} {attack}", map[string]string{"hp": "15"})
	assert.Equal(t, []string{"flee"}, commands)
}

func TestConditionalFalseBranch(t *testing.T) {
	e := NewExpander(";")

	commands := e.Expand("if (%hp < 20) {flee} {attack}", map[string]string{"hp": "50"})
	assert.Equal(t, []string{"attack"}, commands)
}

func TestConditionalWithoutFalseBranch(t *testing.T) {
	e := NewExpander(";")

	commands := e.Expand("if (%hp < 20) {flee}", map[string]string{"hp": "50"})
	assert.Empty(t, commands)
}

func TestConditionalBranchSplits(t *testing.T) {
	e := NewExpander(";")

	commands := e.Expand("if (true) {stand;flee north}", nil)
	assert.Equal(t, []string{"stand", "flee north"}, commands)
}

func TestConditionalAtIfForm(t *testing.T) {
	e := NewExpander(";")

	commands := e.Expand("@if (1) {yes} {no}", nil)
	assert.Equal(t, []string{"yes"}, commands)
}

func TestEvalCondition(t *testing.T) {
	cases := []struct {
		condition string
		variables map[string]string
		want      bool
	}{
		{"true", nil, true},
		{"1", nil, true},
		{"false", nil, false},
		{"0", nil, false},
		{"", nil, false},
		{`name == "Biscuit"`, nil, false},
		{`Biscuit == "Biscuit"`, nil, true},
		{"a != b", nil, true},
		{"a != a", nil, false},
		{"The Goblin King contains goblin", nil, true},
		{"The Goblin King contains dragon", nil, false},
		{"15 < 20", nil, true},
		{"50 < 20", nil, false},
		{"20 <= 20", nil, true},
		{"21 >= 20", nil, true},
		{"5 > 9", nil, false},
		{"abc < 20", nil, false},
		{"target", map[string]string{"target": "goblin"}, true},
		{"target", map[string]string{"target": ""}, false},
		{"unknown", nil, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, evalCondition(tc.condition, tc.variables), tc.condition)
	}
}

func TestAliasPositional(t *testing.T) {
	e := NewExpander(";")

	commands := e.ExpandAlias("kill $1$", []string{"goblin"})
	assert.Equal(t, []string{"kill goblin"}, commands)
}

func TestAliasPositionalSecond(t *testing.T) {
	e := NewExpander(";")

	commands := e.ExpandAlias("give $2$ to $1$", []string{"Biscuit", "sword"})
	assert.Equal(t, []string{"give sword to Biscuit"}, commands)
}

func TestAliasStarFromHighestIndex(t *testing.T) {
	e := NewExpander(";")

	commands := e.ExpandAlias("tell $1$ $*$", []string{"Biscuit", "meet", "me", "north"})
	assert.Equal(t, []string{"tell Biscuit meet me north"}, commands)
}

func TestAliasStarAlone(t *testing.T) {
	e := NewExpander(";")

	commands := e.ExpandAlias("shout $*$", []string{"hello", "there"})
	assert.Equal(t, []string{"shout hello there"}, commands)
}

func TestAliasNoMarkerAppendsRemainder(t *testing.T) {
	e := NewExpander(";")

	commands := e.ExpandAlias("group tell", []string{"rally", "at", "gate"})
	assert.Equal(t, []string{"group tell rally at gate"}, commands)
}

func TestAliasNoMarkerNoArgs(t *testing.T) {
	e := NewExpander(";")

	commands := e.ExpandAlias("look", nil)
	assert.Equal(t, []string{"look"}, commands)
}

func TestAliasMissingArgExpandsEmpty(t *testing.T) {
	e := NewExpander(";")

	commands := e.ExpandAlias("kill $2$", []string{"goblin"})
	assert.Equal(t, []string{"kill"}, commands)
}
