package automation

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Expander turns a raw command template plus a variable map into zero or
// more concrete command strings, including the small conditional
// micro-language and multi-command splitting.
type Expander struct {
	delimiter string
}

// NewExpander creates an expander that splits stacked commands on the
// given delimiter.
func NewExpander(delimiter string) *Expander {
	if delimiter == "" {
		delimiter = ";"
	}
	return &Expander{delimiter: delimiter}
}

var conditionalForm = regexp.MustCompile(`^\s*@?if\s*\(([^)]*)\)\s*\{([^{}]*)\}(?:\s*\{([^{}]*)\})?\s*$`)

// positionalMarker matches the alias argument markers $1$, $2$, ... and $*$.
var positionalMarker = regexp.MustCompile(`\$(\d+|\*)\$`)

// Expand substitutes variables into the template, evaluates the
// conditional form if present, and splits the result into trimmed,
// non-empty commands.
func (e *Expander) Expand(template string, variables map[string]string) []string {
	substituted := substituteVariables(template, variables)

	if match := conditionalForm.FindStringSubmatch(substituted); match != nil {
		branch := match[3]
		if evalCondition(match[1], variables) {
			branch = match[2]
		}
		return e.split(branch)
	}

	return e.split(substituted)
}

// ExpandAlias expands an alias command template against the words that
// followed the alias token on the input line. Positional markers consume
// specific words; a template with no marker behaves as a prefix shortcut,
// appending the whole remaining input.
func (e *Expander) ExpandAlias(template string, args []string) []string {
	return e.Expand(substitutePositional(template, args), nil)
}

func (e *Expander) split(commands string) []string {
	var out []string
	for _, command := range strings.Split(commands, e.delimiter) {
		command = strings.TrimSpace(command)
		if command != "" {
			out = append(out, command)
		}
	}
	return out
}

// substituteVariables replaces every %key and $key occurrence,
// longest key first so longer names are never shadowed by shorter ones.
func substituteVariables(template string, variables map[string]string) string {
	if len(variables) == 0 || !strings.ContainsAny(template, "%$") {
		return template
	}

	keys := make([]string, 0, len(variables))
	for key := range variables {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return len(keys[i]) > len(keys[j])
	})

	for _, key := range keys {
		value := variables[key]
		if strings.HasPrefix(key, "%") {
			template = strings.ReplaceAll(template, key, value)
			continue
		}
		template = strings.ReplaceAll(template, "%"+key, value)
		template = strings.ReplaceAll(template, "$"+key, value)
	}

	return template
}

// substitutePositional replaces $N$ markers with the Nth word of args and
// $*$ with the words from the highest referenced index onward. If the
// template has no marker at all, the unconsumed input is appended.
func substitutePositional(template string, args []string) string {
	markers := positionalMarker.FindAllStringSubmatch(template, -1)
	if len(markers) == 0 {
		if len(args) == 0 {
			return template
		}
		return strings.TrimSpace(template + " " + strings.Join(args, " "))
	}

	highest := 0
	for _, marker := range markers {
		if marker[1] == "*" {
			continue
		}
		if n, err := strconv.Atoi(marker[1]); err == nil && n > highest {
			highest = n
		}
	}

	return positionalMarker.ReplaceAllStringFunc(template, func(marker string) string {
		ref := marker[1 : len(marker)-1]
		if ref == "*" {
			if highest >= len(args) {
				return ""
			}
			return strings.Join(args[highest:], " ")
		}

		n, err := strconv.Atoi(ref)
		if err != nil || n < 1 || n > len(args) {
			return ""
		}
		return args[n-1]
	})
}

// evalCondition evaluates the conditional micro-language. Precedence:
// boolean literals, equality, inequality, contains, numeric comparison,
// variable truthiness, otherwise false.
func evalCondition(condition string, variables map[string]string) bool {
	condition = strings.TrimSpace(condition)

	switch strings.ToLower(condition) {
	case "true", "1":
		return true
	case "", "false", "0":
		return false
	}

	if left, right, found := strings.Cut(condition, "=="); found {
		return trimOperand(left) == trimOperand(right)
	}
	if left, right, found := strings.Cut(condition, "!="); found {
		return trimOperand(left) != trimOperand(right)
	}

	if left, right, found := cutFold(condition, " contains "); found {
		return strings.Contains(strings.ToLower(trimOperand(left)), strings.ToLower(trimOperand(right)))
	}

	// Two-character operators have to be checked before their one-character
	// prefixes.
	for _, op := range []string{"<=", ">=", "<", ">"} {
		left, right, found := strings.Cut(condition, op)
		if !found {
			continue
		}

		leftNum, leftErr := strconv.ParseFloat(trimOperand(left), 64)
		rightNum, rightErr := strconv.ParseFloat(trimOperand(right), 64)
		if leftErr != nil || rightErr != nil {
			return false
		}

		switch op {
		case "<":
			return leftNum < rightNum
		case ">":
			return leftNum > rightNum
		case "<=":
			return leftNum <= rightNum
		case ">=":
			return leftNum >= rightNum
		}
	}

	// A bare operand is truthy when it names a variable with a non-empty
	// value.
	if value, ok := variables[strings.TrimPrefix(condition, "%")]; ok {
		return value != ""
	}

	return false
}

func trimOperand(s string) string {
	s = strings.TrimSpace(s)
	return strings.Trim(s, `"`)
}

// cutFold is strings.Cut with a case-insensitive separator.
func cutFold(s, sep string) (before, after string, found bool) {
	index := strings.Index(strings.ToLower(s), strings.ToLower(sep))
	if index < 0 {
		return s, "", false
	}
	return s[:index], s[index+len(sep):], true
}
