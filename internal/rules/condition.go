package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Operator is a comparison operator.
type Operator string

const (
	OpGT Operator = ">"
	OpLT Operator = "<"
	OpGE Operator = ">="
	OpLE Operator = "<="
	OpEQ Operator = "=="
	OpNE Operator = "!="
)

// Condition is a compiled rule condition. The concrete variants are
// Comparison, And, Always and Unknown.
type Condition interface {
	// Eval returns the condition's value. determined is false when the
	// condition cannot be decided from ctx (unparsed text or missing variable).
	Eval(ctx Context) (value, determined bool)
	String() string
	condition()
}

// Comparison is "variable op literal".
type Comparison struct {
	Variable string
	Op       Operator
	Literal  float64
}

// And holds when every term holds.
type And struct {
	Terms []Condition
}

// Always is the literal "true" condition.
type Always struct{}

// Unknown wraps text that did not parse or referenced a variable outside
// the rule type's vocabulary.
type Unknown struct {
	Raw    string
	Reason string
}

func (Comparison) condition() {}
func (And) condition()        {}
func (Always) condition()     {}
func (Unknown) condition()    {}

func (c Comparison) Eval(ctx Context) (bool, bool) {
	v, ok := ctx[c.Variable]
	if !ok {
		return false, false
	}
	switch c.Op {
	case OpGT:
		return v > c.Literal, true
	case OpLT:
		return v < c.Literal, true
	case OpGE:
		return v >= c.Literal, true
	case OpLE:
		return v <= c.Literal, true
	case OpEQ:
		return v == c.Literal, true
	case OpNE:
		return v != c.Literal, true
	}
	return false, false
}

func (c Comparison) String() string {
	return fmt.Sprintf("%s %s %s", c.Variable, c.Op, strconv.FormatFloat(c.Literal, 'f', -1, 64))
}

func (a And) Eval(ctx Context) (bool, bool) {
	result := true
	for _, t := range a.Terms {
		v, ok := t.Eval(ctx)
		if !ok {
			return false, false
		}
		result = result && v
	}
	return result, true
}

func (a And) String() string {
	parts := make([]string, len(a.Terms))
	for i, t := range a.Terms {
		parts[i] = t.String()
	}
	return strings.Join(parts, " and ")
}

func (Always) Eval(Context) (bool, bool) { return true, true }
func (Always) String() string             { return "true" }

func (Unknown) Eval(Context) (bool, bool) { return false, false }
func (u Unknown) String() string          { return u.Raw }

var (
	comparisonPattern = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*(>=|<=|==|!=|>|<)\s*(-?\d+(?:\.\d+)?|-?\.\d+)$`)
	andPattern        = regexp.MustCompile(`(?i)\s+and\s+|\s*&&\s*`)
)

// Parse compiles a condition string. Variables are checked against vocab when
// vocab is non-nil; anything that fails yields an Unknown.
func Parse(raw string, vocab map[string]bool) Condition {
	text := strings.TrimSpace(raw)
	switch strings.ToLower(text) {
	case "true", "always":
		return Always{}
	case "":
		return Unknown{Raw: raw, Reason: "empty condition"}
	}

	parts := andPattern.Split(text, -1)
	terms := make([]Condition, 0, len(parts))
	for _, p := range parts {
		c := parseComparison(p, vocab)
		if u, bad := c.(Unknown); bad {
			u.Raw = raw
			return u
		}
		terms = append(terms, c)
	}
	if len(terms) == 1 {
		return terms[0]
	}
	return And{Terms: terms}
}

func parseComparison(text string, vocab map[string]bool) Condition {
	m := comparisonPattern.FindStringSubmatch(strings.TrimSpace(text))
	if len(m) != 4 {
		return Unknown{Raw: text, Reason: "not a comparison"}
	}
	variable := strings.ToLower(m[1])
	if vocab != nil && !vocab[variable] {
		return Unknown{Raw: text, Reason: fmt.Sprintf("variable %q not available", variable)}
	}
	lit, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return Unknown{Raw: text, Reason: err.Error()}
	}
	return Comparison{Variable: variable, Op: Operator(m[2]), Literal: lit}
}

var sizePattern = regexp.MustCompile(`(?i)^position_size\s*=\s*(\d+(?:\.\d+)?)\s*%?$`)

// ParseSize extracts the percentage from a "position_size = <float>" action.
// ok is false when the action does not match or falls outside (0, 100].
func ParseSize(action string) (float64, bool) {
	m := sizePattern.FindStringSubmatch(strings.TrimSpace(action))
	if len(m) != 2 {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v <= 0 || v > 100 {
		return 0, false
	}
	return v, true
}
