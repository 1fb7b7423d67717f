package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/newthinker/augur/internal/core"
)

// Compiled is a rule with its parsed condition.
type Compiled struct {
	Rule
	Cond Condition
	// Size is the parsed percentage of a position_sizing action.
	Size    float64
	SizeSet bool
}

// RuleSet is an immutable, priority-ordered set of active rules grouped by type.
// A nil or empty RuleSet means "built-in defaults everywhere".
type RuleSet struct {
	byType   map[Type][]Compiled
	warnings []string
}

// Compile validates and compiles rules. Inactive rules are dropped; within a
// type rules are ordered by ascending priority, ties keeping input order.
// An unknown rule type is a configuration error; an unparseable condition is
// kept as Unknown and reported through Warnings.
func Compile(rs []Rule) (*RuleSet, error) {
	set := &RuleSet{byType: make(map[Type][]Compiled)}
	for _, r := range rs {
		if !r.Type.Valid() {
			return nil, core.Errorf(core.ErrConfigInvalid, "rule %q has unknown rule_type %q", r.Name, r.Type)
		}
		if !r.Active {
			continue
		}
		c := Compiled{Rule: r, Cond: Parse(r.Condition, Vocabulary(r.Type))}
		if u, ok := c.Cond.(Unknown); ok {
			set.warn("%s: condition %q ignored: %s", r, u.Raw, u.Reason)
		}
		if r.Type == TypePositionSizing {
			c.Size, c.SizeSet = ParseSize(r.Action)
			if !c.SizeSet {
				set.warn("%s: action %q is not position_size = <0-100>", r, r.Action)
			}
		}
		set.byType[r.Type] = append(set.byType[r.Type], c)
	}
	for t := range set.byType {
		group := set.byType[t]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Priority < group[j].Priority
		})
	}
	return set, nil
}

func (s *RuleSet) warn(format string, args ...any) {
	s.warnings = append(s.warnings, fmt.Sprintf(format, args...))
}

// Warnings lists problems found while compiling.
func (s *RuleSet) Warnings() []string {
	if s == nil {
		return nil
	}
	return s.warnings
}

// Rules returns the active compiled rules of type t in evaluation order.
func (s *RuleSet) Rules(t Type) []Compiled {
	if s == nil {
		return nil
	}
	return s.byType[t]
}

// Has reports whether any active rule of type t exists.
func (s *RuleSet) Has(t Type) bool {
	return len(s.Rules(t)) > 0
}

// Len is the number of active rules.
func (s *RuleSet) Len() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, g := range s.byType {
		n += len(g)
	}
	return n
}

// matches applies the per-type default for undecidable conditions.
func matches(c Condition, ctx Context, fallback bool) bool {
	v, ok := c.Eval(ctx)
	if !ok {
		return fallback
	}
	return v
}

// first returns the first rule of type t whose condition holds.
func (s *RuleSet) first(t Type, ctx Context, fallback bool, usable func(Compiled) bool) (Compiled, bool) {
	for _, c := range s.Rules(t) {
		if usable != nil && !usable(c) {
			continue
		}
		if matches(c.Cond, ctx, fallback) {
			return c, true
		}
	}
	return Compiled{}, false
}

// Exit returns the exit reason of the first matching exit rule. Undecidable
// conditions never trigger an exit. ok is false when no configured rule
// matched and the caller should fall back to the built-in exits.
func (s *RuleSet) Exit(ctx Context) (reason string, ok bool) {
	c, ok := s.first(TypeExit, ctx, false, nil)
	if !ok {
		return "", false
	}
	switch {
	case c.Action != "":
		return c.Action, true
	case c.Name != "":
		return c.Name, true
	}
	return "rule", true
}

// Entry decides whether a candidate may be entered. With no entry rules every
// candidate is eligible; otherwise the first matching rule's action decides
// and a candidate no rule accepts is not entered. Undecidable conditions
// count as matching.
func (s *RuleSet) Entry(ctx Context) (eligible bool, rule string) {
	if !s.Has(TypeEntry) {
		return true, ""
	}
	c, ok := s.first(TypeEntry, ctx, true, nil)
	if !ok {
		return false, ""
	}
	return !isRejection(c.Action), c.Name
}

// PositionSize returns the size percentage from the first matching sizing
// rule with a usable action, or def.
func (s *RuleSet) PositionSize(ctx Context, def float64) float64 {
	c, ok := s.first(TypePositionSizing, ctx, false, func(c Compiled) bool { return c.SizeSet })
	if !ok {
		return def
	}
	return c.Size
}

// RiskDecision is the outcome of the risk-management rules for one candidate.
type RiskDecision int

const (
	RiskAllow RiskDecision = iota
	RiskReject
	RiskHalt
)

func (d RiskDecision) String() string {
	switch d {
	case RiskReject:
		return ActionReject
	case RiskHalt:
		return ActionHalt
	}
	return "allow"
}

// Risk evaluates risk-management rules; the first matching rule's action
// decides. Undecidable conditions never match.
func (s *RuleSet) Risk(ctx Context) (RiskDecision, string) {
	c, ok := s.first(TypeRiskManagement, ctx, false, nil)
	if !ok {
		return RiskAllow, ""
	}
	switch strings.ToLower(strings.TrimSpace(c.Action)) {
	case ActionHalt, "stop":
		return RiskHalt, c.Name
	case ActionReject, "skip", "block":
		return RiskReject, c.Name
	}
	return RiskAllow, c.Name
}

func isRejection(action string) bool {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case ActionReject, "skip", "block", "avoid":
		return true
	}
	return false
}
