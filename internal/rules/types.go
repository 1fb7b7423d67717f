// Package rules compiles strategy rules into typed conditions and answers
// the simulator's entry, exit, sizing and risk questions.
package rules

import "fmt"

// Type groups rules by the decision point they apply to.
type Type string

const (
	TypeEntry          Type = "entry"
	TypeExit           Type = "exit"
	TypePositionSizing Type = "position_sizing"
	TypeRiskManagement Type = "risk_management"
)

// Types lists every rule type in evaluation order.
var Types = []Type{TypeEntry, TypeExit, TypePositionSizing, TypeRiskManagement}

// Valid reports whether t is a known rule type.
func (t Type) Valid() bool {
	switch t {
	case TypeEntry, TypeExit, TypePositionSizing, TypeRiskManagement:
		return true
	}
	return false
}

// Rule is one strategy rule as stored by the rule source.
type Rule struct {
	Type      Type   `json:"rule_type" yaml:"rule_type"`
	Name      string `json:"name" yaml:"name"`
	Condition string `json:"condition" yaml:"condition"`
	Action    string `json:"action" yaml:"action"`
	Priority  int    `json:"priority" yaml:"priority"`
	Active    bool   `json:"is_active" yaml:"is_active"`
}

func (r Rule) String() string {
	return fmt.Sprintf("%s/%s(p=%d)", r.Type, r.Name, r.Priority)
}

// Context variable names supplied by the simulator.
const (
	VarCurrentReturn  = "current_return"
	VarHoldingDays    = "holding_days"
	VarEntryPrice     = "entry_price"
	VarConfidence     = "confidence"
	VarPriceChange20d = "price_change_20d"
	VarVolume         = "volume"
	VarAvgVolume      = "avg_volume"
	VarOpenPositions  = "open_positions"
	VarCapital        = "capital"
	VarDrawdown       = "drawdown"
)

var entryVars = []string{VarConfidence, VarPriceChange20d, VarVolume, VarAvgVolume}

// Vocabulary returns the variables a condition of type t may reference.
func Vocabulary(t Type) map[string]bool {
	vars := map[string]bool{}
	switch t {
	case TypeExit:
		for _, v := range []string{VarCurrentReturn, VarHoldingDays, VarEntryPrice} {
			vars[v] = true
		}
	case TypeEntry, TypePositionSizing:
		for _, v := range entryVars {
			vars[v] = true
		}
	case TypeRiskManagement:
		for _, v := range entryVars {
			vars[v] = true
		}
		for _, v := range []string{VarOpenPositions, VarCapital, VarDrawdown} {
			vars[v] = true
		}
	}
	return vars
}

// Context holds the variable values available at a decision point.
type Context map[string]float64

// Actions understood by entry and risk rules.
const (
	ActionEnter  = "enter"
	ActionReject = "reject"
	ActionHalt   = "halt"
)
