package rules

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/newthinker/augur/internal/core"
)

// Source supplies the rules configured for a strategy. An empty result means
// the simulator uses its built-in defaults.
type Source interface {
	Rules(ctx context.Context, strategyID string) ([]Rule, error)
}

// StaticSource serves rules from memory, keyed by strategy ID.
type StaticSource map[string][]Rule

// Rules returns a copy of the strategy's rules.
func (s StaticSource) Rules(_ context.Context, strategyID string) ([]Rule, error) {
	rs := s[strategyID]
	out := make([]Rule, len(rs))
	copy(out, rs)
	return out, nil
}

// File is the on-disk layout of a rules file:
//
//	strategies:
//	  momentum:
//	    - rule_type: exit
//	      name: quick_profit
//	      condition: current_return >= 0.03
//	      action: take_profit
//	      priority: 1
//	      is_active: true
type File struct {
	Strategies map[string][]Rule `yaml:"strategies"`
}

// FileSource reads rules from a YAML file on every call, so edits are picked
// up between runs.
type FileSource struct {
	Path string
}

// NewFileSource creates a FileSource for path.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

// Rules loads the file and returns the strategy's rules. A strategy missing
// from the file yields no rules.
func (f *FileSource) Rules(ctx context.Context, strategyID string) ([]Rule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := LoadFile(f.Path)
	if err != nil {
		return nil, err
	}
	return file.Strategies[strategyID], nil
}

type fileRule struct {
	Type      Type   `yaml:"rule_type"`
	Name      string `yaml:"name"`
	Condition string `yaml:"condition"`
	Action    string `yaml:"action"`
	Priority  int    `yaml:"priority"`
	Active    *bool  `yaml:"is_active"`
}

// LoadFile parses a rules file. Active defaults to true when is_active is
// omitted.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.WrapError(core.ErrFeedFailed, fmt.Errorf("reading rules file: %w", err))
	}

	var raw struct {
		Strategies map[string][]fileRule `yaml:"strategies"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, core.Errorf(core.ErrConfigInvalid, "parsing rules file %s: %v", path, err)
	}

	file := &File{Strategies: make(map[string][]Rule, len(raw.Strategies))}
	for id, entries := range raw.Strategies {
		rs := make([]Rule, 0, len(entries))
		for _, e := range entries {
			r := Rule{
				Type:      e.Type,
				Name:      e.Name,
				Condition: e.Condition,
				Action:    e.Action,
				Priority:  e.Priority,
				Active:    e.Active == nil || *e.Active,
			}
			if !r.Type.Valid() {
				return nil, core.Errorf(core.ErrConfigInvalid, "strategy %s: rule %q has unknown rule_type %q", id, r.Name, r.Type)
			}
			rs = append(rs, r)
		}
		file.Strategies[id] = rs
	}
	return file, nil
}
