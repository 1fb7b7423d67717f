package rules

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/augur/internal/core"
)

const rulesYAML = `
strategies:
  momentum:
    - rule_type: exit
      name: quick_profit
      condition: current_return >= 0.03
      action: take_profit
      priority: 1
    - rule_type: entry
      name: disabled
      condition: "true"
      priority: 2
      is_active: false
  empty: []
`

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFileSource_Rules(t *testing.T) {
	src := NewFileSource(writeRules(t, rulesYAML))

	rs, err := src.Rules(context.Background(), "momentum")
	require.NoError(t, err)
	require.Len(t, rs, 2)

	assert.Equal(t, TypeExit, rs[0].Type)
	assert.Equal(t, "quick_profit", rs[0].Name)
	assert.Equal(t, "take_profit", rs[0].Action)
	assert.True(t, rs[0].Active, "is_active defaults to true")
	assert.False(t, rs[1].Active)

	rs, err = src.Rules(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Empty(t, rs)
}

func TestFileSource_Missing(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := src.Rules(context.Background(), "momentum")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrFeedFailed))
}

func TestLoadFile_BadType(t *testing.T) {
	path := writeRules(t, `
strategies:
  s:
    - rule_type: hedge
      name: x
      condition: "true"
`)
	_, err := LoadFile(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrConfigInvalid))
}

func TestLoadFile_BadYAML(t *testing.T) {
	_, err := LoadFile(writeRules(t, "strategies: [unclosed"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrConfigInvalid))
}

func TestStaticSource_ReturnsCopy(t *testing.T) {
	src := StaticSource{"s": {{Type: TypeEntry, Name: "a", Condition: "true", Active: true}}}

	rs, err := src.Rules(context.Background(), "s")
	require.NoError(t, err)
	rs[0].Name = "changed"

	again, _ := src.Rules(context.Background(), "s")
	assert.Equal(t, "a", again[0].Name)
}
