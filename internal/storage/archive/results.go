package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/newthinker/augur/internal/backtest"
	"github.com/newthinker/augur/internal/core"
)

const runsPrefix = "runs"

// Results stores backtest results as runs/<id>.json.
type Results struct {
	blob Blob
}

// NewResults creates a result archive on top of blob.
func NewResults(blob Blob) *Results {
	return &Results{blob: blob}
}

func runKey(id string) string {
	return path.Join(runsPrefix, id+".json")
}

// Save writes res, replacing any earlier copy with the same ID.
func (r *Results) Save(ctx context.Context, res *backtest.Result) error {
	if res == nil || res.ID == "" {
		return core.Errorf(core.ErrStorageFailed, "result has no id")
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return core.WrapError(core.ErrStorageFailed, fmt.Errorf("encoding result %s: %w", res.ID, err))
	}
	return r.blob.Put(ctx, runKey(res.ID), data)
}

// Load reads a result by ID.
func (r *Results) Load(ctx context.Context, id string) (*backtest.Result, error) {
	data, err := r.blob.Get(ctx, runKey(id))
	if err != nil {
		return nil, err
	}
	var res backtest.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, core.WrapError(core.ErrStorageFailed, fmt.Errorf("decoding result %s: %w", id, err))
	}
	return &res, nil
}

// IDs lists archived run IDs, sorted.
func (r *Results) IDs(ctx context.Context) ([]string, error) {
	keys, err := r.blob.List(ctx, runsPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		name := path.Base(k)
		if id, ok := strings.CutSuffix(name, ".json"); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Delete removes a result.
func (r *Results) Delete(ctx context.Context, id string) error {
	return r.blob.Delete(ctx, runKey(id))
}
