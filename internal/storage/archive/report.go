package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/newthinker/tradecore/internal/backtest"
	"github.com/newthinker/tradecore/internal/core"
)

const reportsPrefix = "reports"

// ReportArchive persists backtest reports as JSON documents, one per run
// id. It satisfies backtest.Archive.
type ReportArchive struct {
	store Storage
}

// NewReportArchive wraps a storage backend
func NewReportArchive(store Storage) *ReportArchive {
	return &ReportArchive{store: store}
}

func reportPath(id string) string {
	return path.Join(reportsPrefix, id+".json")
}

// Save writes the report under id
func (a *ReportArchive) Save(ctx context.Context, id string, r *backtest.Report) error {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return core.Errorf(core.ErrInvalidInput, "invalid report id %q", id)
	}
	if r == nil {
		return core.Errorf(core.ErrInvalidInput, "report %s is nil", id)
	}
	data, err := json.Marshal(r)
	if err != nil {
		return core.WrapError(core.ErrStorageFailed, fmt.Errorf("encode report %s: %w", id, err))
	}
	return a.store.Write(ctx, reportPath(id), data)
}

// Load reads the report saved under id
func (a *ReportArchive) Load(ctx context.Context, id string) (*backtest.Report, error) {
	data, err := a.store.Read(ctx, reportPath(id))
	if err != nil {
		return nil, err
	}
	var r backtest.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, core.WrapError(core.ErrStorageFailed, fmt.Errorf("decode report %s: %w", id, err))
	}
	return &r, nil
}

// List returns the ids of every archived report, sorted
func (a *ReportArchive) List(ctx context.Context) ([]string, error) {
	paths, err := a.store.List(ctx, reportsPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(paths))
	for _, p := range paths {
		if name, ok := strings.CutSuffix(path.Base(p), ".json"); ok {
			ids = append(ids, name)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
