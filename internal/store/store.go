// Package store persists reconciled daily snapshots and the run log.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/covid-cli/internal/catalog"
	"github.com/sells-group/covid-cli/internal/model"
	"github.com/sells-group/covid-cli/internal/reconcile"
)

// ErrNotFound is returned by Load when no snapshot exists for a key.
var ErrNotFound = eris.New("store: snapshot not found")

// Key identifies the snapshot of one dataset, geometry variant and day.
type Key struct {
	Dataset  string
	Geometry catalog.Geometry
	Date     time.Time
}

// Day returns the key date formatted as YYYY-MM-DD.
func (k Key) Day() string { return k.Date.Format(reconcile.DayLayout) }

// Prev returns the key of the previous day.
func (k Key) Prev() Key {
	k.Date = k.Date.AddDate(0, 0, -1)
	return k
}

func (k Key) date() time.Time {
	y, m, d := k.Date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (k Key) validate() error {
	if k.Dataset == "" {
		return eris.New("store: key has no dataset")
	}
	if k.Geometry != catalog.GeometryPoint && k.Geometry != catalog.GeometryPolygon {
		return eris.Errorf("store: key has unsupported geometry %q", k.Geometry)
	}
	if k.Date.IsZero() {
		return eris.New("store: key has no date")
	}
	return nil
}

// SnapshotStore loads and saves daily snapshots.
type SnapshotStore interface {
	Load(ctx context.Context, key Key) (*reconcile.DailySnapshot, error)
	Save(ctx context.Context, key Key, snap *reconcile.DailySnapshot) error
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status  model.RunStatus `json:"status,omitempty"`
	Dataset string          `json:"dataset,omitempty"`
	Day     string          `json:"day,omitempty"`
	Limit   int             `json:"limit,omitempty"`
	Offset  int             `json:"offset,omitempty"`
}

// RunLog records every reconciliation run.
type RunLog interface {
	StartRun(ctx context.Context, dataset, geometry, day string) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, result *model.RunResult) error
	FailRun(ctx context.Context, runID string, runErr error) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	Migrate(ctx context.Context) error
	Close() error
}
