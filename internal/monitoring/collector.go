package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/covid-cli/internal/model"
	"github.com/sells-group/covid-cli/internal/store"
)

// RunSummary holds a point-in-time view of recent runs.
type RunSummary struct {
	Total    int     `json:"total"`
	Complete int     `json:"complete"`
	Failed   int     `json:"failed"`
	Running  int     `json:"running"`
	FailRate float64 `json:"fail_rate"`

	// LastComplete is the latest day reconciled successfully per variant.
	LastComplete map[string]string `json:"last_complete"`
	// LastError is the error of the most recent failed run.
	LastError string `json:"last_error,omitempty"`

	CollectedAt time.Time `json:"collected_at"`
}

// RunLister abstracts the run log methods needed by the collector.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Collector summarizes the run log.
type Collector struct {
	runs RunLister
}

// NewCollector creates a run summary collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs}
}

// Collect summarizes the latest runs of dataset ("" for every dataset).
func (c *Collector) Collect(ctx context.Context, dataset string, limit int) (*RunSummary, error) {
	if limit <= 0 {
		limit = 500
	}
	runs, err := c.runs.ListRuns(ctx, store.RunFilter{Dataset: dataset, Limit: limit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	sum := &RunSummary{
		Total:        len(runs),
		LastComplete: make(map[string]string),
		CollectedAt:  time.Now().UTC(),
	}
	var lastFailed time.Time
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			sum.Complete++
			if r.Day > sum.LastComplete[r.Geometry] {
				sum.LastComplete[r.Geometry] = r.Day
			}
		case model.RunStatusFailed:
			sum.Failed++
			if r.UpdatedAt.After(lastFailed) || lastFailed.IsZero() {
				lastFailed = r.UpdatedAt
				sum.LastError = r.Error
			}
		case model.RunStatusRunning:
			sum.Running++
		}
	}
	if finished := sum.Complete + sum.Failed; finished > 0 {
		sum.FailRate = float64(sum.Failed) / float64(finished)
	}
	return sum, nil
}
