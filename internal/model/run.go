// Package model holds the records shared by the pipeline, the stores and the
// CLI.
package model

import (
	"time"
)

// RunStatus represents the current state of a reconciliation run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusRunning, RunStatusComplete, RunStatusFailed:
		return true
	}
	return false
}

// Run records one reconciliation of one dataset, geometry variant and day.
type Run struct {
	ID            string             `json:"id"`
	Dataset       string             `json:"dataset"`
	Geometry      string             `json:"geometry"`
	Day           string             `json:"day"`
	Status        RunStatus          `json:"status"`
	Units         int                `json:"units"`
	Records       int                `json:"records"`
	FailedSources []string           `json:"failed_sources,omitempty"`
	Totals        map[string]float64 `json:"totals,omitempty"`
	Error         string             `json:"error,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// RunResult holds the outcome written when a run completes.
type RunResult struct {
	Units         int                `json:"units"`
	Records       int                `json:"records"`
	FailedSources []string           `json:"failed_sources,omitempty"`
	Totals        map[string]float64 `json:"totals,omitempty"`
}
