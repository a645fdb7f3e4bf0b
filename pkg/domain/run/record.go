// Package run defines the persisted summary of a tool invocation.
package run

import (
	"context"
	"time"
)

// Status is the terminal state of an invocation.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Record summarises one invocation for the run history.
type Record struct {
	ID         string         `json:"id"`
	Tool       string         `json:"tool"`
	Status     Status         `json:"status"`
	Command    string         `json:"command,omitempty"`
	ExitCode   int            `json:"exit_code"`
	ErrorCode  string         `json:"error_code,omitempty"`
	Error      string         `json:"error,omitempty"`
	Outputs    map[string]any `json:"outputs,omitempty"`
	JobDir     string         `json:"job_dir,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	DurationMS int64          `json:"duration_ms"`
}

// Filter selects records in List.
type Filter struct {
	Tool   string
	Status Status
	Limit  int
}

// Matches reports whether r passes the filter.
func (f Filter) Matches(r Record) bool {
	if f.Tool != "" && r.Tool != f.Tool {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}

// Store persists run records. List returns newest first.
type Store interface {
	Put(ctx context.Context, r Record) error
	Get(ctx context.Context, id string) (Record, error)
	List(ctx context.Context, f Filter) ([]Record, error)
	Close() error
}
