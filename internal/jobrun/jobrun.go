// Package jobrun guarantees at most one execution per run key. The key is a
// unique row in job_runs; a Redis lock, when configured, sits in front of it.
package jobrun

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

const DefaultStaleAfter = 2 * time.Hour

// Run is the persisted record of one run key. RunID changes on every
// takeover so a superseded holder cannot finish the run.
type Run struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	RunKey     string       `gorm:"type:text;not null;uniqueIndex" json:"run_key"`
	RunID      string       `gorm:"type:text;not null" json:"run_id"`
	Job        string       `gorm:"type:text;not null" json:"job"`
	Status     Status       `gorm:"type:text;not null" json:"status"`
	Attempts   int          `gorm:"not null;default:1" json:"attempts"`
	LastError  *string      `gorm:"type:text" json:"last_error,omitempty"`
	StartedAt  time.Time    `gorm:"not null" json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
	CreatedAt  time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"not null" json:"updated_at"`
}

func (Run) TableName() string { return "job_runs" }

type AcquireOptions struct {
	Job string
	// AllowRerun lets a completed key run again (manual re-trigger).
	AllowRerun bool
	// StaleAfter is how long a running record is trusted before another
	// caller may take it over. Zero means DefaultStaleAfter.
	StaleAfter time.Duration
}

// Lease is held by the caller that won Acquire.
type Lease struct {
	Key   string
	RunID string

	lockToken string
	ttl       time.Duration
}

type Service interface {
	Acquire(ctx context.Context, key string, opts AcquireOptions) (*Lease, error)
	// Touch renews a held lease so long runs are not taken over as stale.
	Touch(ctx context.Context, lease *Lease) error
	Complete(ctx context.Context, lease *Lease) error
	Fail(ctx context.Context, lease *Lease, cause error) error
	Get(ctx context.Context, key string) (*Run, error)
}

var (
	ErrInvalidRunKey    = errors.New("invalid_run_key")
	ErrRunInProgress    = errors.New("run_in_progress")
	ErrAlreadyCompleted = errors.New("run_already_completed")
	ErrLeaseLost        = errors.New("run_lease_lost")
)
