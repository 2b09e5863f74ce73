// Package store persists mira's long-term state: scheduled jobs, memory
// records, the event log, and personality snapshots.
package store

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a lookup by ID matches nothing.
var ErrNotFound = errors.New("not found")

// Origin records who created a job. Agent-originated jobs require an
// explicit approval before the poller will ever run them.
type Origin string

const (
	OriginOperator Origin = "operator"
	OriginFile     Origin = "file"
	OriginAgent    Origin = "agent"
)

// Job is a persisted scheduled unit of work.
type Job struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Schedule string `json:"schedule"` // raw descriptor: cron | "every ..." | "in ..."
	Kind     string `json:"kind"`     // cron | every | once
	Prompt   string `json:"prompt"`   // task text executed as an agent turn
	Target   string `json:"target,omitempty"`
	Enabled  bool   `json:"enabled"`
	Approved bool   `json:"approved"`
	Origin   Origin `json:"origin"`

	NextRun   time.Time `json:"next_run,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks that the job has the minimum required fields.
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job: id is required")
	}
	if j.Schedule == "" {
		return fmt.Errorf("job: schedule is required")
	}
	if j.Prompt == "" {
		return fmt.Errorf("job: prompt is required")
	}
	switch j.Origin {
	case OriginOperator, OriginFile, OriginAgent:
	default:
		return fmt.Errorf("job: invalid origin %q", j.Origin)
	}
	return nil
}

// MemoryKind classifies a memory record.
type MemoryKind string

const (
	MemoryFact       MemoryKind = "fact"
	MemoryGoal       MemoryKind = "goal"
	MemoryPreference MemoryKind = "preference"
	MemoryMilestone  MemoryKind = "milestone"
)

// Memory is a single long-term memory record.
type Memory struct {
	ID        int64      `json:"id"`
	Kind      MemoryKind `json:"kind"`
	Text      string     `json:"text"`
	Weight    int        `json:"weight,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Event is one entry in the interaction/audit log.
type Event struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot is a personality snapshot produced by a reflection run.
type Snapshot struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
