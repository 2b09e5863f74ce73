package store

import (
	"context"
	"time"
)

// Store is the port through which the scheduling core and the intent
// pipeline read and mutate long-term state. Every call is fallible; callers
// degrade to "no mutation applied" rather than crashing a loop.
type Store interface {
	// Jobs.
	ListEnabledJobs(ctx context.Context) ([]Job, error)
	ListJobs(ctx context.Context) ([]Job, error)
	GetJob(ctx context.Context, id string) (*Job, error)
	InsertJob(ctx context.Context, job Job) error
	SaveJobNextRun(ctx context.Context, id string, next time.Time) error
	DisableJob(ctx context.Context, id string) error
	// ApproveJob is the external approval action for agent-originated jobs:
	// it sets approved=true and enabled=true in one step.
	ApproveJob(ctx context.Context, id string) error

	// Memory records.
	InsertMemory(ctx context.Context, kind MemoryKind, text string, weight int) (int64, error)
	DeleteMemory(ctx context.Context, id int64) error
	// FindMemoryCandidates returns records whose text contains search as a
	// substring (case-insensitive).
	FindMemoryCandidates(ctx context.Context, search string) ([]Memory, error)
	ListMemories(ctx context.Context, kind MemoryKind, limit int) ([]Memory, error)

	// Event log.
	RecordEvent(ctx context.Context, kind, payload string) error
	RecentEvents(ctx context.Context, limit int) ([]Event, error)

	// Personality snapshots.
	SaveSnapshot(ctx context.Context, text string) error
	LatestSnapshot(ctx context.Context) (*Snapshot, error)
}
