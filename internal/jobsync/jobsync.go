// Package jobsync loads file-origin jobs from a YAML file and keeps them in
// sync with the store while the process runs.
package jobsync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"mira/internal/logging"
	"mira/internal/schedule"
	"mira/internal/store"
)

// debounceDelay coalesces editor write bursts into one sync.
const debounceDelay = 500 * time.Millisecond

// JobStore is the slice of the store the syncer writes to.
type JobStore interface {
	InsertJob(ctx context.Context, job store.Job) error
}

// fileJob is one entry in jobs.yaml.
type fileJob struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Schedule string `yaml:"schedule"`
	Prompt   string `yaml:"prompt"`
	Target   string `yaml:"target"`
	Enabled  *bool  `yaml:"enabled"` // defaults to true when omitted
}

type jobsFile struct {
	Jobs []fileJob `yaml:"jobs"`
}

// Syncer loads jobs.yaml into the store and watches it for changes.
type Syncer struct {
	path   string
	jobs   JobStore
	calc   *schedule.Calculator
	logger logging.Logger
	now    func() time.Time
}

// New creates a Syncer for the given jobs.yaml path.
func New(path string, jobs JobStore, calc *schedule.Calculator, logger logging.Logger) *Syncer {
	return &Syncer{
		path:   path,
		jobs:   jobs,
		calc:   calc,
		logger: logging.OrNop(logger),
		now:    time.Now,
	}
}

// Sync reads the file and upserts every valid entry. Entries with invalid
// schedules or missing fields are logged and skipped; they never abort the
// rest of the file. A missing file is not an error.
func (s *Syncer) Sync(ctx context.Context) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Debug("Jobsync: %s not present, nothing to sync", s.path)
			return nil
		}
		return fmt.Errorf("read %s: %w", s.path, err)
	}

	var file jobsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse %s: %w", s.path, err)
	}

	synced := 0
	for _, entry := range file.Jobs {
		if err := s.upsert(ctx, entry); err != nil {
			s.logger.Warn("Jobsync: skipping job %q: %v", entry.ID, err)
			continue
		}
		synced++
	}
	s.logger.Info("Jobsync: synced %d/%d jobs from %s", synced, len(file.Jobs), s.path)
	return nil
}

func (s *Syncer) upsert(ctx context.Context, entry fileJob) error {
	if entry.ID == "" {
		return fmt.Errorf("missing id")
	}
	if entry.Prompt == "" {
		return fmt.Errorf("missing prompt")
	}

	spec, err := schedule.Parse(entry.Schedule)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", entry.Schedule, err)
	}

	enabled := true
	if entry.Enabled != nil {
		enabled = *entry.Enabled
	}

	job := store.Job{
		ID:       entry.ID,
		Name:     entry.Name,
		Schedule: spec.Raw,
		Kind:     string(spec.Kind),
		Prompt:   entry.Prompt,
		Target:   entry.Target,
		Enabled:  enabled,
		Approved: true,
		Origin:   store.OriginFile,
		NextRun:  s.calc.NextRunSpec(spec, s.now()),
	}
	return s.jobs.InsertJob(ctx, job)
}

// Watch re-syncs whenever the file changes, until ctx is cancelled. It
// watches the parent directory so atomic rename-style saves are seen.
func (s *Syncer) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer func() { _ = watcher.Close() }()

		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(s.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceDelay, func() {
					if err := s.Sync(ctx); err != nil {
						s.logger.Error("Jobsync: re-sync failed: %v", err)
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("Jobsync: watcher error: %v", err)
			}
		}
	}()

	s.logger.Info("Jobsync: watching %s", s.path)
	return nil
}
