// Package executor runs agent turns: it assembles the prompt from persisted
// state, calls the language model, and routes the reply through the intent
// pipeline before anything reaches the user or the store.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mira/internal/intent"
	"mira/internal/llm"
	"mira/internal/logging"
	"mira/internal/store"
)

const (
	maxFactsInPrompt = 20
	maxGoalsInPrompt = 10
)

// StateReader is the slice of the store the executor reads prompt context
// from and records events to.
type StateReader interface {
	ListMemories(ctx context.Context, kind store.MemoryKind, limit int) ([]store.Memory, error)
	LatestSnapshot(ctx context.Context) (*store.Snapshot, error)
	RecordEvent(ctx context.Context, kind, payload string) error
}

// Pipeline validates and applies the intent tags in a model reply.
type Pipeline interface {
	Process(ctx context.Context, raw string, execCtx intent.Context) intent.Result
}

// Notifier delivers unattended output to the user.
type Notifier interface {
	Notify(ctx context.Context, text string, voice bool) error
}

// Result is the outcome of one executed turn.
type Result struct {
	// Text is the reply with all intent tags stripped.
	Text string
	// Voice reports whether the reply requested voice delivery.
	Voice bool
	// Applied counts the state mutations the reply caused.
	Applied int
}

// Config tunes prompt assembly and generation.
type Config struct {
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

// Runner executes agent turns.
type Runner struct {
	client   llm.Client
	state    StateReader
	pipeline Pipeline
	notifier Notifier
	config   Config
	logger   logging.Logger
}

// New creates a Runner. notifier may be nil; unattended output is then
// dropped after intent processing.
func New(client llm.Client, state StateReader, pipeline Pipeline, cfg Config, logger logging.Logger) *Runner {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2048
	}
	return &Runner{
		client:   client,
		state:    state,
		pipeline: pipeline,
		config:   cfg,
		logger:   logging.OrNop(logger),
	}
}

// SetNotifier installs the delivery channel for unattended turns.
func (r *Runner) SetNotifier(n Notifier) { r.notifier = n }

// Run executes one turn: prompt in, validated reply out. execCtx determines
// which intent tags the reply may apply.
func (r *Runner) Run(ctx context.Context, prompt string, execCtx intent.Context) (*Result, error) {
	system, err := r.buildSystemPrompt(ctx)
	if err != nil {
		// Prompt context is best-effort. A broken store read should not stop
		// the turn, only impoverish it.
		r.logger.Warn("executor: prompt context unavailable: %v", err)
		system = r.config.SystemPrompt
	}

	started := time.Now()
	resp, err := r.client.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		Temperature: r.config.Temperature,
		MaxTokens:   r.config.MaxTokens,
	})
	if err != nil {
		r.recordEvent(ctx, "turn_failed", fmt.Sprintf("context=%s error=%v", execCtx, err))
		return nil, fmt.Errorf("executor: completion failed: %w", err)
	}

	procResult := r.pipeline.Process(ctx, resp.Content, execCtx)
	r.logger.Info("executor: turn done context=%s took=%v applied=%d rejected=%d tokens=%d",
		execCtx, time.Since(started).Round(time.Millisecond),
		len(procResult.Applied), len(procResult.Rejections), resp.Usage.TotalTokens)
	r.recordEvent(ctx, "turn_completed",
		fmt.Sprintf("context=%s applied=%d rejected=%d", execCtx, len(procResult.Applied), len(procResult.Rejections)))

	return &Result{
		Text:    procResult.Text,
		Voice:   procResult.Voice,
		Applied: len(procResult.Applied),
	}, nil
}

// RunTurn adapts Run for loop callers that only need the delivered text.
func (r *Runner) RunTurn(ctx context.Context, prompt string, execCtx intent.Context) (string, bool, error) {
	res, err := r.Run(ctx, prompt, execCtx)
	if err != nil {
		return "", false, err
	}
	return res.Text, res.Voice, nil
}

// RunJob executes a scheduled job's prompt as an unattended turn and
// delivers any textual output through the notifier.
func (r *Runner) RunJob(ctx context.Context, job store.Job) error {
	res, err := r.Run(ctx, job.Prompt, intent.ContextScheduledJob)
	if err != nil {
		return err
	}
	if r.notifier == nil || res.Text == "" {
		return nil
	}
	if err := r.notifier.Notify(ctx, res.Text, res.Voice); err != nil {
		return fmt.Errorf("deliver job output: %w", err)
	}
	return nil
}

// buildSystemPrompt layers the persona snapshot, remembered facts, and active
// goals under the base system prompt.
func (r *Runner) buildSystemPrompt(ctx context.Context) (string, error) {
	var b strings.Builder
	b.WriteString(r.config.SystemPrompt)

	snap, err := r.state.LatestSnapshot(ctx)
	if err != nil {
		return "", fmt.Errorf("load snapshot: %w", err)
	}
	if snap != nil {
		b.WriteString("\n\n## Personality\n")
		b.WriteString(snap.Text)
	}

	facts, err := r.state.ListMemories(ctx, store.MemoryFact, maxFactsInPrompt)
	if err != nil {
		return "", fmt.Errorf("load facts: %w", err)
	}
	if len(facts) > 0 {
		b.WriteString("\n\n## Known facts\n")
		for _, f := range facts {
			b.WriteString("- ")
			b.WriteString(f.Text)
			b.WriteString("\n")
		}
	}

	goals, err := r.state.ListMemories(ctx, store.MemoryGoal, maxGoalsInPrompt)
	if err != nil {
		return "", fmt.Errorf("load goals: %w", err)
	}
	if len(goals) > 0 {
		b.WriteString("\n\n## Active goals\n")
		for _, g := range goals {
			b.WriteString("- ")
			b.WriteString(g.Text)
			b.WriteString("\n")
		}
	}

	return b.String(), nil
}

func (r *Runner) recordEvent(ctx context.Context, kind, payload string) {
	if err := r.state.RecordEvent(ctx, kind, payload); err != nil {
		r.logger.Warn("executor: event record failed: %v", err)
	}
}
