// Package intent turns untrusted LLM output into validated state mutations.
//
// Every bracketed intent tag found in a response is stripped from the
// delivered text, whether or not its mutation is applied. Mutations only
// happen after the tag survives the execution-context allowlist, per-response
// caps, content deduplication, and (for deletions) the word-overlap safety
// gate.
package intent

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"mira/internal/logging"
	"mira/internal/schedule"
	"mira/internal/store"
)

// Context classifies the caller of a pipeline invocation and determines
// which mutation kinds are permitted.
type Context string

const (
	// ContextInteractive is a direct user conversation; the full tag set is
	// permitted.
	ContextInteractive Context = "interactive"
	// ContextPulse is an unattended periodic check-in.
	ContextPulse Context = "periodic-check"
	// ContextScheduledJob is an unattended scheduled job execution.
	ContextScheduledJob Context = "scheduled-job"
)

// allowedTags maps each execution context to the mutation kinds it may apply.
// Unattended contexts exclude create-job (self-replicating jobs) and
// forget-fact (unattended memory deletion).
var allowedTags = map[Context]map[TagKind]bool{
	ContextInteractive: {
		TagRememberFact: true, TagSetGoal: true, TagCompleteGoal: true,
		TagForgetFact: true, TagCreateJob: true, TagMilestone: true,
		TagVoiceReply: true,
	},
	ContextPulse: {
		TagRememberFact: true, TagSetGoal: true, TagCompleteGoal: true,
		TagMilestone: true, TagVoiceReply: true,
	},
	ContextScheduledJob: {
		TagRememberFact: true, TagSetGoal: true, TagCompleteGoal: true,
		TagMilestone: true, TagVoiceReply: true,
	},
}

// Reason explains why a tag was stripped without being applied.
type Reason string

const (
	ReasonBlockedContext  Reason = "blocked-context"
	ReasonCapExceeded     Reason = "cap-exceeded"
	ReasonDuplicate       Reason = "duplicate"
	ReasonEmptyPayload    Reason = "empty-payload"
	ReasonPayloadTooLong  Reason = "payload-too-long"
	ReasonQueryTooShort   Reason = "query-too-short"
	ReasonBelowThreshold  Reason = "below-threshold"
	ReasonNoMatch         Reason = "no-match"
	ReasonInvalidSchedule Reason = "invalid-schedule"
	ReasonStoreError      Reason = "store-error"
)

// Mutation is one applied state change.
type Mutation struct {
	Kind    TagKind
	Payload string
	// JobID is set for create-job mutations.
	JobID string
	// DeletedIDs is set for forget-fact and complete-goal mutations.
	DeletedIDs []int64
}

// Rejection is one tag occurrence that was stripped but not applied.
// Rejections are silent to the end user; they exist so logs, counters, and
// tests can see exactly what was blocked and why.
type Rejection struct {
	Kind    TagKind
	Reason  Reason
	Payload string
	Score   float64
}

// Result is the outcome of one pipeline invocation.
type Result struct {
	// Text is the response with every recognized tag removed.
	Text string
	// Voice reports whether the response requested voice delivery.
	Voice      bool
	Applied    []Mutation
	Rejections []Rejection
}

// StateStore is the narrow slice of the state store the pipeline mutates.
type StateStore interface {
	InsertMemory(ctx context.Context, kind store.MemoryKind, text string, weight int) (int64, error)
	DeleteMemory(ctx context.Context, id int64) error
	FindMemoryCandidates(ctx context.Context, search string) ([]store.Memory, error)
	InsertJob(ctx context.Context, job store.Job) error
}

// Config bounds what a single response may mutate.
type Config struct {
	MaxFacts          int     // remember-fact cap per response
	MaxGoals          int     // set-goal cap per response
	MaxCompletions    int     // complete-goal cap per response
	MaxForgets        int     // forget-fact cap per response
	MaxJobs           int     // create-job cap per response
	MaxMilestones     int     // tag-milestone cap per response
	MaxMemoryTextLen  int     // memory record text bound at creation
	MaxJobPromptLen   int     // create-job prompt bound
	MinForgetQueryLen int     // forget-fact minimum query length
	MinOverlap        float64 // forget-fact minimum word-overlap ratio
}

// DefaultConfig returns the per-response mutation bounds used in production.
func DefaultConfig() Config {
	return Config{
		MaxFacts:          5,
		MaxGoals:          3,
		MaxCompletions:    3,
		MaxForgets:        3,
		MaxJobs:           1,
		MaxMilestones:     2,
		MaxMemoryTextLen:  500,
		MaxJobPromptLen:   500,
		MinForgetQueryLen: 10,
		MinOverlap:        0.5,
	}
}

// Pipeline validates and applies intent tags extracted from generated text.
type Pipeline struct {
	stateStore StateStore
	calc       *schedule.Calculator
	config     Config
	logger     logging.Logger
	metrics    *Metrics

	now   func() time.Time
	newID func() string
}

// New creates a Pipeline.
func New(stateStore StateStore, calc *schedule.Calculator, cfg Config, logger logging.Logger) *Pipeline {
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	return &Pipeline{
		stateStore: stateStore,
		calc:       calc,
		config:     cfg,
		logger:     logging.OrNop(logger),
		metrics:    defaultMetrics(),
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

func (p *Pipeline) cap(kind TagKind) int {
	switch kind {
	case TagRememberFact:
		return p.config.MaxFacts
	case TagSetGoal:
		return p.config.MaxGoals
	case TagCompleteGoal:
		return p.config.MaxCompletions
	case TagForgetFact:
		return p.config.MaxForgets
	case TagCreateJob:
		return p.config.MaxJobs
	case TagMilestone:
		return p.config.MaxMilestones
	default:
		return 0 // voice-reply is not capped
	}
}

// Process extracts, validates, and applies the intent tags in raw text.
// The returned Result always carries the cleaned text; state mutations only
// happen for tags that survived every gate. Store failures degrade to
// rejections, never to a crash.
func (p *Pipeline) Process(ctx context.Context, raw string, execCtx Context) Result {
	tags := extractTags(raw)
	result := Result{Text: stripTags(raw, tags)}
	if len(tags) == 0 {
		return result
	}

	allowed := allowedTags[execCtx]
	counts := make(map[TagKind]int)
	seen := make(map[string]bool) // normalized payloads for dedup

	for _, tag := range tags {
		if tag.Kind == TagVoiceReply {
			result.Voice = true
			continue
		}

		if !allowed[tag.Kind] {
			p.reject(&result, tag, ReasonBlockedContext, 0)
			continue
		}

		counts[tag.Kind]++
		if limit := p.cap(tag.Kind); limit > 0 && counts[tag.Kind] > limit {
			p.reject(&result, tag, ReasonCapExceeded, 0)
			continue
		}

		if tag.Payload == "" {
			p.reject(&result, tag, ReasonEmptyPayload, 0)
			continue
		}

		switch tag.Kind {
		case TagRememberFact, TagSetGoal, TagMilestone:
			p.applyMemoryWrite(ctx, &result, tag, seen)
		case TagCompleteGoal:
			p.applyCompleteGoal(ctx, &result, tag)
		case TagForgetFact:
			p.applyForget(ctx, &result, tag)
		case TagCreateJob:
			p.applyCreateJob(ctx, &result, tag)
		}
	}

	return result
}

func (p *Pipeline) reject(result *Result, tag Tag, reason Reason, score float64) {
	rej := Rejection{Kind: tag.Kind, Reason: reason, Payload: tag.Payload, Score: score}
	result.Rejections = append(result.Rejections, rej)
	p.metrics.recordRejected(tag.Kind, reason)
	p.logger.Info("intent: rejected %s tag (%s) payload=%q score=%.2f",
		tag.Kind, reason, truncatePayload(tag.Payload), score)
}

func (p *Pipeline) applied(result *Result, m Mutation) {
	result.Applied = append(result.Applied, m)
	p.metrics.recordApplied(m.Kind)
	p.logger.Debug("intent: applied %s payload=%q", m.Kind, truncatePayload(m.Payload))
}

// applyMemoryWrite handles remember-fact, set-goal, and tag-milestone:
// a bounded, deduplicated insert of a memory record.
func (p *Pipeline) applyMemoryWrite(ctx context.Context, result *Result, tag Tag, seen map[string]bool) {
	if len(tag.Payload) > p.config.MaxMemoryTextLen {
		p.reject(result, tag, ReasonPayloadTooLong, 0)
		return
	}

	if tag.Kind == TagRememberFact || tag.Kind == TagSetGoal {
		key := string(tag.Kind) + "\x00" + normalizePayload(tag.Payload)
		if seen[key] {
			p.reject(result, tag, ReasonDuplicate, 0)
			return
		}
		seen[key] = true
	}

	kind := memoryKindFor(tag.Kind)
	if _, err := p.stateStore.InsertMemory(ctx, kind, tag.Payload, 0); err != nil {
		p.logger.Warn("intent: memory insert failed: %v", err)
		p.reject(result, tag, ReasonStoreError, 0)
		return
	}
	p.applied(result, Mutation{Kind: tag.Kind, Payload: tag.Payload})
}

func memoryKindFor(kind TagKind) store.MemoryKind {
	switch kind {
	case TagSetGoal:
		return store.MemoryGoal
	case TagMilestone:
		return store.MemoryMilestone
	default:
		return store.MemoryFact
	}
}

// applyCompleteGoal deletes goal records matching the payload.
func (p *Pipeline) applyCompleteGoal(ctx context.Context, result *Result, tag Tag) {
	candidates, err := p.stateStore.FindMemoryCandidates(ctx, tag.Payload)
	if err != nil {
		p.logger.Warn("intent: goal lookup failed: %v", err)
		p.reject(result, tag, ReasonStoreError, 0)
		return
	}

	var deleted []int64
	for _, c := range candidates {
		if c.Kind != store.MemoryGoal {
			continue
		}
		if err := p.stateStore.DeleteMemory(ctx, c.ID); err != nil {
			p.logger.Warn("intent: goal delete failed for id=%d: %v", c.ID, err)
			continue
		}
		deleted = append(deleted, c.ID)
	}

	if len(deleted) == 0 {
		p.reject(result, tag, ReasonNoMatch, 0)
		return
	}
	p.applied(result, Mutation{Kind: tag.Kind, Payload: tag.Payload, DeletedIDs: deleted})
}

// applyForget is the destructive path: short queries are rejected before any
// candidate lookup, and each candidate must clear the overlap threshold.
func (p *Pipeline) applyForget(ctx context.Context, result *Result, tag Tag) {
	if len(tag.Payload) < p.config.MinForgetQueryLen {
		p.reject(result, tag, ReasonQueryTooShort, 0)
		return
	}

	candidates, err := p.stateStore.FindMemoryCandidates(ctx, tag.Payload)
	if err != nil {
		p.logger.Warn("intent: forget lookup failed: %v", err)
		p.reject(result, tag, ReasonStoreError, 0)
		return
	}

	var deleted []int64
	bestScore := 0.0
	for _, c := range candidates {
		score := OverlapRatio(tag.Payload, c.Text)
		if score > bestScore {
			bestScore = score
		}
		if score < p.config.MinOverlap {
			p.logger.Info("intent: forget candidate id=%d below threshold (%.2f < %.2f)",
				c.ID, score, p.config.MinOverlap)
			continue
		}
		if err := p.stateStore.DeleteMemory(ctx, c.ID); err != nil {
			p.logger.Warn("intent: forget delete failed for id=%d: %v", c.ID, err)
			continue
		}
		deleted = append(deleted, c.ID)
	}

	if len(deleted) == 0 {
		reason := ReasonNoMatch
		if len(candidates) > 0 {
			reason = ReasonBelowThreshold
		}
		p.reject(result, tag, reason, bestScore)
		return
	}
	p.applied(result, Mutation{Kind: tag.Kind, Payload: tag.Payload, DeletedIDs: deleted})
}

// applyCreateJob persists an agent-originated job. The job is born disabled
// and unapproved; only the external approval action can arm it.
func (p *Pipeline) applyCreateJob(ctx context.Context, result *Result, tag Tag) {
	scheduleRaw, prompt, ok := strings.Cut(tag.Payload, "|")
	scheduleRaw = strings.TrimSpace(scheduleRaw)
	prompt = strings.TrimSpace(prompt)
	if !ok || scheduleRaw == "" || prompt == "" {
		p.reject(result, tag, ReasonInvalidSchedule, 0)
		return
	}
	if len(prompt) > p.config.MaxJobPromptLen {
		p.reject(result, tag, ReasonPayloadTooLong, 0)
		return
	}

	spec, err := schedule.Parse(scheduleRaw)
	if err != nil {
		p.reject(result, tag, ReasonInvalidSchedule, 0)
		return
	}

	job := store.Job{
		ID:       p.newID(),
		Name:     jobNameFrom(prompt),
		Schedule: spec.Raw,
		Kind:     string(spec.Kind),
		Prompt:   prompt,
		Enabled:  false,
		Approved: false,
		Origin:   store.OriginAgent,
		NextRun:  p.calc.NextRunSpec(spec, p.now()),
	}
	if err := p.stateStore.InsertJob(ctx, job); err != nil {
		p.logger.Warn("intent: job insert failed: %v", err)
		p.reject(result, tag, ReasonStoreError, 0)
		return
	}

	p.logger.Info("intent: created pending job %s (%s) awaiting approval", job.ID, job.Schedule)
	p.applied(result, Mutation{Kind: tag.Kind, Payload: tag.Payload, JobID: job.ID})
}

func normalizePayload(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func jobNameFrom(prompt string) string {
	const max = 48
	if len(prompt) <= max {
		return prompt
	}
	return strings.TrimSpace(prompt[:max]) + "..."
}

func truncatePayload(s string) string {
	const max = 80
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
