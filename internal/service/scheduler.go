package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ifuryst/autopost/internal/config"
	"github.com/ifuryst/autopost/internal/models"
	"github.com/ifuryst/autopost/internal/repository"
	"github.com/ifuryst/autopost/internal/service/publisher"
)

// terminalWriteTimeout bounds the write that records a publish result. It
// runs on a context detached from the caller so that shutdown does not leave
// a post in publishing.
const terminalWriteTimeout = config.ResultWriteTimeout

// InterruptedReason is stored on posts failed by reconciliation.
const InterruptedReason = "interrupted"

// PostPublisher is what the scheduler calls to get a post out. publisher.Guard
// implements it.
type PostPublisher interface {
	Name() string
	Publish(ctx context.Context, caption, imageRef string) (publisher.Outcome, error)
}

type TickSummary struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Due       int           `json:"due"`
	Claimed   int           `json:"claimed"`
	Published int           `json:"published"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Errors    int           `json:"errors"`
}

type SchedulerStatus struct {
	Running    bool         `json:"running"`
	Interval   string       `json:"interval"`
	Publisher  string       `json:"publisher"`
	LastTickAt *time.Time   `json:"last_tick_at"`
	LastTick   *TickSummary `json:"last_tick"`
	TicksTotal int64        `json:"ticks_total"`
	InFlight   []string     `json:"in_flight"`
}

type ReconcileTarget string

const (
	ReconcileToFailed    ReconcileTarget = "failed"
	ReconcileToScheduled ReconcileTarget = "scheduled"
)

func ParseReconcileTarget(s string) (ReconcileTarget, error) {
	switch ReconcileTarget(s) {
	case ReconcileToFailed, "":
		return ReconcileToFailed, nil
	case ReconcileToScheduled:
		return ReconcileToScheduled, nil
	}
	return "", fmt.Errorf("%w: reconcile target must be failed or scheduled, got %q", ErrValidation, s)
}

// ReconcileResult lists what happened to each stale post. Drafted holds
// posts that had no publish time and so went back to draft instead of
// scheduled.
type ReconcileResult struct {
	Target   ReconcileTarget `json:"target"`
	Stale    int             `json:"stale"`
	Moved    []string        `json:"moved"`
	Drafted  []string        `json:"drafted"`
	InFlight []string        `json:"in_flight"`
	Lost     []string        `json:"lost"`
}

// SchedulerOption configures optional Scheduler settings.
type SchedulerOption func(*Scheduler)

// WithPublishTimeout sets the publisher timeout that Reconcile uses to
// refuse claims young enough to still be publishing.
func WithPublishTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.publishTimeout = d
	}
}

type postResult int

const (
	resultSkipped postResult = iota
	resultPublished
	resultFailed
	resultError
)

// Scheduler publishes due posts on a timer. Every path out of scheduled goes
// through a conditional Transition, so overlapping ticks, manual triggers and
// publish-now calls never publish the same post twice.
type Scheduler struct {
	config    *config.SchedulerConfig
	posts     repository.PostStore
	publisher PostPublisher
	monitor   *Monitor
	logger    *zap.Logger
	now       func() time.Time

	publishTimeout time.Duration

	cron    *cron.Cron
	entryID cron.EntryID
	baseCtx context.Context
	cancel  context.CancelFunc

	mu         sync.Mutex
	running    bool
	inFlight   map[string]struct{}
	lastTick   *TickSummary
	ticksTotal int64
}

func NewScheduler(cfg *config.SchedulerConfig, posts repository.PostStore, pub PostPublisher, monitor *Monitor, logger *zap.Logger, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		config:    cfg,
		posts:     posts,
		publisher: pub,
		monitor:   monitor,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		inFlight:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MinStaleAge is the youngest claim Reconcile will touch. Other processes
// sharing the store may still be publishing anything younger.
func (s *Scheduler) MinStaleAge() time.Duration {
	return config.MinStaleAfter(s.publishTimeout)
}

func (s *Scheduler) Start(ctx context.Context) error {
	if !s.config.IsEnabled() {
		s.logger.Info("Scheduler is disabled")
		return nil
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("Scheduler is already running")
		return nil
	}
	s.mu.Unlock()

	if s.config.ReconcileOnStart {
		result, err := s.Reconcile(ctx, s.config.StaleAfterDuration(), ReconcileToFailed)
		if err != nil {
			s.logger.Error("Startup reconciliation failed", zap.Error(err))
		} else if len(result.Moved) > 0 {
			s.logger.Warn("Recovered stale publishing posts", zap.Strings("post_ids", result.Moved))
		}
	}

	cronLog := newCronLogger(s.logger)
	c := cron.New(cron.WithLogger(cronLog), cron.WithChain(
		cron.Recover(cronLog),
		cron.SkipIfStillRunning(cronLog),
	))

	schedule := "@every " + s.config.Interval
	baseCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	id, err := c.AddFunc(schedule, func() { s.runScheduled(baseCtx) })
	if err != nil {
		cancel()
		return fmt.Errorf("invalid scheduler interval %q: %w", s.config.Interval, err)
	}

	s.mu.Lock()
	s.cron = c
	s.entryID = id
	s.baseCtx = baseCtx
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	c.Start()
	s.logger.Info("Scheduler started", zap.String("interval", s.config.Interval))
	return nil
}

// Stop halts the timer and waits for a running tick until ctx expires. The
// running tick stops after the post it is working on.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.running = false
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}

	stopped := c.Stop()
	cancel()

	select {
	case <-stopped.Done():
		s.logger.Info("Scheduler shutdown completed")
	case <-ctx.Done():
		s.logger.Warn("Scheduler shutdown timed out with a tick still running")
	}
}

func (s *Scheduler) runScheduled(ctx context.Context) {
	summary, err := s.RunTick(ctx)
	if err != nil {
		s.logger.Error("Scheduled tick failed", zap.Error(err), zap.Duration("duration", summary.Duration))
		return
	}
	if summary.Due > 0 {
		s.logger.Info("Scheduled tick completed",
			zap.Int("due", summary.Due),
			zap.Int("published", summary.Published),
			zap.Int("failed", summary.Failed),
			zap.Int("skipped", summary.Skipped),
			zap.Duration("duration", summary.Duration))
	}
}

// RunTick publishes every post that is due now, one at a time in
// scheduled_for order. A failure on one post never stops the others.
func (s *Scheduler) RunTick(ctx context.Context) (TickSummary, error) {
	summary := TickSummary{StartedAt: s.now()}
	defer func() {
		summary.Duration = time.Since(summary.StartedAt)
		s.recordTick(summary)
	}()

	due, err := s.posts.FindDue(ctx, summary.StartedAt)
	if err != nil {
		s.monitor.RecordError("scheduler", "Failed to find due posts", err)
		return summary, fmt.Errorf("find due posts: %w", err)
	}
	summary.Due = len(due)
	if len(due) == 0 {
		return summary, nil
	}

	s.logger.Info("Found posts ready to publish", zap.Int("count", len(due)))

	for _, post := range due {
		if ctx.Err() != nil {
			s.logger.Info("Tick cancelled, leaving remaining posts scheduled",
				zap.Int("remaining", summary.Due-summary.Claimed-summary.Skipped-summary.Errors))
			break
		}

		result, _ := s.processDue(ctx, post)
		switch result {
		case resultSkipped:
			summary.Skipped++
		case resultPublished:
			summary.Claimed++
			summary.Published++
		case resultFailed:
			summary.Claimed++
			summary.Failed++
		case resultError:
			summary.Errors++
		}
	}

	return summary, nil
}

// processDue isolates one post so that a panic outside the publisher cannot
// take down the rest of the tick.
func (s *Scheduler) processDue(ctx context.Context, post *models.Post) (result postResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing post: %v", r)
			s.monitor.RecordError("scheduler", "Panic while processing post", err, WithPost(post.ID))
			result = resultError
		}
	}()
	return s.claimAndPublish(ctx, post.ID, []models.PostStatus{models.StatusScheduled}, post)
}

// PublishNow publishes a post immediately from draft, scheduled or failed.
// A post that failed to publish is returned along with an error wrapping
// ErrPublishFailed.
func (s *Scheduler) PublishNow(ctx context.Context, id string) (*models.Post, error) {
	post, err := s.posts.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	from := []models.PostStatus{models.StatusDraft, models.StatusScheduled, models.StatusFailed}
	result, pubErr := s.claimAndPublish(ctx, id, from, post)

	switch result {
	case resultSkipped:
		current, err := s.posts.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.Status == models.StatusPublished {
			return current, ErrAlreadyPublished
		}
		return current, ErrInFlight
	case resultError:
		return nil, pubErr
	}

	updated, err := s.posts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if result == resultFailed {
		return updated, fmt.Errorf("%w: %v", ErrPublishFailed, pubErr)
	}
	return updated, nil
}

// claimAndPublish moves the post from one of from to publishing, runs the
// publisher and records the terminal state. fallback is used if the post
// cannot be re-read after the claim.
func (s *Scheduler) claimAndPublish(ctx context.Context, id string, from []models.PostStatus, fallback *models.Post) (postResult, error) {
	claimed, err := s.posts.Transition(ctx, id, from, models.StatusPublishing, models.ClaimFields(s.now()))
	if err != nil {
		s.monitor.RecordError("scheduler", "Failed to claim post", err, WithPost(id))
		return resultError, err
	}
	if !claimed {
		s.logger.Debug("Post already claimed, skipping", zap.String("post_id", id))
		return resultSkipped, nil
	}

	s.track(id)
	defer s.untrack(id)

	// Publish the content as of the claim; edits are refused from here on.
	post := fallback
	if fresh, err := s.posts.Get(ctx, id); err == nil {
		post = fresh
	}

	logger := s.logger.With(zap.String("post_id", id), zap.String("event_name", post.EventName))
	logger.Info("Publishing post")

	start := time.Now()
	outcome, pubErr := s.invoke(ctx, post)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
	defer cancel()

	if pubErr == nil {
		ok, err := s.posts.Transition(writeCtx, id, []models.PostStatus{models.StatusPublishing}, models.StatusPublished, models.PublishedFields(s.now(), outcome.URL))
		if err != nil {
			s.monitor.RecordError("scheduler", "Failed to record published post", err,
				WithPost(id), WithPublisher(s.publisher.Name()),
				WithContext(map[string]interface{}{"published_url": outcome.URL}))
			return resultError, err
		}
		if !ok {
			logger.Warn("Post left publishing before the result was recorded")
		}
		logger.Info("Post published", zap.String("url", outcome.URL), zap.Duration("duration", time.Since(start)))
		return resultPublished, nil
	}

	reason := pubErr.Error()
	logger.Warn("Publish failed", zap.String("reason", reason), zap.Duration("duration", time.Since(start)))

	ok, err := s.posts.Transition(writeCtx, id, []models.PostStatus{models.StatusPublishing}, models.StatusFailed, models.FailedFields(reason))
	if err != nil {
		s.monitor.RecordError("scheduler", "Failed to record failed post", err,
			WithPost(id), WithPublisher(s.publisher.Name()),
			WithContext(map[string]interface{}{"reason": reason}))
		return resultError, err
	}
	if !ok {
		logger.Warn("Post left publishing before the failure was recorded")
	}
	var panicErr *publisher.PanicError
	if errors.As(pubErr, &panicErr) {
		s.monitor.RecordError("publisher", "Publisher panicked", pubErr, WithPost(id), WithPublisher(s.publisher.Name()))
	}
	return resultFailed, pubErr
}

func (s *Scheduler) invoke(ctx context.Context, post *models.Post) (outcome publisher.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &publisher.PanicError{Value: r}
		}
	}()
	return s.publisher.Publish(ctx, post.Caption, post.Image)
}

// Reconcile resolves posts stuck in publishing, typically after a crash. Posts
// this process is still publishing are left alone, and olderThan may not be
// shorter than MinStaleAge.
func (s *Scheduler) Reconcile(ctx context.Context, olderThan time.Duration, target ReconcileTarget) (ReconcileResult, error) {
	result := ReconcileResult{Target: target, Moved: []string{}, Drafted: []string{}, InFlight: []string{}, Lost: []string{}}

	if minAge := s.MinStaleAge(); olderThan < minAge {
		return result, fmt.Errorf("%w: older_than must be at least %s, a younger claim may still be publishing", ErrValidation, minAge)
	}

	var fields models.Fields
	switch target {
	case ReconcileToFailed:
		fields = models.FailedFields(InterruptedReason)
	case ReconcileToScheduled:
		fields = models.ReleaseFields()
	default:
		return result, fmt.Errorf("%w: unknown reconcile target %q", ErrValidation, target)
	}

	stale, err := s.posts.FindStale(ctx, s.now().Add(-olderThan))
	if err != nil {
		s.monitor.RecordError("scheduler", "Failed to find stale posts", err)
		return result, fmt.Errorf("find stale posts: %w", err)
	}
	result.Stale = len(stale)

	for _, post := range stale {
		if s.isInFlight(post.ID) {
			result.InFlight = append(result.InFlight, post.ID)
			continue
		}

		// A post claimed by publish-now straight from draft has no time to
		// go back to.
		to := models.PostStatus(target)
		if target == ReconcileToScheduled && post.ScheduledFor == nil {
			to = models.StatusDraft
		}

		ok, err := s.posts.Transition(ctx, post.ID, []models.PostStatus{models.StatusPublishing}, to, fields)
		if err != nil {
			s.monitor.RecordError("scheduler", "Failed to reconcile post", err, WithPost(post.ID))
			return result, fmt.Errorf("reconcile post %s: %w", post.ID, err)
		}
		if !ok {
			result.Lost = append(result.Lost, post.ID)
			continue
		}
		if to == models.StatusDraft {
			result.Drafted = append(result.Drafted, post.ID)
		} else {
			result.Moved = append(result.Moved, post.ID)
		}
		s.logger.Warn("Reconciled stale post",
			zap.String("post_id", post.ID),
			zap.String("status", string(to)))
	}

	return result, nil
}

func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := SchedulerStatus{
		Running:    s.running,
		Interval:   s.config.Interval,
		Publisher:  s.publisher.Name(),
		TicksTotal: s.ticksTotal,
		InFlight:   make([]string, 0, len(s.inFlight)),
	}
	for id := range s.inFlight {
		status.InFlight = append(status.InFlight, id)
	}
	sort.Strings(status.InFlight)

	if s.lastTick != nil {
		tick := *s.lastTick
		status.LastTick = &tick
		status.LastTickAt = &tick.StartedAt
	}
	return status
}

func (s *Scheduler) recordTick(summary TickSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTick = &summary
	s.ticksTotal++
}

func (s *Scheduler) track(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight[id] = struct{}{}
}

func (s *Scheduler) untrack(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
}

func (s *Scheduler) isInFlight(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[id]
	return ok
}

// cronLogger routes cron's own logging into zap.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func newCronLogger(logger *zap.Logger) cronLogger {
	return cronLogger{sugar: logger.Named("cron").Sugar()}
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
