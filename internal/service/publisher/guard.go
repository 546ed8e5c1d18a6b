package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ifuryst/autopost/internal/storage"
)

// Guard wraps a Publisher so that callers get a bounded, serialized and
// panic-free call. The inner publisher runs at most once at a time because
// it drives a single browser session and account.
type Guard struct {
	inner   Publisher
	media   storage.MediaStore
	timeout time.Duration
	limiter *rate.Limiter
	sem     chan struct{}
	logger  *zap.Logger
}

type GuardOption func(*Guard)

// WithMedia resolves image refs through the given store.
func WithMedia(media storage.MediaStore) GuardOption {
	return func(g *Guard) {
		g.media = media
	}
}

// WithMinInterval spaces consecutive publishes at least d apart.
func WithMinInterval(d time.Duration) GuardOption {
	return func(g *Guard) {
		if d > 0 {
			g.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

func NewGuard(inner Publisher, timeout time.Duration, logger *zap.Logger, opts ...GuardOption) *Guard {
	g := &Guard{
		inner:   inner,
		timeout: timeout,
		sem:     make(chan struct{}, 1),
		logger:  logger.With(zap.String("publisher", inner.Name())),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Guard) Name() string {
	return g.inner.Name()
}

func (g *Guard) Timeout() time.Duration {
	return g.timeout
}

type publishResult struct {
	outcome Outcome
	err     error
}

// Publish runs the inner publisher with imageRef resolved to a local file.
// Waiting for a previous publish and pacing count against the timeout. If the
// deadline passes the call returns a *TimeoutError even when the inner
// publisher ignores its context; the inner call keeps the slot until it
// actually returns.
func (g *Guard) Publish(ctx context.Context, caption, imageRef string) (Outcome, error) {
	tctx, cancel := context.WithTimeout(ctx, g.timeout)

	select {
	case g.sem <- struct{}{}:
	case <-tctx.Done():
		cancel()
		return Outcome{}, g.deadlineErr(ctx)
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(tctx); err != nil {
			<-g.sem
			cancel()
			if ctx.Err() != nil {
				return Outcome{}, ctx.Err()
			}
			return Outcome{}, &TimeoutError{After: g.timeout}
		}
	}

	done := make(chan publishResult, 1)
	go func() {
		defer cancel()
		defer func() { <-g.sem }()
		done <- g.invoke(tctx, caption, imageRef)
	}()

	select {
	case res := <-done:
		return res.outcome, res.err
	case <-tctx.Done():
		// A result may have landed at the same moment as the deadline.
		select {
		case res := <-done:
			return res.outcome, res.err
		default:
		}
		g.logger.Warn("Publisher did not finish before deadline", zap.Duration("timeout", g.timeout))
		return Outcome{}, g.deadlineErr(ctx)
	}
}

func (g *Guard) invoke(ctx context.Context, caption, imageRef string) (res publishResult) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("Publisher panicked", zap.Any("panic", r), zap.Stack("stack"))
			res = publishResult{err: &PanicError{Value: r}}
		}
	}()

	imagePath, cleanup := g.resolveImage(ctx, imageRef)
	defer cleanup()

	start := time.Now()
	outcome, err := g.inner.Publish(ctx, caption, imagePath)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		g.logger.Debug("Publisher failed after deadline", zap.Error(err))
		err = &TimeoutError{After: g.timeout}
	}
	g.logger.Debug("Publisher returned",
		zap.Duration("duration", time.Since(start)),
		zap.Bool("success", err == nil))

	return publishResult{outcome: outcome, err: err}
}

// resolveImage turns a stored ref into a local path. An image that cannot be
// opened is skipped and the post goes out as text only.
func (g *Guard) resolveImage(ctx context.Context, imageRef string) (string, func()) {
	noop := func() {}
	if imageRef == "" || g.media == nil {
		return "", noop
	}

	path, cleanup, err := g.media.Open(ctx, imageRef)
	if err != nil {
		g.logger.Warn("Image unavailable, publishing without it",
			zap.String("image", imageRef),
			zap.Error(err))
		return "", noop
	}
	return path, cleanup
}

func (g *Guard) deadlineErr(parent context.Context) error {
	if err := parent.Err(); err != nil {
		return fmt.Errorf("publish cancelled: %w", err)
	}
	return &TimeoutError{After: g.timeout}
}
