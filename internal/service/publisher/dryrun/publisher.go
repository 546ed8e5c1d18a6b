// Package dryrun provides a publisher for local runs that never leaves the
// machine.
package dryrun

import (
	"context"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"

	"github.com/ifuryst/autopost/internal/service/publisher"
)

const Name = "dryrun"

type Publisher struct {
	delay  time.Duration
	logger *zap.Logger
}

// NewPublisher returns a publisher that waits delay, logs the post and
// reports a synthetic URL.
func NewPublisher(delay time.Duration, logger *zap.Logger) *Publisher {
	return &Publisher{
		delay:  delay,
		logger: logger.With(zap.String("publisher", Name)),
	}
}

func (p *Publisher) Name() string {
	return Name
}

func (p *Publisher) Publish(ctx context.Context, caption, imagePath string) (publisher.Outcome, error) {
	if p.delay > 0 {
		timer := time.NewTimer(p.delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return publisher.Outcome{}, ctx.Err()
		}
	}

	id, err := gonanoid.New()
	if err != nil {
		return publisher.Outcome{}, fmt.Errorf("failed to generate id: %w", err)
	}

	p.logger.Info("Dry run publish",
		zap.Int("caption_length", len(caption)),
		zap.String("image", imagePath))

	return publisher.Outcome{URL: "https://www.linkedin.com/feed/update/urn:li:activity:dryrun-" + id}, nil
}
