package publisher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Outcome is what a successful publish reports back.
type Outcome struct {
	URL string `json:"url,omitempty"`
}

// Publisher posts a caption, with an optional local image, to one external
// platform. A nil error means the post went out. Publishing is slow, is not
// idempotent and may leave remote side effects even when it fails.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, caption, imagePath string) (Outcome, error)
}

var ErrTimeout = errors.New("publish timed out")

// TimeoutError renders as "timeout after <N>s", which is the reason stored on
// the failed post.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return "timeout after " + strconv.FormatFloat(e.After.Seconds(), 'f', -1, 64) + "s"
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// PanicError wraps a panic raised inside a publisher.
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("publisher panicked: %v", e.Value)
}
