package service

import (
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

// Monitor reports failures operators need to act on: store errors, stuck
// posts and publisher crashes. Everything goes to the log; when a Sentry hub
// is configured the error is captured there as well.
type Monitor struct {
	logger *zap.Logger
	hub    *sentry.Hub
}

func NewMonitor(logger *zap.Logger, hub *sentry.Hub) *Monitor {
	return &Monitor{
		logger: logger,
		hub:    hub,
	}
}

type errorEvent struct {
	postID    string
	publisher string
	context   map[string]interface{}
}

// ErrorLogOption adds detail to a recorded error.
type ErrorLogOption func(*errorEvent)

func WithPost(postID string) ErrorLogOption {
	return func(e *errorEvent) {
		e.postID = postID
	}
}

func WithPublisher(name string) ErrorLogOption {
	return func(e *errorEvent) {
		e.publisher = name
	}
}

func WithContext(context map[string]interface{}) ErrorLogOption {
	return func(e *errorEvent) {
		if e.context == nil {
			e.context = make(map[string]interface{}, len(context))
		}
		for k, v := range context {
			e.context[k] = v
		}
	}
}

// RecordError logs err at error level under source and title.
func (m *Monitor) RecordError(source, title string, err error, options ...ErrorLogOption) {
	event := &errorEvent{}
	for _, option := range options {
		option(event)
	}

	fields := []zap.Field{zap.String("source", source), zap.Error(err)}
	if event.postID != "" {
		fields = append(fields, zap.String("post_id", event.postID))
	}
	if event.publisher != "" {
		fields = append(fields, zap.String("publisher", event.publisher))
	}
	for k, v := range event.context {
		fields = append(fields, zap.Any(k, v))
	}
	m.logger.Error(title, fields...)

	if m.hub == nil {
		return
	}
	m.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("source", source)
		if event.postID != "" {
			scope.SetTag("post_id", event.postID)
		}
		if event.publisher != "" {
			scope.SetTag("publisher", event.publisher)
		}
		if len(event.context) > 0 {
			scope.SetContext("details", event.context)
		}
		scope.SetExtra("title", title)
		m.hub.CaptureException(err)
	})
}
