package linkedin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/ifuryst/autopost/internal/config"
)

func TestPublisher_RequiresCredentials(t *testing.T) {
	p := NewPublisher(config.LinkedInConfig{Email: "someone@example.com"}, zap.NewNop())

	_, err := p.Publish(context.Background(), "caption", "")
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestPublisher_Defaults(t *testing.T) {
	p := NewPublisher(config.LinkedInConfig{}, zap.NewNop())

	assert.Equal(t, Name, p.Name())
	assert.Equal(t, defaultUserAgent, p.cfg.UserAgent)
	assert.True(t, p.cfg.IsHeadless())
	assert.Equal(t, DefaultTimings, p.timings)
}
