package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shehryarbajwa/ai-in-one/pkg/models"
)

func TestAllowRespectsBurst(t *testing.T) {
	l := NewLimiter(1, 2)

	assert.True(t, l.Allow(models.ServiceGemini))
	assert.True(t, l.Allow(models.ServiceGemini))
	assert.False(t, l.Allow(models.ServiceGemini))
	assert.Greater(t, l.RetryAfter(models.ServiceGemini).Seconds(), 0.0)
}

func TestLimitsAreIndependentPerService(t *testing.T) {
	l := NewLimiter(1, 1)

	assert.True(t, l.Allow(models.ServiceChatGPT))
	assert.False(t, l.Allow(models.ServiceChatGPT))
	assert.True(t, l.Allow(models.ServiceClaude))
	assert.InDelta(t, 0, l.Tokens(models.ServiceClaude), 0.01)
}
