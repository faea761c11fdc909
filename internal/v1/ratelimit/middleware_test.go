package ratelimit

import (
	"testing"

	"github.com/artifactor-hq/collab-core/internal/v1/config"
	"github.com/stretchr/testify/assert"
)

func TestStandardMiddleware(t *testing.T) {
	cfg := config.RateLimitConfig{
		Global:    "100-M",
		Public:    "100-M",
		Artifacts: "50-M",
		Comments:  "200-M",
		WsIP:      "50-M",
		WsUser:    "100-M",
	}

	rl, err := NewRateLimiter(cfg, nil, &MockValidator{})
	assert.NoError(t, err)

	middleware := rl.StandardMiddleware()
	assert.NotNil(t, middleware)
}
