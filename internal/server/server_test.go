package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-arena-backend/internal/engine"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	c := DefaultConfig()
	require.NoError(t, c.Validate())
	assert.Equal(t, engine.DefaultRules(), c.Rules())
}

func TestValidate(t *testing.T) {
	tests := map[string]struct {
		mutate func(c *Config)
		errs   int
	}{
		"same ports":        {mutate: func(c *Config) { c.WS.Port = c.HTTP.Port }, errs: 1},
		"port out of range": {mutate: func(c *Config) { c.HTTP.Port = 70000 }, errs: 1},
		"zero timeout":      {mutate: func(c *Config) { c.Game.AnswerTimeout = 0 }, errs: 1},
		"bad level":         {mutate: func(c *Config) { c.Game.DefaultLevel = "extreme" }, errs: 1},
		"bad log level":     {mutate: func(c *Config) { c.Log.Level = "loud" }, errs: 1},
		"everything at once": {
			mutate: func(c *Config) {
				c.Game.TurnsPerPlayer = 0
				c.WS.OutboxSize = 0
				c.Game.TeardownGrace = -time.Second
			},
			errs: 3,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.Len(t, multierr.Errors(err), tt.errs)
		})
	}
}

func TestRules_UsesConfiguredValues(t *testing.T) {
	c := DefaultConfig()
	c.Game.AnswerTimeout = 7 * time.Second
	c.Game.TurnsPerPlayer = 4
	c.Game.DefaultLevel = "hard"

	r := c.Rules()
	assert.Equal(t, 7*time.Second, r.AnswerTimeout)
	assert.Equal(t, 4, r.TurnsPerPlayer)
	assert.Equal(t, engine.LevelHard, r.DefaultLevel)
}

func TestNewLogger(t *testing.T) {
	c := DefaultConfig()
	c.Log.Development = true
	c.Log.Level = "warn"

	log, err := NewLogger(c)
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zap.InfoLevel))
	assert.True(t, log.Core().Enabled(zap.WarnLevel))
}

func TestInit_WithoutRedis(t *testing.T) {
	s, err := Init(context.Background(), DefaultConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown() })

	n, err := s.hub.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Nil(t, s.redis)
}
