package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr)
	assert.Equal(t, "data/callrec.db", cfg.Database.Path)
	assert.Equal(t, int64(1<<20), cfg.Agent.ChunkSize)
	assert.Equal(t, 8, cfg.Agent.MaxAttempts)
	assert.Equal(t, []time.Duration{5 * time.Second, 15 * time.Second, 45 * time.Second}, cfg.Agent.Backoff)
	assert.Equal(t, 24*time.Hour, cfg.Upload.SessionMaxAge)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CALLREC_SERVER_ADDR", "127.0.0.1:9090")
	t.Setenv("CALLREC_AGENT_CHUNKSIZE", "65536")
	t.Setenv("CALLREC_AGENT_MAXATTEMPTS", "3")
	t.Setenv("CALLREC_AUTH_JWTSECRET", "hush")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr)
	assert.Equal(t, int64(65536), cfg.Agent.ChunkSize)
	assert.Equal(t, 3, cfg.Agent.MaxAttempts)
	assert.Equal(t, "hush", cfg.Auth.JWTSecret)
}
