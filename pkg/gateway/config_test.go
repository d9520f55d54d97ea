package gateway

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yml")
	raw := `
ttl:
  status: 90s
breaker:
  failure_threshold: 8
  quota_pause: 2m
retry:
  attempts: 1
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0600))

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, config.TTL.Status.value())
	assert.Equal(t, 8, config.Breaker.FailureThreshold)
	assert.Equal(t, 2*time.Minute, config.Breaker.QuotaPause.value())
	assert.Equal(t, 1, config.Retry.Attempts)

	// Untouched fields keep their defaults.
	defaults := DefaultConfig()
	assert.Equal(t, defaults.TTL.Capabilities, config.TTL.Capabilities)
	assert.Equal(t, defaults.Breaker.Window, config.Breaker.Window)
}

func TestLoadConfigEmptyPathReturnsDefaults(t *testing.T) {
	config, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), config)
}

func TestLoadConfigRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yml")
	require.NoError(t, os.WriteFile(path, []byte("ttl:\n  status: soon\n"), 0600))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}
