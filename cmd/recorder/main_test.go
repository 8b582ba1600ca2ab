package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("LIVEKIT_URL", "ws://localhost:7880")
	t.Setenv("LIVEKIT_API_KEY", "key")
	t.Setenv("LIVEKIT_API_SECRET", "secret")
	t.Setenv("ROOM_NAME", "standup")
	t.Setenv("REGISTRY_URL", "http://localhost:8090")
}

// TestLoadConfigForceCleanupDefaultsOff tests that conflict cleanup is opt-in:
// without FORCE_CLEANUP the bot must not clear another session
func TestLoadConfigForceCleanupDefaultsOff(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("FORCE_CLEANUP", "")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.False(t, cfg.forceCleanup)
}

// TestLoadConfigForceCleanupOptIn tests the explicit opt-in
func TestLoadConfigForceCleanupOptIn(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("FORCE_CLEANUP", "true")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.forceCleanup)
}

// TestParseBool tests that only explicit true values enable a flag
func TestParseBool(t *testing.T) {
	assert.True(t, parseBool("true"))
	assert.True(t, parseBool("1"))
	assert.False(t, parseBool(""))
	assert.False(t, parseBool("banana"))
}
