package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSince(t *testing.T) {
	got, err := parseSince("2026-10-01T08:30:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 1, 6, 30, 0, 0, time.UTC), got)

	got, err = parseSince("2026-10-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), got)

	got, err = parseSince("72h")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(-72*time.Hour), got, time.Minute)

	_, err = parseSince("last week")
	assert.Error(t, err)
}

func TestCommandsAreRegistered(t *testing.T) {
	for _, name := range []string{
		"sync", "reconcile", "process-jobs", "pull", "jobs", "retry",
		"fetch-users", "fetch-pipelines", "test-connection", "reset-watermark", "token",
	} {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
