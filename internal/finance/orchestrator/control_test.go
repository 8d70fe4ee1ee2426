package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilControlNeverBlocks(t *testing.T) {
	var c *Control
	assert.False(t, c.Paused())
	assert.False(t, c.Cancelled())
	assert.NoError(t, c.Checkpoint(context.Background()))
}

func TestCheckpointWaitsForResume(t *testing.T) {
	c := NewControl()
	require.True(t, c.Pause())
	require.True(t, c.Pause(), "pausing twice is harmless")

	done := make(chan error, 1)
	go func() { done <- c.Checkpoint(context.Background()) }()

	select {
	case <-done:
		t.Fatal("checkpoint returned while paused")
	case <-time.After(20 * time.Millisecond):
	}

	c.Resume()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("checkpoint did not resume")
	}
	assert.False(t, c.Paused())
}

func TestCancelReleasesPausedCheckpoint(t *testing.T) {
	c := NewControl()
	c.Pause()

	done := make(chan error, 1)
	go func() { done <- c.Checkpoint(context.Background()) }()
	c.Cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("checkpoint did not observe cancel")
	}
	assert.False(t, c.Pause(), "a cancelled run cannot be paused")
}

func TestCheckpointHonorsContext(t *testing.T) {
	c := NewControl()
	c.Pause()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, c.Checkpoint(ctx), context.DeadlineExceeded)
}
