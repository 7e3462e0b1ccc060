package camera

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avioncargo/precland/internal/loop"
)

func TestReplaySourcePlaysFramesInOrder(t *testing.T) {
	frames := [][]byte{{0x01}, {0x02}, {0x03}}
	src := NewReplaySource(frames, 640, 480)
	require.NoError(t, src.Open())
	defer src.Close()

	for i, want := range frames {
		frame, err := src.Acquire(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, frame.Data)
		assert.Equal(t, uint64(i+1), frame.Seq)
		assert.Equal(t, 640, frame.Width)
		assert.Equal(t, 480, frame.Height)
	}

	_, err := src.Acquire(context.Background())
	require.ErrorIs(t, err, loop.ErrSourceUnavailable)
}

func TestReplaySourceLoops(t *testing.T) {
	src := NewReplaySource([][]byte{{0x01}, {0x02}}, 0, 0)
	src.Loop = true
	require.NoError(t, src.Open())
	defer src.Close()

	var got [][]byte
	for i := 0; i < 5; i++ {
		frame, err := src.Acquire(context.Background())
		require.NoError(t, err)
		got = append(got, frame.Data)
	}
	assert.Equal(t, [][]byte{{0x01}, {0x02}, {0x01}, {0x02}, {0x01}}, got)

	// Seq keeps incrementing across wraps.
	frame, err := src.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(6), frame.Seq)
}

func TestReplaySourceRequiresOpen(t *testing.T) {
	src := NewReplaySource([][]byte{{0x01}}, 0, 0)
	_, err := src.Acquire(context.Background())
	require.ErrorIs(t, err, loop.ErrSourceUnavailable)

	require.NoError(t, src.Open())
	_, err = src.Acquire(context.Background())
	require.NoError(t, err)

	require.NoError(t, src.Close())
	_, err = src.Acquire(context.Background())
	require.ErrorIs(t, err, loop.ErrSourceUnavailable)
}

func TestReplaySourceHonoursContext(t *testing.T) {
	src := NewReplaySource([][]byte{{0x01}}, 0, 0)
	require.NoError(t, src.Open())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := src.Acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewReplayDirSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "frame_002.jpg"), []byte{0x02}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "frame_001.jpg"), []byte{0x01}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	src, err := NewReplayDirSource(dir)
	require.NoError(t, err)
	require.NoError(t, src.Open())

	frame, err := src.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, frame.Data)

	frame, err = src.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02}, frame.Data)
}

func TestNewReplayDirSourceEmpty(t *testing.T) {
	_, err := NewReplayDirSource(t.TempDir())
	require.Error(t, err)
}
