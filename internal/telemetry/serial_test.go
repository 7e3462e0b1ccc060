package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avioncargo/precland/internal/loop"
)

func TestSerialSinkWritesCommandLines(t *testing.T) {
	port := &MockPort{}
	sink := NewMockSerialSink(port)
	require.NoError(t, sink.Open())

	cmd := loop.Command{
		TargetID:    7,
		Translation: [3]float64{0.02, -0.03, 0.8},
		Distance:    0.801,
		Timestamp:   time.Now().UTC(),
		Valid:       true,
	}
	require.NoError(t, sink.Submit(context.Background(), cmd))
	require.NoError(t, sink.Submit(context.Background(), cmd))

	lines := bytes.Split(bytes.TrimRight(port.Written(), "\n"), []byte{'\n'})
	require.Len(t, lines, 2)

	var decoded loop.Command
	require.NoError(t, json.Unmarshal(lines[0], &decoded))
	assert.Equal(t, cmd.TargetID, decoded.TargetID)
	assert.Equal(t, cmd.Translation, decoded.Translation)
	assert.True(t, decoded.Valid)
}

func TestSerialSinkHealthTracksWriteErrors(t *testing.T) {
	port := &MockPort{}
	sink := NewMockSerialSink(port)
	require.NoError(t, sink.Open())
	assert.True(t, sink.Health().Connected)

	port.SetWriteError(errors.New("input/output error"))
	err := sink.Submit(context.Background(), loop.Command{})
	require.ErrorIs(t, err, loop.ErrLinkDisconnected)
	health := sink.Health()
	assert.False(t, health.Connected)
	assert.Contains(t, health.LastError, "input/output error")

	// A successful write marks the link connected again.
	port.SetWriteError(nil)
	require.NoError(t, sink.Submit(context.Background(), loop.Command{}))
	assert.True(t, sink.Health().Connected)
}

func TestSerialSinkSubmitBeforeOpen(t *testing.T) {
	sink := NewMockSerialSink(&MockPort{})
	err := sink.Submit(context.Background(), loop.Command{})
	require.ErrorIs(t, err, loop.ErrLinkDisconnected)
}

func TestSerialSinkSubmitHonoursContext(t *testing.T) {
	sink := NewMockSerialSink(&MockPort{})
	require.NoError(t, sink.Open())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sink.Submit(ctx, loop.Command{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestSerialSinkClose(t *testing.T) {
	port := &MockPort{}
	sink := NewMockSerialSink(port)
	require.NoError(t, sink.Open())
	require.NoError(t, sink.Close())
	assert.True(t, port.Closed)
	assert.False(t, sink.Health().Connected)

	// Close again is a no-op.
	require.NoError(t, sink.Close())
}
