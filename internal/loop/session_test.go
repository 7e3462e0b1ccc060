package loop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avioncargo/precland/internal/timeutil"
	"github.com/avioncargo/precland/internal/vision"
)

type fakeSource struct {
	mu      sync.Mutex
	seq     uint64
	openErr error
	acqErr  error
	opened  bool
	closed  bool
}

func (f *fakeSource) Open() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.opened = true
	return nil
}

func (f *fakeSource) Acquire(ctx context.Context) (vision.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acqErr != nil {
		return vision.Frame{}, f.acqErr
	}
	f.seq++
	return vision.Frame{
		Data:      []byte{0xff, 0xd8},
		Width:     640,
		Height:    480,
		Timestamp: time.Now(),
		Seq:       f.seq,
	}, nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeSink struct {
	mu        sync.Mutex
	openErr   error
	submitErr error
	commands  []Command
	closed    bool
}

func (f *fakeSink) Open() error { return f.openErr }

func (f *fakeSink) Submit(ctx context.Context, cmd Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return f.submitErr
	}
	f.commands = append(f.commands, cmd)
	return nil
}

func (f *fakeSink) Health() LinkHealth {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return LinkHealth{Connected: false, LastError: f.submitErr.Error()}
	}
	return LinkHealth{Connected: true}
}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSink) recorded() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Command, len(f.commands))
	copy(out, f.commands)
	return out
}

type fakeDetector struct {
	observations []vision.RawObservation
}

func (f *fakeDetector) Detect(frame vision.Frame) []vision.RawObservation {
	return f.observations
}

type fakeEstimator struct {
	pose vision.PoseEstimate
	err  error
}

func (f *fakeEstimator) Estimate(obs vision.RawObservation) (vision.PoseEstimate, error) {
	if f.err != nil {
		return vision.PoseEstimate{}, f.err
	}
	pose := f.pose
	pose.MarkerID = obs.MarkerID
	return pose, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RateHz = 500
	return cfg
}

func observation(id int) vision.RawObservation {
	return vision.RawObservation{
		MarkerID: id,
		Corners: [4]vision.Point2D{
			{X: 300, Y: 220}, {X: 340, Y: 220},
			{X: 340, Y: 260}, {X: 300, Y: 260},
		},
		Quality: 1,
	}
}

func TestSessionStartFailsWhenSourceFails(t *testing.T) {
	src := &fakeSource{openErr: errors.New("no device")}
	sess := NewSession(testConfig(), src, &fakeSink{}, &fakeDetector{}, &fakeEstimator{})

	err := sess.Start()
	require.Error(t, err)
	assert.False(t, sess.IsRunning())
}

func TestSessionStartClosesSourceWhenSinkFails(t *testing.T) {
	src := &fakeSource{}
	sink := &fakeSink{openErr: errors.New("port busy")}
	sess := NewSession(testConfig(), src, sink, &fakeDetector{}, &fakeEstimator{})

	err := sess.Start()
	require.Error(t, err)
	assert.False(t, sess.IsRunning())
	assert.True(t, src.closed)
}

func TestSessionLifecycleGuards(t *testing.T) {
	sess := NewSession(testConfig(), &fakeSource{}, &fakeSink{}, &fakeDetector{}, &fakeEstimator{})

	require.ErrorIs(t, sess.Stop(), ErrNotRunning)
	require.NoError(t, sess.Start())
	require.ErrorIs(t, sess.Start(), ErrAlreadyRunning)
	require.NoError(t, sess.Stop())
	assert.False(t, sess.IsRunning())
}

func TestSessionCommandCarriesTargetPose(t *testing.T) {
	pose := vision.PoseEstimate{
		Translation: [3]float64{0.02, -0.03, 0.8},
		Distance:    0.801,
		BearingH:    0.025,
		BearingV:    -0.0375,
	}
	sink := &fakeSink{}
	sess := NewSession(testConfig(), &fakeSource{}, sink,
		&fakeDetector{observations: []vision.RawObservation{observation(7)}},
		&fakeEstimator{pose: pose})

	require.NoError(t, sess.Start())
	require.Eventually(t, func() bool {
		return len(sink.recorded()) >= 3
	}, 5*time.Second, time.Millisecond)
	require.NoError(t, sess.Stop())

	cmds := sink.recorded()
	// Last command is the shutdown flush.
	last := cmds[len(cmds)-1]
	assert.False(t, last.Valid)

	cmd := cmds[0]
	require.True(t, cmd.Valid)
	assert.Equal(t, 7, cmd.TargetID)
	assert.Equal(t, pose.Translation, cmd.Translation)
	assert.Equal(t, pose.Distance, cmd.Distance)
	assert.Equal(t, pose.BearingH, cmd.BearingH)
	assert.Equal(t, pose.BearingV, cmd.BearingV)
}

func TestSessionSurvivesDisconnectedSink(t *testing.T) {
	sink := &fakeSink{submitErr: ErrLinkDisconnected}
	sess := NewSession(testConfig(), &fakeSource{}, sink, &fakeDetector{}, &fakeEstimator{})

	require.NoError(t, sess.Start())
	require.Eventually(t, func() bool {
		return sess.Stats().TransmitFailures >= 5
	}, 5*time.Second, time.Millisecond)

	assert.True(t, sess.IsRunning())
	require.NoError(t, sess.Stop())

	snap := sess.Stats()
	// Every processed frame attempted a transmit and every attempt failed.
	assert.Equal(t, snap.FramesProcessed, snap.TransmitFailures)
	assert.Zero(t, snap.CommandsSent)
	assert.False(t, sess.Health().Connected)
}

func TestSessionSurvivesFrameMisses(t *testing.T) {
	src := &fakeSource{acqErr: ErrSourceUnavailable}
	sess := NewSession(testConfig(), src, &fakeSink{}, &fakeDetector{}, &fakeEstimator{})

	require.NoError(t, sess.Start())
	require.Eventually(t, func() bool {
		return sess.Stats().ConsecutiveFrameMisses >= 5
	}, 5*time.Second, time.Millisecond)

	assert.True(t, sess.IsRunning())
	require.NoError(t, sess.Stop())

	snap := sess.Stats()
	assert.Zero(t, snap.FramesProcessed)
	assert.GreaterOrEqual(t, snap.FrameMisses, uint64(5))
}

func TestSessionStalledSubscriberDoesNotBlockLoop(t *testing.T) {
	sess := NewSession(testConfig(), &fakeSource{}, &fakeSink{},
		&fakeDetector{}, &fakeEstimator{})

	// Subscribe and never drain.
	_, ch := sess.Subscribe()
	_ = ch

	require.NoError(t, sess.Start())
	require.Eventually(t, func() bool {
		return sess.Stats().FramesProcessed >= 100
	}, 10*time.Second, time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- sess.Stop() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stop blocked by stalled subscriber")
	}
}

func TestSessionSnapshotsReachSubscriber(t *testing.T) {
	sess := NewSession(testConfig(), &fakeSource{}, &fakeSink{},
		&fakeDetector{observations: []vision.RawObservation{observation(3)}},
		&fakeEstimator{pose: vision.PoseEstimate{Distance: 1.5}})

	id, ch := sess.Subscribe()
	defer sess.Unsubscribe(id)

	require.NoError(t, sess.Start())
	defer sess.Stop()

	select {
	case snap := <-ch:
		assert.Equal(t, sess.ID(), snap.SessionID)
		assert.True(t, snap.Link.Connected)
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot delivered")
	}
}

func TestSessionPoseFailuresDropObservation(t *testing.T) {
	sess := NewSession(testConfig(), &fakeSource{}, &fakeSink{},
		&fakeDetector{observations: []vision.RawObservation{observation(1)}},
		&fakeEstimator{err: vision.ErrDegenerateGeometry})

	require.NoError(t, sess.Start())
	require.Eventually(t, func() bool {
		return sess.Stats().FramesProcessed >= 3
	}, 5*time.Second, time.Millisecond)
	require.NoError(t, sess.Stop())

	snap := sess.Stats()
	assert.Zero(t, snap.PosesSucceeded)
	assert.Equal(t, snap.FramesProcessed, snap.MarkersDetectedTotal)
	assert.Zero(t, snap.PrecisionRate)
}

func TestSessionCadenceFollowsClock(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	sess := NewSession(testConfig(), &fakeSource{}, &fakeSink{}, &fakeDetector{}, &fakeEstimator{})
	sess.clock = clock

	require.NoError(t, sess.Start())
	defer sess.Stop()

	// Frozen clock, no cycles.
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, sess.Stats().FramesProcessed)

	period := 2 * time.Millisecond // testConfig runs at 500 Hz
	require.Eventually(t, func() bool {
		clock.Advance(period)
		return sess.Stats().FramesProcessed >= 3
	}, 5*time.Second, time.Millisecond)
}

func TestSessionRestart(t *testing.T) {
	src := &fakeSource{}
	sess := NewSession(testConfig(), src, &fakeSink{}, &fakeDetector{}, &fakeEstimator{})

	require.NoError(t, sess.Start())
	require.NoError(t, sess.Stop())
	require.NoError(t, sess.Start())
	assert.True(t, sess.IsRunning())
	require.NoError(t, sess.Stop())
}

func TestSessionStatsPollingDuringRestart(t *testing.T) {
	sess := NewSession(testConfig(), &fakeSource{}, &fakeSink{}, &fakeDetector{}, &fakeEstimator{})

	// Poll Stats the way the HTTP handler does while the session is
	// restarted underneath it. The race detector flags any unlocked
	// read of the stats object replaced by Start.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				sess.Stats()
			}
		}
	}()

	for i := 0; i < 10; i++ {
		require.NoError(t, sess.Start())
		require.NoError(t, sess.Stop())
	}

	close(stop)
	wg.Wait()
	assert.False(t, sess.IsRunning())
}
