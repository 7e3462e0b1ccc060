// Package loop drives the landing pipeline: a single fixed-rate control
// loop that pulls frames, runs detection and pose estimation, advances
// target selection, emits commands and publishes observation snapshots.
package loop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avioncargo/precland/internal/bus"
	"github.com/avioncargo/precland/internal/monitoring"
	"github.com/avioncargo/precland/internal/timeutil"
	"github.com/avioncargo/precland/internal/track"
	"github.com/avioncargo/precland/internal/vision"
)

// State is the session lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Config holds the control-loop parameters.
type Config struct {
	// RateHz is the target cycle rate. Overruns degrade to best-effort
	// cadence; actual timing is recorded in the stats.
	RateHz float64

	// AcquireTimeout bounds a single frame acquisition.
	AcquireTimeout time.Duration

	// SubmitTimeout bounds a single command submission.
	SubmitTimeout time.Duration

	// FPSWindow is the rolling-window size for the instantaneous rate.
	FPSWindow int

	// SnapshotQueueDepth is the per-subscriber observation queue bound.
	SnapshotQueueDepth int

	Selector track.SelectorConfig
}

// DefaultConfig returns the production loop parameters.
func DefaultConfig() Config {
	return Config{
		RateHz:             30,
		AcquireTimeout:     100 * time.Millisecond,
		SubmitTimeout:      100 * time.Millisecond,
		FPSWindow:          DefaultFPSWindow,
		SnapshotQueueDepth: bus.DefaultQueueDepth,
		Selector:           track.DefaultSelectorConfig(),
	}
}

// Session bundles the pipeline dependencies and owns all cross-cycle
// state: the target state and the statistics. It is the only writer of
// both; observers get copies through the bus or Stats().
type Session struct {
	cfg       Config
	source    FrameSource
	sink      CommandSink
	detector  Detector
	estimator PoseEstimator
	selector  *track.Selector

	id    string
	obs   *bus.Bus[Snapshot]
	stat  *Stats
	clock timeutil.Clock

	mu     sync.Mutex
	state  State
	target track.TargetState
	stop   chan struct{}
	done   chan struct{}

	latestMu sync.RWMutex
	latest   Snapshot
}

// NewSession wires a session from its collaborators. Nothing is opened
// until Start.
func NewSession(cfg Config, source FrameSource, sink CommandSink, detector Detector, estimator PoseEstimator) *Session {
	if cfg.RateHz <= 0 {
		cfg.RateHz = DefaultConfig().RateHz
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultConfig().AcquireTimeout
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = DefaultConfig().SubmitTimeout
	}
	return &Session{
		cfg:       cfg,
		source:    source,
		sink:      sink,
		detector:  detector,
		estimator: estimator,
		selector:  track.NewSelector(cfg.Selector),
		id:        uuid.NewString(),
		obs:       bus.New[Snapshot](cfg.SnapshotQueueDepth),
		stat:      NewStats(cfg.FPSWindow),
		clock:     timeutil.RealClock{},
	}
}

// ID returns the session identifier stamped on snapshots and log rows.
func (s *Session) ID() string { return s.id }

// Start opens the frame source and command sink and begins cycling.
// Failure to open either is fatal and is returned synchronously; the
// session stays idle.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return ErrAlreadyRunning
	}

	if err := s.source.Open(); err != nil {
		return fmt.Errorf("failed to open frame source: %w", err)
	}
	if err := s.sink.Open(); err != nil {
		s.source.Close()
		return fmt.Errorf("failed to open command sink: %w", err)
	}

	s.stat = NewStats(s.cfg.FPSWindow)
	s.target = track.TargetState{}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.state = StateRunning

	monitoring.Logf("[loop] session %s started at %.1f Hz", s.id, s.cfg.RateHz)
	go s.run(s.stop, s.done)
	return nil
}

// Stop halts the loop, flushes a final invalid command so the vehicle
// knows tracking has ended, and closes both collaborators. The loop is
// guaranteed to observe the stop within one in-flight cycle.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.state = StateStopping
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	<-done

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SubmitTimeout)
	if err := s.sink.Submit(ctx, Command{Timestamp: time.Now()}); err != nil {
		monitoring.Logf("[loop] final command flush failed: %v", err)
	}
	cancel()

	sinkErr := s.sink.Close()
	sourceErr := s.source.Close()

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()

	monitoring.Logf("[loop] session %s stopped", s.id)
	if sinkErr != nil {
		return sinkErr
	}
	return sourceErr
}

// IsRunning reports whether the loop is actively cycling.
func (s *Session) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateRunning
}

// Stats returns a copy of the current counters and derived rates.
// Start replaces the stats object on restart, so the pointer is read
// under the session lock.
func (s *Session) Stats() StatsSnapshot {
	s.mu.Lock()
	stat := s.stat
	s.mu.Unlock()
	return stat.Snapshot()
}

// Health returns the command link health as last reported by the sink.
func (s *Session) Health() LinkHealth {
	return s.sink.Health()
}

// Subscribe registers an observation-bus subscriber. Delivery is
// fire-and-forget per subscriber; a stalled consumer cannot stall the
// loop.
func (s *Session) Subscribe() (string, <-chan Snapshot) {
	return s.obs.Subscribe()
}

// Unsubscribe removes an observation-bus subscriber.
func (s *Session) Unsubscribe(id string) {
	s.obs.Unsubscribe(id)
}

// run is the loop body. Cancellation is cooperative: the stop channel is
// checked at the top of every iteration, never mid-cycle.
func (s *Session) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	period := time.Duration(float64(time.Second) / s.cfg.RateHz)
	ticker := s.clock.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
		}
		s.cycle()
	}
}

// cycle executes one capture→detect→estimate→select→transmit→report
// pass. Every failure mode short of stop is absorbed locally: frame
// misses skip the cycle, pose failures drop the single observation, and
// transmit failures are counted and surfaced through the stats.
func (s *Session) cycle() {
	start := s.clock.Now()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.AcquireTimeout)
	frame, err := s.source.Acquire(ctx)
	cancel()
	if err != nil {
		s.stat.RecordFrameMiss()
		monitoring.Tracef("[loop] frame miss: %v", err)
		s.publish(0, start)
		return
	}

	observations := s.detector.Detect(frame)

	estimates := make([]vision.PoseEstimate, 0, len(observations))
	for _, o := range observations {
		e, err := s.estimator.Estimate(o)
		if err != nil {
			monitoring.Tracef("[loop] pose rejected for marker %d: %v", o.MarkerID, err)
			continue
		}
		estimates = append(estimates, e)
	}

	s.selector.Step(&s.target, estimates, frame.Seq)

	cmd := CommandFromTarget(s.target, s.clock.Now())
	ctx, cancel = context.WithTimeout(context.Background(), s.cfg.SubmitTimeout)
	err = s.sink.Submit(ctx, cmd)
	cancel()
	if err != nil {
		s.stat.RecordTransmit(false)
		monitoring.Logf("[loop] command transmit failed: %v", err)
	} else {
		s.stat.RecordTransmit(true)
	}

	s.stat.RecordFrame(len(observations), len(estimates))
	s.publishCommand(frame.Seq, start, cmd)
}

// Latest returns the most recently published snapshot. Zero value until
// the first cycle completes.
func (s *Session) Latest() Snapshot {
	s.latestMu.RLock()
	defer s.latestMu.RUnlock()
	return s.latest
}

// publish emits a snapshot for a cycle that produced no command.
func (s *Session) publish(seq uint64, start time.Time) {
	s.stat.RecordCycle(start, s.clock.Since(start))
	s.emit(Snapshot{
		SessionID: s.id,
		Seq:       seq,
		Time:      start,
		Target:    s.target,
		Stats:     s.stat.Snapshot(),
		Link:      s.sink.Health(),
	})
}

// publishCommand emits the end-of-cycle snapshot including the command
// that was just built.
func (s *Session) publishCommand(seq uint64, start time.Time, cmd Command) {
	s.stat.RecordCycle(start, s.clock.Since(start))
	s.emit(Snapshot{
		SessionID:   s.id,
		Seq:         seq,
		Time:        start,
		Target:      s.target,
		LastCommand: cmd,
		Stats:       s.stat.Snapshot(),
		Link:        s.sink.Health(),
	})
}

func (s *Session) emit(snap Snapshot) {
	s.latestMu.Lock()
	s.latest = snap
	s.latestMu.Unlock()
	s.obs.Publish(snap)
}
