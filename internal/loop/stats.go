package loop

import (
	"sync"
	"time"
)

// DefaultFPSWindow is the number of recent cycle timestamps used for the
// instantaneous frame-rate estimate.
const DefaultFPSWindow = 30

// StatsSnapshot is a read-only copy of the pipeline counters plus the
// rates derived from them. Rates are computed at snapshot time and are
// always in [0, 1]; a zero denominator yields 0, never NaN.
type StatsSnapshot struct {
	FramesProcessed      uint64 `json:"frames_processed"`
	FramesWithDetection  uint64 `json:"frames_with_detection"`
	MarkersDetectedTotal uint64 `json:"markers_detected_total"`
	PosesSucceeded       uint64 `json:"poses_succeeded"`
	CommandsSent         uint64 `json:"commands_sent"`
	TransmitFailures     uint64 `json:"transmit_failures"`
	FrameMisses          uint64 `json:"frame_misses"`

	// ConsecutiveFrameMisses is the current acquire-failure streak,
	// reset whenever a frame comes through. External layers use it to
	// decide on camera re-initialisation or abort.
	ConsecutiveFrameMisses uint64 `json:"consecutive_frame_misses"`

	DetectionRate float64 `json:"detection_rate"`
	PrecisionRate float64 `json:"precision_rate"`
	FPS           float64 `json:"fps"`

	LastCycleAt       time.Time     `json:"last_cycle_at"`
	LastCycleDuration time.Duration `json:"last_cycle_duration"`
}

// Stats accumulates pipeline counters. The control loop is the only
// writer; snapshots may be taken from any goroutine.
type Stats struct {
	mu sync.Mutex

	framesProcessed      uint64
	framesWithDetection  uint64
	markersDetectedTotal uint64
	posesSucceeded       uint64
	commandsSent         uint64
	transmitFailures     uint64
	frameMisses          uint64
	consecutiveMisses    uint64

	lastCycleAt       time.Time
	lastCycleDuration time.Duration

	// Rolling window of cycle start times for instantaneous FPS.
	window []time.Time
	head   int
	filled int
}

// NewStats creates a counter set with the given FPS window size.
func NewStats(fpsWindow int) *Stats {
	if fpsWindow < 2 {
		fpsWindow = DefaultFPSWindow
	}
	return &Stats{window: make([]time.Time, fpsWindow)}
}

// RecordFrame accounts one processed frame.
func (s *Stats) RecordFrame(markers, poses int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.framesProcessed++
	s.consecutiveMisses = 0
	if markers > 0 {
		s.framesWithDetection++
	}
	s.markersDetectedTotal += uint64(markers)
	s.posesSucceeded += uint64(poses)
}

// RecordFrameMiss accounts a cycle skipped because no frame arrived.
func (s *Stats) RecordFrameMiss() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frameMisses++
	s.consecutiveMisses++
}

// RecordTransmit accounts one command submission attempt.
func (s *Stats) RecordTransmit(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ok {
		s.commandsSent++
	} else {
		s.transmitFailures++
	}
}

// RecordCycle stamps the end of a cycle for rate bookkeeping.
func (s *Stats) RecordCycle(start time.Time, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCycleAt = start
	s.lastCycleDuration = duration
	s.window[s.head] = start
	s.head = (s.head + 1) % len(s.window)
	if s.filled < len(s.window) {
		s.filled++
	}
}

// Snapshot returns a copy of the counters with derived rates filled in.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatsSnapshot{
		FramesProcessed:        s.framesProcessed,
		FramesWithDetection:    s.framesWithDetection,
		MarkersDetectedTotal:   s.markersDetectedTotal,
		PosesSucceeded:         s.posesSucceeded,
		CommandsSent:           s.commandsSent,
		TransmitFailures:       s.transmitFailures,
		FrameMisses:            s.frameMisses,
		ConsecutiveFrameMisses: s.consecutiveMisses,
		LastCycleAt:            s.lastCycleAt,
		LastCycleDuration:      s.lastCycleDuration,
	}
	if s.framesProcessed > 0 {
		snap.DetectionRate = float64(s.framesWithDetection) / float64(s.framesProcessed)
	}
	if s.markersDetectedTotal > 0 {
		snap.PrecisionRate = float64(s.posesSucceeded) / float64(s.markersDetectedTotal)
	}
	snap.FPS = s.fpsLocked()
	return snap
}

// fpsLocked derives the instantaneous rate from the rolling window so it
// reflects recent performance, not the lifetime average.
func (s *Stats) fpsLocked() float64 {
	if s.filled < 2 {
		return 0
	}
	newestIdx := (s.head - 1 + len(s.window)) % len(s.window)
	oldestIdx := (s.head - s.filled + len(s.window)) % len(s.window)
	span := s.window[newestIdx].Sub(s.window[oldestIdx])
	if span <= 0 {
		return 0
	}
	return float64(s.filled-1) / span.Seconds()
}
