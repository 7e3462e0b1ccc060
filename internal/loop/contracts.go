package loop

import (
	"context"
	"errors"

	"github.com/avioncargo/precland/internal/vision"
)

var (
	// ErrFrameTimeout reports that the frame source produced nothing
	// within the acquisition timeout. Transient; the cycle is skipped.
	ErrFrameTimeout = errors.New("frame acquisition timed out")

	// ErrSourceUnavailable reports that the frame source cannot deliver
	// frames at all (device gone, stream ended).
	ErrSourceUnavailable = errors.New("frame source unavailable")

	// ErrLinkDisconnected reports that the command link is down.
	ErrLinkDisconnected = errors.New("command link disconnected")

	// ErrCommandRejected reports that the vehicle refused a command.
	ErrCommandRejected = errors.New("command rejected")

	// ErrAlreadyRunning and ErrNotRunning guard the session lifecycle.
	ErrAlreadyRunning = errors.New("session already running")
	ErrNotRunning     = errors.New("session not running")
)

// FrameSource produces timestamped frames on demand. Implementations may
// fail transiently; Acquire honours the context deadline so a wedged
// device degrades a single cycle instead of freezing the loop.
type FrameSource interface {
	Open() error
	Acquire(ctx context.Context) (vision.Frame, error)
	Close() error
}

// LinkHealth describes the state of the command link as last observed.
type LinkHealth struct {
	Connected bool   `json:"connected"`
	LastError string `json:"last_error,omitempty"`
}

// CommandSink accepts target-position commands bound for the flight
// controller. Submit failures are non-fatal to the loop; Health lets
// observers decide whether to abort externally.
type CommandSink interface {
	Open() error
	Submit(ctx context.Context, cmd Command) error
	Health() LinkHealth
	Close() error
}

// Detector finds marker observations in a frame.
type Detector interface {
	Detect(frame vision.Frame) []vision.RawObservation
}

// PoseEstimator solves a single observation into a 3D pose.
type PoseEstimator interface {
	Estimate(obs vision.RawObservation) (vision.PoseEstimate, error)
}
