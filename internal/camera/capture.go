// Package camera provides the frame sources for the landing pipeline: a
// live OpenCV capture device and a file-backed replay source for bench
// runs and tests.
package camera

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/avioncargo/precland/internal/loop"
	"github.com/avioncargo/precland/internal/monitoring"
	"github.com/avioncargo/precland/internal/vision"
)

// CaptureSource wraps a gocv video capture device. The device string
// accepts whatever OpenCV accepts: a device index ("0"), a V4L path or
// a stream URL. Frames are handed off JPEG-encoded so the rest of the
// pipeline never touches a gocv.Mat. It implements loop.FrameSource.
type CaptureSource struct {
	device string

	mu      sync.Mutex
	capture *gocv.VideoCapture
	mat     gocv.Mat
	seq     uint64
}

// NewCaptureSource creates a source for the given capture device. The
// device is not opened until Open.
func NewCaptureSource(device string) *CaptureSource {
	return &CaptureSource{device: device}
}

// Open opens the capture device.
func (c *CaptureSource) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capture != nil {
		return nil
	}
	capture, err := gocv.OpenVideoCapture(c.device)
	if err != nil {
		return fmt.Errorf("failed to open capture device %s: %w", c.device, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return fmt.Errorf("capture device %s: %w", c.device, loop.ErrSourceUnavailable)
	}
	c.capture = capture
	c.mat = gocv.NewMat()
	monitoring.Logf("[camera] capture device %s open", c.device)
	return nil
}

// Acquire reads and encodes one frame.
func (c *CaptureSource) Acquire(ctx context.Context) (vision.Frame, error) {
	if err := ctx.Err(); err != nil {
		return vision.Frame{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capture == nil {
		return vision.Frame{}, loop.ErrSourceUnavailable
	}
	if ok := c.capture.Read(&c.mat); !ok || c.mat.Empty() {
		return vision.Frame{}, fmt.Errorf("read from %s: %w", c.device, loop.ErrSourceUnavailable)
	}

	buf, err := gocv.IMEncode(".jpg", c.mat)
	if err != nil {
		return vision.Frame{}, fmt.Errorf("failed to encode frame: %w", err)
	}
	defer buf.Close()

	// GetBytes returns a view into the native buffer; copy before Close.
	data := make([]byte, len(buf.GetBytes()))
	copy(data, buf.GetBytes())

	c.seq++
	return vision.Frame{
		Data:      data,
		Width:     c.mat.Cols(),
		Height:    c.mat.Rows(),
		Timestamp: time.Now(),
		Seq:       c.seq,
	}, nil
}

// Close releases the capture device.
func (c *CaptureSource) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capture == nil {
		return nil
	}
	c.mat.Close()
	err := c.capture.Close()
	c.capture = nil
	return err
}
