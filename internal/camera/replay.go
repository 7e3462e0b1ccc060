package camera

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/avioncargo/precland/internal/loop"
	"github.com/avioncargo/precland/internal/vision"
)

// ReplaySource plays back a fixed sequence of pre-encoded frames. With
// Loop set the sequence repeats forever; otherwise Acquire reports
// loop.ErrSourceUnavailable once the sequence is exhausted, which is how
// recorded bench runs terminate the pipeline.
type ReplaySource struct {
	Loop   bool
	Width  int
	Height int

	mu     sync.Mutex
	frames [][]byte
	idx    int
	seq    uint64
	open   bool
}

// NewReplaySource creates a replay source over the given encoded frames.
func NewReplaySource(frames [][]byte, width, height int) *ReplaySource {
	return &ReplaySource{frames: frames, Width: width, Height: height}
}

// NewReplayDirSource creates a replay source from the JPEG files in dir,
// played in lexical order.
func NewReplayDirSource(dir string) (*ReplaySource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read replay dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg":
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no jpeg frames in %s", dir)
	}
	sort.Strings(names)

	frames := make([][]byte, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read frame %s: %w", name, err)
		}
		frames = append(frames, data)
	}
	return &ReplaySource{frames: frames}, nil
}

// Open marks the source ready and rewinds playback.
func (r *ReplaySource) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.idx = 0
	r.open = true
	return nil
}

// Acquire returns the next frame in the sequence.
func (r *ReplaySource) Acquire(ctx context.Context) (vision.Frame, error) {
	if err := ctx.Err(); err != nil {
		return vision.Frame{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open {
		return vision.Frame{}, loop.ErrSourceUnavailable
	}
	if r.idx >= len(r.frames) {
		if !r.Loop || len(r.frames) == 0 {
			return vision.Frame{}, loop.ErrSourceUnavailable
		}
		r.idx = 0
	}

	data := r.frames[r.idx]
	r.idx++
	r.seq++
	return vision.Frame{
		Data:      data,
		Width:     r.Width,
		Height:    r.Height,
		Timestamp: time.Now(),
		Seq:       r.seq,
	}, nil
}

// Close marks the source unavailable.
func (r *ReplaySource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = false
	return nil
}
