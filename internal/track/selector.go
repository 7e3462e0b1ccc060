// Package track implements landing-target selection: picking one marker
// out of the per-frame pose estimates and holding onto it across frames.
package track

import (
	"github.com/avioncargo/precland/internal/vision"
)

// DefaultLossThreshold is the number of consecutive frames the selected
// marker may be absent before the target is declared lost.
const DefaultLossThreshold = 3

// SelectorConfig holds the tracking policy parameters.
type SelectorConfig struct {
	// LossThreshold is the consecutive-miss count at which the selected
	// target is cleared. The target is cleared on the threshold-th miss,
	// not before.
	LossThreshold int

	// AllowedIDs, when non-empty, restricts selection to these marker
	// ids. Estimates for other ids are ignored entirely.
	AllowedIDs []int
}

// DefaultSelectorConfig returns the production selection parameters.
func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{LossThreshold: DefaultLossThreshold}
}

// TargetState is the single piece of cross-frame pipeline state: which
// marker is currently the landing target and how stale that choice is.
// It is owned by the control loop and mutated exactly once per cycle.
type TargetState struct {
	// SelectedID is the marker id of the current target. Meaningful only
	// when HasTarget is true.
	SelectedID int
	HasTarget  bool

	// LastSeenSeq is the frame sequence number at which the selected
	// marker was last observed.
	LastSeenSeq uint64

	// ConsecutiveMisses counts frames since the selected marker was last
	// observed. Reset to zero whenever it reappears.
	ConsecutiveMisses int

	// Pose is the last valid pose estimate for the selected marker. It is
	// the only PoseEstimate that survives past the cycle producing it.
	Pose vision.PoseEstimate
}

// Selector applies the target-selection policy. The policy favours
// stability over reactivity: once a marker is selected it is retained for
// as long as it keeps being observed, so the emitted commands do not
// jitter between markers when several are visible at once.
type Selector struct {
	cfg     SelectorConfig
	allowed map[int]bool
}

// NewSelector builds a selector with the given policy.
func NewSelector(cfg SelectorConfig) *Selector {
	if cfg.LossThreshold <= 0 {
		cfg.LossThreshold = DefaultLossThreshold
	}
	var allowed map[int]bool
	if len(cfg.AllowedIDs) > 0 {
		allowed = make(map[int]bool, len(cfg.AllowedIDs))
		for _, id := range cfg.AllowedIDs {
			allowed[id] = true
		}
	}
	return &Selector{cfg: cfg, allowed: allowed}
}

// Step advances the target state by one frame. estimates carries the
// cycle's successful pose estimates; seq is the frame sequence number.
// Step never fails: an empty estimate set simply advances the miss count.
func (s *Selector) Step(state *TargetState, estimates []vision.PoseEstimate, seq uint64) {
	if s.allowed != nil {
		filtered := estimates[:0:0]
		for _, e := range estimates {
			if s.allowed[e.MarkerID] {
				filtered = append(filtered, e)
			}
		}
		estimates = filtered
	}

	// Continuity first: retain the current target if it is still visible.
	if state.HasTarget {
		for _, e := range estimates {
			if e.MarkerID == state.SelectedID {
				state.ConsecutiveMisses = 0
				state.LastSeenSeq = seq
				state.Pose = e
				return
			}
		}
	}

	state.ConsecutiveMisses++
	if state.HasTarget && state.ConsecutiveMisses >= s.cfg.LossThreshold {
		state.HasTarget = false
		state.SelectedID = 0
	}

	// Acquisition: with no current target, take the closest marker,
	// breaking distance ties by lowest id.
	if !state.HasTarget && len(estimates) > 0 {
		best := estimates[0]
		for _, e := range estimates[1:] {
			if e.Distance < best.Distance ||
				(e.Distance == best.Distance && e.MarkerID < best.MarkerID) {
				best = e
			}
		}
		state.SelectedID = best.MarkerID
		state.HasTarget = true
		state.LastSeenSeq = seq
		state.ConsecutiveMisses = 0
		state.Pose = best
	}
}
