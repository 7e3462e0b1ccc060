package loop

import (
	"time"

	"github.com/avioncargo/precland/internal/track"
)

// Snapshot is the immutable per-cycle state published on the observation
// bus. It is copied at publish time; observers must never see a
// partially updated pipeline state.
type Snapshot struct {
	SessionID string    `json:"session_id"`
	Seq       uint64    `json:"seq"`
	Time      time.Time `json:"time"`

	Target      track.TargetState `json:"target"`
	LastCommand Command           `json:"last_command"`
	Stats       StatsSnapshot     `json:"stats"`
	Link        LinkHealth        `json:"link"`
}
