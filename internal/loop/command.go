package loop

import (
	"time"

	"github.com/avioncargo/precland/internal/track"
)

// Command is one target-position report bound for the flight controller.
// A fresh command is built every cycle from the target state and is not
// retained after transmission. When no target is selected the command is
// still sent with Valid=false so the vehicle knows tracking is lost.
type Command struct {
	TargetID    int        `json:"target_id"`
	Translation [3]float64 `json:"translation_m"`
	Distance    float64    `json:"distance_m"`
	BearingH    float64    `json:"bearing_h_rad"`
	BearingV    float64    `json:"bearing_v_rad"`
	Timestamp   time.Time  `json:"timestamp"`
	Valid       bool       `json:"valid"`
}

// CommandFromTarget builds the cycle's command from the target state.
func CommandFromTarget(state track.TargetState, now time.Time) Command {
	if !state.HasTarget {
		return Command{Timestamp: now}
	}
	return Command{
		TargetID:    state.SelectedID,
		Translation: state.Pose.Translation,
		Distance:    state.Pose.Distance,
		BearingH:    state.Pose.BearingH,
		BearingV:    state.Pose.BearingV,
		Timestamp:   now,
		Valid:       true,
	}
}
