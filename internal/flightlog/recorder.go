package flightlog

import (
	"github.com/avioncargo/precland/internal/loop"
	"github.com/avioncargo/precland/internal/monitoring"
)

// Recorder drains pipeline snapshots into the flight log. It runs off
// the observation bus, so a slow disk can never stall the control loop;
// under pressure the bus drops history, not commands.
type Recorder struct {
	db *FlightDB
}

func NewRecorder(db *FlightDB) *Recorder {
	return &Recorder{db: db}
}

// Run consumes snapshots until ch is closed, typically by the bus on
// unsubscribe. Insert failures are logged and skipped; losing a log row
// is preferable to losing the rest of the session.
func (r *Recorder) Run(ch <-chan loop.Snapshot) {
	var failures int
	for snap := range ch {
		if err := r.db.RecordSnapshot(snap); err != nil {
			failures++
			if failures <= 3 {
				monitoring.Logf("[flightlog] snapshot insert failed: %v", err)
			}
		}
	}
	if failures > 0 {
		monitoring.Logf("[flightlog] recorder finished with %d failed inserts", failures)
	}
}
