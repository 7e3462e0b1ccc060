package vision

import "errors"

var (
	// ErrDegenerateGeometry is returned by the pose estimator when the
	// observed corner geometry cannot be solved (collinear corners, a
	// singular homography, or reprojection error above the configured
	// threshold).
	ErrDegenerateGeometry = errors.New("degenerate marker geometry")

	// ErrInvalidCalibration is returned when calibration data fails
	// validation on load.
	ErrInvalidCalibration = errors.New("invalid calibration")
)
