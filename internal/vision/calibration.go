package vision

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// Calibration holds the camera intrinsics, lens distortion coefficients
// and the physical marker edge length. It is supplied once at startup and
// is immutable for the lifetime of a session.
type Calibration struct {
	// CameraMatrix is the 3x3 intrinsic matrix in row-major order:
	// [fx 0 cx; 0 fy cy; 0 0 1].
	CameraMatrix [9]float64 `json:"camera_matrix"`

	// DistCoeffs are the distortion coefficients (k1, k2, p1, p2, k3).
	// Fewer than five may be supplied; missing ones are treated as zero.
	DistCoeffs []float64 `json:"dist_coeffs"`

	// MarkerLengthM is the physical edge length of every marker, metres.
	MarkerLengthM float64 `json:"marker_length_m"`
}

// Fx, Fy, Cx, Cy pull the named intrinsics out of the matrix.
func (c Calibration) Fx() float64 { return c.CameraMatrix[0] }
func (c Calibration) Fy() float64 { return c.CameraMatrix[4] }
func (c Calibration) Cx() float64 { return c.CameraMatrix[2] }
func (c Calibration) Cy() float64 { return c.CameraMatrix[5] }

// DefaultCalibration returns the nominal 640x480 calibration used when no
// calibration file is supplied. Real deployments should calibrate.
func DefaultCalibration() Calibration {
	return Calibration{
		CameraMatrix: [9]float64{
			600, 0, 320,
			0, 600, 240,
			0, 0, 1,
		},
		DistCoeffs:    []float64{0, 0, 0, 0, 0},
		MarkerLengthM: 0.05,
	}
}

// LoadCalibration reads and validates a calibration JSON file.
func LoadCalibration(path string) (Calibration, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return Calibration{}, fmt.Errorf("calibration file must have .json extension, got %q", ext)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return Calibration{}, fmt.Errorf("failed to read calibration file: %w", err)
	}
	var c Calibration
	if err := json.Unmarshal(data, &c); err != nil {
		return Calibration{}, fmt.Errorf("failed to parse calibration JSON: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Calibration{}, err
	}
	return c, nil
}

// Validate checks the calibration for finite, physically plausible values.
func (c Calibration) Validate() error {
	for i, v := range c.CameraMatrix {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: camera_matrix[%d] is not finite", ErrInvalidCalibration, i)
		}
	}
	if c.Fx() <= 0 || c.Fy() <= 0 {
		return fmt.Errorf("%w: focal lengths must be positive (fx=%g fy=%g)", ErrInvalidCalibration, c.Fx(), c.Fy())
	}
	if len(c.DistCoeffs) > 8 {
		return fmt.Errorf("%w: at most 8 distortion coefficients supported, got %d", ErrInvalidCalibration, len(c.DistCoeffs))
	}
	for i, v := range c.DistCoeffs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: dist_coeffs[%d] is not finite", ErrInvalidCalibration, i)
		}
	}
	if !(c.MarkerLengthM > 0) || math.IsInf(c.MarkerLengthM, 0) {
		return fmt.Errorf("%w: marker_length_m must be > 0, got %g", ErrInvalidCalibration, c.MarkerLengthM)
	}
	return nil
}

// distCoeff returns the i-th distortion coefficient, zero when absent.
func (c Calibration) distCoeff(i int) float64 {
	if i < len(c.DistCoeffs) {
		return c.DistCoeffs[i]
	}
	return 0
}
