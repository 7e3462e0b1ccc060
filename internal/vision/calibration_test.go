package vision

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCalibrationIsValid(t *testing.T) {
	t.Parallel()
	require.NoError(t, DefaultCalibration().Validate())
}

func TestCalibrationValidate(t *testing.T) {
	t.Parallel()

	t.Run("rejects non-positive marker length", func(t *testing.T) {
		t.Parallel()
		c := DefaultCalibration()
		c.MarkerLengthM = 0
		assert.ErrorIs(t, c.Validate(), ErrInvalidCalibration)
	})

	t.Run("rejects non-finite intrinsics", func(t *testing.T) {
		t.Parallel()
		c := DefaultCalibration()
		c.CameraMatrix[0] = math.NaN()
		assert.ErrorIs(t, c.Validate(), ErrInvalidCalibration)
	})

	t.Run("rejects negative focal length", func(t *testing.T) {
		t.Parallel()
		c := DefaultCalibration()
		c.CameraMatrix[4] = -600
		assert.ErrorIs(t, c.Validate(), ErrInvalidCalibration)
	})

	t.Run("rejects non-finite distortion", func(t *testing.T) {
		t.Parallel()
		c := DefaultCalibration()
		c.DistCoeffs = []float64{math.Inf(1)}
		assert.ErrorIs(t, c.Validate(), ErrInvalidCalibration)
	})

	t.Run("rejects too many distortion coefficients", func(t *testing.T) {
		t.Parallel()
		c := DefaultCalibration()
		c.DistCoeffs = make([]float64, 9)
		assert.ErrorIs(t, c.Validate(), ErrInvalidCalibration)
	})

	t.Run("accepts short distortion vector", func(t *testing.T) {
		t.Parallel()
		c := DefaultCalibration()
		c.DistCoeffs = []float64{-0.1, 0.02}
		assert.NoError(t, c.Validate())
		assert.Equal(t, 0.0, c.distCoeff(4))
	})
}

func TestLoadCalibration(t *testing.T) {
	t.Parallel()

	t.Run("round trips a valid file", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "calib.json")
		body := `{
			"camera_matrix": [610.2, 0, 324.1, 0, 609.8, 238.7, 0, 0, 1],
			"dist_coeffs": [-0.11, 0.03, 0.0004, -0.0002, 0],
			"marker_length_m": 0.08
		}`
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

		c, err := LoadCalibration(path)
		require.NoError(t, err)
		assert.InDelta(t, 610.2, c.Fx(), 1e-12)
		assert.InDelta(t, 238.7, c.Cy(), 1e-12)
		assert.Equal(t, 0.08, c.MarkerLengthM)
	})

	t.Run("rejects non-json extension", func(t *testing.T) {
		t.Parallel()
		_, err := LoadCalibration("calib.yaml")
		assert.Error(t, err)
	})

	t.Run("rejects missing file", func(t *testing.T) {
		t.Parallel()
		_, err := LoadCalibration(filepath.Join(t.TempDir(), "missing.json"))
		assert.Error(t, err)
	})

	t.Run("rejects invalid contents", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "calib.json")
		body := `{"camera_matrix": [0,0,0,0,0,0,0,0,0], "marker_length_m": 0.05}`
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		_, err := LoadCalibration(path)
		assert.ErrorIs(t, err, ErrInvalidCalibration)
	})
}
