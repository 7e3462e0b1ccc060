// Package config loads the landing pipeline configuration from JSON.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/avioncargo/precland/internal/loop"
	"github.com/avioncargo/precland/internal/track"
	"github.com/avioncargo/precland/internal/vision"
)

// LandingConfig represents the root configuration for the landing
// pipeline. All fields are optional pointers; fields omitted from the
// JSON file fall back to the defaults in the Get* methods, so partial
// configs are safe.
type LandingConfig struct {
	// Control loop params
	LoopRateHz         *float64 `json:"loop_rate_hz,omitempty"`
	AcquireTimeout     *string  `json:"acquire_timeout,omitempty"` // duration string like "100ms"
	SubmitTimeout      *string  `json:"submit_timeout,omitempty"`  // duration string like "100ms"
	FPSWindow          *int     `json:"fps_window,omitempty"`
	SnapshotQueueDepth *int     `json:"snapshot_queue_depth,omitempty"`

	// Target selection params
	LossThreshold *int  `json:"loss_threshold,omitempty"`
	AllowedIDs    []int `json:"allowed_ids,omitempty"`

	// Detection params
	Dictionary               *string  `json:"dictionary,omitempty"`
	AdaptiveThreshWinSizeMin *int     `json:"adaptive_thresh_win_size_min,omitempty"`
	AdaptiveThreshWinSizeMax *int     `json:"adaptive_thresh_win_size_max,omitempty"`
	CornerRefinement         *string  `json:"corner_refinement,omitempty"` // "none", "subpix", "contour" or "apriltag"
	MinPerimeterRate         *float64 `json:"min_perimeter_rate,omitempty"`
	FullQualityPerimeterRate *float64 `json:"full_quality_perimeter_rate,omitempty"`

	// Pose params
	MaxReprojErrorPx *float64 `json:"max_reproj_error_px,omitempty"`
	CalibrationPath  *string  `json:"calibration_path,omitempty"`

	// Camera params
	CameraDevice *string `json:"camera_device,omitempty"`
	ReplayDir    *string `json:"replay_dir,omitempty"`

	// Telemetry params
	Sink       *string `json:"sink,omitempty"` // "serial" or "udp"
	SerialPort *string `json:"serial_port,omitempty"`
	BaudRate   *int    `json:"baud_rate,omitempty"`
	UDPAddr    *string `json:"udp_addr,omitempty"`

	// Flight log params
	DBPath *string `json:"db_path,omitempty"`

	// Monitoring params
	ListenAddr *string `json:"listen_addr,omitempty"`
}

// EmptyLandingConfig returns a LandingConfig with all fields set to nil,
// so every Get* method reports its default.
func EmptyLandingConfig() *LandingConfig {
	return &LandingConfig{}
}

// LoadLandingConfig loads a LandingConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
func LoadLandingConfig(path string) (*LandingConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyLandingConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *LandingConfig) Validate() error {
	if c.LoopRateHz != nil {
		if *c.LoopRateHz <= 0 || *c.LoopRateHz > 240 {
			return fmt.Errorf("loop_rate_hz must be between 0 and 240, got %f", *c.LoopRateHz)
		}
	}

	if c.AcquireTimeout != nil && *c.AcquireTimeout != "" {
		if _, err := time.ParseDuration(*c.AcquireTimeout); err != nil {
			return fmt.Errorf("invalid acquire_timeout '%s': %w", *c.AcquireTimeout, err)
		}
	}

	if c.SubmitTimeout != nil && *c.SubmitTimeout != "" {
		if _, err := time.ParseDuration(*c.SubmitTimeout); err != nil {
			return fmt.Errorf("invalid submit_timeout '%s': %w", *c.SubmitTimeout, err)
		}
	}

	if c.LossThreshold != nil && *c.LossThreshold < 1 {
		return fmt.Errorf("loss_threshold must be at least 1, got %d", *c.LossThreshold)
	}

	if c.AdaptiveThreshWinSizeMin != nil && *c.AdaptiveThreshWinSizeMin < 3 {
		return fmt.Errorf("adaptive_thresh_win_size_min must be at least 3, got %d", *c.AdaptiveThreshWinSizeMin)
	}

	if c.AdaptiveThreshWinSizeMax != nil && *c.AdaptiveThreshWinSizeMax < 3 {
		return fmt.Errorf("adaptive_thresh_win_size_max must be at least 3, got %d", *c.AdaptiveThreshWinSizeMax)
	}

	if c.AdaptiveThreshWinSizeMin != nil && c.AdaptiveThreshWinSizeMax != nil &&
		*c.AdaptiveThreshWinSizeMax < *c.AdaptiveThreshWinSizeMin {
		return fmt.Errorf("adaptive_thresh_win_size_max (%d) must not be below adaptive_thresh_win_size_min (%d)",
			*c.AdaptiveThreshWinSizeMax, *c.AdaptiveThreshWinSizeMin)
	}

	if c.CornerRefinement != nil && *c.CornerRefinement != "" {
		switch *c.CornerRefinement {
		case "none", "subpix", "contour", "apriltag":
		default:
			return fmt.Errorf("corner_refinement must be 'none', 'subpix', 'contour' or 'apriltag', got %q", *c.CornerRefinement)
		}
	}

	if c.MinPerimeterRate != nil && *c.MinPerimeterRate < 0 {
		return fmt.Errorf("min_perimeter_rate must be non-negative, got %f", *c.MinPerimeterRate)
	}

	if c.MaxReprojErrorPx != nil && *c.MaxReprojErrorPx <= 0 {
		return fmt.Errorf("max_reproj_error_px must be positive, got %f", *c.MaxReprojErrorPx)
	}

	if c.Sink != nil {
		switch *c.Sink {
		case "serial", "udp":
		default:
			return fmt.Errorf("sink must be 'serial' or 'udp', got %q", *c.Sink)
		}
	}

	if c.BaudRate != nil && *c.BaudRate < 1 {
		return fmt.Errorf("baud_rate must be positive, got %d", *c.BaudRate)
	}

	return nil
}

// GetLoopRateHz returns the loop_rate_hz value or the default.
func (c *LandingConfig) GetLoopRateHz() float64 {
	if c.LoopRateHz == nil {
		return 30
	}
	return *c.LoopRateHz
}

// GetAcquireTimeout parses and returns the AcquireTimeout as a time.Duration.
func (c *LandingConfig) GetAcquireTimeout() time.Duration {
	if c.AcquireTimeout == nil || *c.AcquireTimeout == "" {
		return 100 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.AcquireTimeout)
	if err != nil {
		return 100 * time.Millisecond
	}
	return d
}

// GetSubmitTimeout parses and returns the SubmitTimeout as a time.Duration.
func (c *LandingConfig) GetSubmitTimeout() time.Duration {
	if c.SubmitTimeout == nil || *c.SubmitTimeout == "" {
		return 100 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.SubmitTimeout)
	if err != nil {
		return 100 * time.Millisecond
	}
	return d
}

// GetFPSWindow returns the fps_window value or the default.
func (c *LandingConfig) GetFPSWindow() int {
	if c.FPSWindow == nil {
		return loop.DefaultFPSWindow
	}
	return *c.FPSWindow
}

// GetSnapshotQueueDepth returns the snapshot_queue_depth value or the default.
func (c *LandingConfig) GetSnapshotQueueDepth() int {
	if c.SnapshotQueueDepth == nil {
		return 8
	}
	return *c.SnapshotQueueDepth
}

// GetLossThreshold returns the loss_threshold value or the default.
func (c *LandingConfig) GetLossThreshold() int {
	if c.LossThreshold == nil {
		return track.DefaultLossThreshold
	}
	return *c.LossThreshold
}

// GetDictionary returns the dictionary value or the default.
func (c *LandingConfig) GetDictionary() string {
	if c.Dictionary == nil || *c.Dictionary == "" {
		return "4x4_50"
	}
	return *c.Dictionary
}

// GetAdaptiveThreshWinSizeMin returns the adaptive_thresh_win_size_min value or the default.
func (c *LandingConfig) GetAdaptiveThreshWinSizeMin() int {
	if c.AdaptiveThreshWinSizeMin == nil {
		return 3
	}
	return *c.AdaptiveThreshWinSizeMin
}

// GetAdaptiveThreshWinSizeMax returns the adaptive_thresh_win_size_max value or the default.
func (c *LandingConfig) GetAdaptiveThreshWinSizeMax() int {
	if c.AdaptiveThreshWinSizeMax == nil {
		return 23
	}
	return *c.AdaptiveThreshWinSizeMax
}

// GetCornerRefinement returns the corner_refinement value or the default.
func (c *LandingConfig) GetCornerRefinement() string {
	if c.CornerRefinement == nil || *c.CornerRefinement == "" {
		return "subpix"
	}
	return *c.CornerRefinement
}

// GetMinPerimeterRate returns the min_perimeter_rate value or the default.
func (c *LandingConfig) GetMinPerimeterRate() float64 {
	if c.MinPerimeterRate == nil {
		return 0.03
	}
	return *c.MinPerimeterRate
}

// GetFullQualityPerimeterRate returns the full_quality_perimeter_rate value or the default.
func (c *LandingConfig) GetFullQualityPerimeterRate() float64 {
	if c.FullQualityPerimeterRate == nil {
		return 0.25
	}
	return *c.FullQualityPerimeterRate
}

// GetMaxReprojErrorPx returns the max_reproj_error_px value or the default.
func (c *LandingConfig) GetMaxReprojErrorPx() float64 {
	if c.MaxReprojErrorPx == nil {
		return vision.DefaultMaxReprojErrorPx
	}
	return *c.MaxReprojErrorPx
}

// GetCalibrationPath returns the calibration_path value or empty when
// the built-in default calibration should be used.
func (c *LandingConfig) GetCalibrationPath() string {
	if c.CalibrationPath == nil {
		return ""
	}
	return *c.CalibrationPath
}

// GetCameraDevice returns the camera_device value or the default.
func (c *LandingConfig) GetCameraDevice() string {
	if c.CameraDevice == nil || *c.CameraDevice == "" {
		return "0"
	}
	return *c.CameraDevice
}

// GetReplayDir returns the replay_dir value or empty when live capture
// should be used.
func (c *LandingConfig) GetReplayDir() string {
	if c.ReplayDir == nil {
		return ""
	}
	return *c.ReplayDir
}

// GetSink returns the sink value or the default.
func (c *LandingConfig) GetSink() string {
	if c.Sink == nil || *c.Sink == "" {
		return "serial"
	}
	return *c.Sink
}

// GetSerialPort returns the serial_port value or the default.
func (c *LandingConfig) GetSerialPort() string {
	if c.SerialPort == nil || *c.SerialPort == "" {
		return "/dev/ttyACM0"
	}
	return *c.SerialPort
}

// GetBaudRate returns the baud_rate value or the default.
func (c *LandingConfig) GetBaudRate() int {
	if c.BaudRate == nil {
		return 115200
	}
	return *c.BaudRate
}

// GetUDPAddr returns the udp_addr value or the default.
func (c *LandingConfig) GetUDPAddr() string {
	if c.UDPAddr == nil || *c.UDPAddr == "" {
		return "127.0.0.1:14550"
	}
	return *c.UDPAddr
}

// GetDBPath returns the db_path value or the default. An explicit empty
// string disables flight logging.
func (c *LandingConfig) GetDBPath() string {
	if c.DBPath == nil {
		return "precland.db"
	}
	return *c.DBPath
}

// GetListenAddr returns the listen_addr value or the default.
func (c *LandingConfig) GetListenAddr() string {
	if c.ListenAddr == nil || *c.ListenAddr == "" {
		return ":8080"
	}
	return *c.ListenAddr
}

// LoopConfig assembles the control-loop configuration.
func (c *LandingConfig) LoopConfig() loop.Config {
	return loop.Config{
		RateHz:             c.GetLoopRateHz(),
		AcquireTimeout:     c.GetAcquireTimeout(),
		SubmitTimeout:      c.GetSubmitTimeout(),
		FPSWindow:          c.GetFPSWindow(),
		SnapshotQueueDepth: c.GetSnapshotQueueDepth(),
		Selector: track.SelectorConfig{
			LossThreshold: c.GetLossThreshold(),
			AllowedIDs:    c.AllowedIDs,
		},
	}
}

// DetectorConfig assembles the marker-detection configuration.
func (c *LandingConfig) DetectorConfig() vision.DetectorConfig {
	return vision.DetectorConfig{
		Dictionary:               c.GetDictionary(),
		AdaptiveThreshWinSizeMin: c.GetAdaptiveThreshWinSizeMin(),
		AdaptiveThreshWinSizeMax: c.GetAdaptiveThreshWinSizeMax(),
		CornerRefinement:         c.GetCornerRefinement(),
		MinPerimeterRate:         c.GetMinPerimeterRate(),
		FullQualityPerimeterRate: c.GetFullQualityPerimeterRate(),
	}
}

// EstimatorConfig assembles the pose-estimation configuration.
func (c *LandingConfig) EstimatorConfig() vision.EstimatorConfig {
	return vision.EstimatorConfig{MaxReprojErrorPx: c.GetMaxReprojErrorPx()}
}

// Calibration loads the configured calibration file, or the built-in
// default when no path is set.
func (c *LandingConfig) Calibration() (vision.Calibration, error) {
	path := c.GetCalibrationPath()
	if path == "" {
		return vision.DefaultCalibration(), nil
	}
	return vision.LoadCalibration(path)
}
