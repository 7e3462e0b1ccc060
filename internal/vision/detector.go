package vision

import (
	"fmt"

	"gocv.io/x/gocv"
	"gocv.io/x/gocv/contrib"
)

// DetectorConfig holds the fixed detection parameters. The configuration
// is applied once at construction and never changes per call.
type DetectorConfig struct {
	// Dictionary names the ArUco dictionary, e.g. "4x4_50" or "5x5_50".
	Dictionary string

	// AdaptiveThreshWinSizeMin and AdaptiveThreshWinSizeMax bound the
	// adaptive-threshold window swept during candidate extraction.
	AdaptiveThreshWinSizeMin int
	AdaptiveThreshWinSizeMax int

	// CornerRefinement selects the corner-refinement pass: "none",
	// "subpix", "contour" or "apriltag".
	CornerRefinement string

	// MinPerimeterRate rejects candidate markers whose pixel perimeter is
	// below this fraction of the frame perimeter.
	MinPerimeterRate float64

	// FullQualityPerimeterRate is the perimeter fraction at which the
	// quality indicator saturates at 1. Between MinPerimeterRate and this
	// value quality scales linearly.
	FullQualityPerimeterRate float64
}

// DefaultDetectorConfig returns the production detection parameters.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		Dictionary:               "4x4_50",
		AdaptiveThreshWinSizeMin: 3,
		AdaptiveThreshWinSizeMax: 23,
		CornerRefinement:         "subpix",
		MinPerimeterRate:         0.03,
		FullQualityPerimeterRate: 0.25,
	}
}

// Detector finds ArUco markers in frames. It is a pure function of the
// frame and its fixed configuration; malformed or empty frames return an
// empty observation set rather than an error.
type Detector struct {
	cfg    DetectorConfig
	dict   contrib.ArucoDictionary
	params contrib.ArucoDetectorParameters
}

// NewDetector builds a detector for the configured dictionary and
// detection parameters.
func NewDetector(cfg DetectorConfig) (*Detector, error) {
	kind, err := dictionaryKind(cfg.Dictionary)
	if err != nil {
		return nil, err
	}
	refine, err := cornerRefinementMode(cfg.CornerRefinement)
	if err != nil {
		return nil, err
	}
	def := DefaultDetectorConfig()
	if cfg.MinPerimeterRate <= 0 {
		cfg.MinPerimeterRate = def.MinPerimeterRate
	}
	if cfg.FullQualityPerimeterRate <= cfg.MinPerimeterRate {
		cfg.FullQualityPerimeterRate = def.FullQualityPerimeterRate
	}
	if cfg.AdaptiveThreshWinSizeMin <= 0 {
		cfg.AdaptiveThreshWinSizeMin = def.AdaptiveThreshWinSizeMin
	}
	if cfg.AdaptiveThreshWinSizeMax <= 0 {
		cfg.AdaptiveThreshWinSizeMax = def.AdaptiveThreshWinSizeMax
	}
	if cfg.AdaptiveThreshWinSizeMax < cfg.AdaptiveThreshWinSizeMin {
		cfg.AdaptiveThreshWinSizeMax = cfg.AdaptiveThreshWinSizeMin
	}

	params := contrib.NewArucoDetectorParameters()
	params.SetAdaptiveThreshWinSizeMin(cfg.AdaptiveThreshWinSizeMin)
	params.SetAdaptiveThreshWinSizeMax(cfg.AdaptiveThreshWinSizeMax)
	params.SetMinMarkerPerimeterRate(cfg.MinPerimeterRate)
	params.SetCornerRefinementMethod(refine)

	return &Detector{
		cfg:    cfg,
		dict:   contrib.GetPredefinedDictionary(kind),
		params: params,
	}, nil
}

// Detect returns the markers observed in one frame, in the detection
// algorithm's native order. The frame is decoded, scanned and discarded;
// nothing is retained between calls.
func (d *Detector) Detect(frame Frame) []RawObservation {
	if len(frame.Data) == 0 {
		return nil
	}
	img, err := gocv.IMDecode(frame.Data, gocv.IMReadGrayScale)
	if err != nil {
		return nil
	}
	defer img.Close()
	if img.Empty() {
		return nil
	}

	corners, ids, _ := contrib.DetectMarkers(img, d.dict, d.params)
	if len(ids) == 0 {
		return nil
	}

	framePerimeter := 2 * float64(img.Cols()+img.Rows())
	obs := make([]RawObservation, 0, len(ids))
	for i, id := range ids {
		if i >= len(corners) || len(corners[i]) < 4 {
			continue
		}
		var o RawObservation
		o.MarkerID = id
		for j := 0; j < 4; j++ {
			o.Corners[j] = Point2D{X: float64(corners[i][j].X), Y: float64(corners[i][j].Y)}
		}
		rate := o.Perimeter() / framePerimeter
		if rate < d.cfg.MinPerimeterRate {
			continue
		}
		o.Quality = perimeterQuality(rate, d.cfg.MinPerimeterRate, d.cfg.FullQualityPerimeterRate)
		obs = append(obs, o)
	}
	return obs
}

// perimeterQuality maps a marker's perimeter rate onto [0, 1], linear
// between the rejection floor and the saturation point.
func perimeterQuality(rate, minRate, fullRate float64) float64 {
	if rate <= minRate {
		return 0
	}
	if rate >= fullRate {
		return 1
	}
	return (rate - minRate) / (fullRate - minRate)
}

func dictionaryKind(name string) (contrib.ArucoDictionaryCode, error) {
	switch name {
	case "", "4x4_50":
		return contrib.ArucoDict4x4_50, nil
	case "4x4_100":
		return contrib.ArucoDict4x4_100, nil
	case "5x5_50":
		return contrib.ArucoDict5x5_50, nil
	case "5x5_100":
		return contrib.ArucoDict5x5_100, nil
	case "6x6_50":
		return contrib.ArucoDict6x6_50, nil
	default:
		return 0, fmt.Errorf("unknown marker dictionary %q", name)
	}
}

// cornerRefinementMode maps the config name onto the OpenCV
// cv::aruco::CornerRefineMethod enum value.
func cornerRefinementMode(name string) (int, error) {
	switch name {
	case "none":
		return 0, nil
	case "", "subpix":
		return 1, nil
	case "contour":
		return 2, nil
	case "apriltag":
		return 3, nil
	default:
		return 0, fmt.Errorf("unknown corner refinement mode %q", name)
	}
}
