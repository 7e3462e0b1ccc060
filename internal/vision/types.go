package vision

import (
	"math"
	"time"
)

// Frame is a single captured image handed through the pipeline.
//
// Data holds the encoded image bytes (typically JPEG) and must not be
// modified after the frame is produced. Frames are consumed within the
// cycle that acquired them and are never retained.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Timestamp time.Time
	Seq       uint64
}

// Point2D is a pixel coordinate in the image plane.
type Point2D struct {
	X float64
	Y float64
}

// RawObservation is one detected marker in a frame: the marker id, its
// four corner pixel positions ordered clockwise from the top-left, and a
// detection quality indicator in [0, 1].
type RawObservation struct {
	MarkerID int
	Corners  [4]Point2D
	Quality  float64
}

// Perimeter returns the pixel-space perimeter of the observed marker.
func (o RawObservation) Perimeter() float64 {
	var p float64
	for i := range o.Corners {
		a := o.Corners[i]
		b := o.Corners[(i+1)%4]
		dx := b.X - a.X
		dy := b.Y - a.Y
		p += math.Hypot(dx, dy)
	}
	return p
}

// PoseEstimate is the recovered 3D pose of a marker in the camera frame.
//
// Camera axes follow the usual convention: x right, y down, z forward.
// Rotation is a row-major 3x3 orthonormal matrix. BearingH and BearingV
// are atan2(x, z) and atan2(y, z) respectively, in radians.
type PoseEstimate struct {
	MarkerID    int
	Translation [3]float64
	Rotation    [9]float64
	Distance    float64
	BearingH    float64
	BearingV    float64
	ReprojError float64
}
