package vision

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// DefaultMaxReprojErrorPx is the reprojection error ceiling above which a
// solved pose is rejected as unreliable.
const DefaultMaxReprojErrorPx = 3.0

// singularRatioFloor rejects homographies whose design matrix is rank
// deficient (collinear or coincident corners).
const singularRatioFloor = 1e-9

// EstimatorConfig holds the fixed pose-estimation parameters.
type EstimatorConfig struct {
	MaxReprojErrorPx float64
}

// Estimator recovers marker poses from corner observations. Given
// identical inputs and calibration it always produces identical output;
// there is no internal randomness.
type Estimator struct {
	calib Calibration
	cfg   EstimatorConfig

	// Planar object corners in marker-local coordinates, matching the
	// detector's clockwise-from-top-left corner order.
	objPts [4][2]float64
}

// NewEstimator builds an estimator for the given calibration.
func NewEstimator(calib Calibration, cfg EstimatorConfig) *Estimator {
	if cfg.MaxReprojErrorPx <= 0 {
		cfg.MaxReprojErrorPx = DefaultMaxReprojErrorPx
	}
	half := calib.MarkerLengthM / 2
	return &Estimator{
		calib: calib,
		cfg:   cfg,
		objPts: [4][2]float64{
			{-half, half},
			{half, half},
			{half, -half},
			{-half, -half},
		},
	}
}

// Estimate solves the marker pose for one observation.
//
// The four corners are normalised with the intrinsics, undistorted, and
// fitted with a planar homography (DLT). The homography is decomposed
// into rotation and translation, the rotation re-orthonormalised by SVD,
// and the result validated by reprojection. Returns ErrDegenerateGeometry
// when the corner geometry does not admit a solution.
func (e *Estimator) Estimate(o RawObservation) (PoseEstimate, error) {
	// Normalised, undistorted image coordinates.
	var imgPts [4][2]float64
	for i, c := range o.Corners {
		x := (c.X - e.calib.Cx()) / e.calib.Fx()
		y := (c.Y - e.calib.Cy()) / e.calib.Fy()
		imgPts[i][0], imgPts[i][1] = e.calib.undistort(x, y)
	}

	H, err := homographyDLT(e.objPts, imgPts)
	if err != nil {
		return PoseEstimate{}, err
	}

	// Decompose H = [r1 r2 t] up to scale.
	h1 := [3]float64{H[0], H[3], H[6]}
	h2 := [3]float64{H[1], H[4], H[7]}
	h3 := [3]float64{H[2], H[5], H[8]}
	n1 := norm3(h1)
	n2 := norm3(h2)
	if n1 < 1e-12 || n2 < 1e-12 {
		return PoseEstimate{}, fmt.Errorf("%w: vanishing homography columns", ErrDegenerateGeometry)
	}
	lambda := 2 / (n1 + n2)
	r1 := scale3(h1, lambda)
	r2 := scale3(h2, lambda)
	t := scale3(h3, lambda)

	// The marker must sit in front of the camera (z forward).
	if t[2] < 0 {
		r1 = scale3(r1, -1)
		r2 = scale3(r2, -1)
		t = scale3(t, -1)
	}
	r3 := cross3(r1, r2)

	R, err := orthonormalise(r1, r2, r3)
	if err != nil {
		return PoseEstimate{}, err
	}

	reproj := e.reprojectionError(R, t, o.Corners)
	if reproj > e.cfg.MaxReprojErrorPx {
		return PoseEstimate{}, fmt.Errorf("%w: reprojection error %.2fpx exceeds %.2fpx",
			ErrDegenerateGeometry, reproj, e.cfg.MaxReprojErrorPx)
	}

	dist := norm3(t)
	return PoseEstimate{
		MarkerID:    o.MarkerID,
		Translation: t,
		Rotation:    R,
		Distance:    dist,
		BearingH:    math.Atan2(t[0], t[2]),
		BearingV:    math.Atan2(t[1], t[2]),
		ReprojError: reproj,
	}, nil
}

// homographyDLT fits the 3x3 homography mapping planar object points to
// normalised image points, returned row-major.
func homographyDLT(obj, img [4][2]float64) ([9]float64, error) {
	var zero [9]float64
	a := mat.NewDense(8, 9, nil)
	for i := 0; i < 4; i++ {
		X, Y := obj[i][0], obj[i][1]
		x, y := img[i][0], img[i][1]
		a.SetRow(2*i, []float64{-X, -Y, -1, 0, 0, 0, x * X, x * Y, x})
		a.SetRow(2*i+1, []float64{0, 0, 0, -X, -Y, -1, y * X, y * Y, y})
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFullV); !ok {
		return zero, fmt.Errorf("%w: SVD failed", ErrDegenerateGeometry)
	}
	sv := svd.Values(nil)
	// Rank deficiency means the nullspace is not one-dimensional: the
	// corners are collinear or coincident.
	if sv[0] <= 0 || sv[7]/sv[0] < singularRatioFloor {
		return zero, fmt.Errorf("%w: collinear corners", ErrDegenerateGeometry)
	}

	var v mat.Dense
	svd.VTo(&v)
	var h [9]float64
	for i := 0; i < 9; i++ {
		h[i] = v.At(i, 8)
	}
	return h, nil
}

// orthonormalise projects the approximate rotation [r1 r2 r3] onto the
// nearest orthonormal matrix via SVD: R = U Vᵀ.
func orthonormalise(r1, r2, r3 [3]float64) ([9]float64, error) {
	var zero [9]float64
	approx := mat.NewDense(3, 3, []float64{
		r1[0], r2[0], r3[0],
		r1[1], r2[1], r3[1],
		r1[2], r2[2], r3[2],
	})

	var svd mat.SVD
	if ok := svd.Factorize(approx, mat.SVDFull); !ok {
		return zero, fmt.Errorf("%w: rotation SVD failed", ErrDegenerateGeometry)
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var r mat.Dense
	r.Mul(&u, v.T())
	// Guard against reflections.
	if mat.Det(&r) < 0 {
		d := mat.NewDiagDense(3, []float64{1, 1, -1})
		var uv mat.Dense
		uv.Mul(&u, d)
		r.Mul(&uv, v.T())
	}

	var out [9]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i*3+j] = r.At(i, j)
		}
	}
	return out, nil
}

// reprojectionError projects the marker corners through (R, t) and the
// calibration, returning the RMS pixel error against the observation.
func (e *Estimator) reprojectionError(R [9]float64, t [3]float64, observed [4]Point2D) float64 {
	var sum float64
	for i, op := range e.objPts {
		X := [3]float64{op[0], op[1], 0}
		p := [3]float64{
			R[0]*X[0] + R[1]*X[1] + R[2]*X[2] + t[0],
			R[3]*X[0] + R[4]*X[1] + R[5]*X[2] + t[1],
			R[6]*X[0] + R[7]*X[1] + R[8]*X[2] + t[2],
		}
		if p[2] <= 1e-12 {
			return math.Inf(1)
		}
		x := p[0] / p[2]
		y := p[1] / p[2]
		xd, yd := e.calib.distort(x, y)
		u := e.calib.Fx()*xd + e.calib.Cx()
		v := e.calib.Fy()*yd + e.calib.Cy()
		du := u - observed[i].X
		dv := v - observed[i].Y
		sum += du*du + dv*dv
	}
	return math.Sqrt(sum / 4)
}

// undistort iteratively removes radial and tangential distortion from a
// normalised image coordinate.
func (c Calibration) undistort(x, y float64) (float64, float64) {
	k1, k2 := c.distCoeff(0), c.distCoeff(1)
	p1, p2 := c.distCoeff(2), c.distCoeff(3)
	k3 := c.distCoeff(4)
	if k1 == 0 && k2 == 0 && p1 == 0 && p2 == 0 && k3 == 0 {
		return x, y
	}
	xu, yu := x, y
	for i := 0; i < 5; i++ {
		r2 := xu*xu + yu*yu
		radial := 1 + r2*(k1+r2*(k2+r2*k3))
		dx := 2*p1*xu*yu + p2*(r2+2*xu*xu)
		dy := p1*(r2+2*yu*yu) + 2*p2*xu*yu
		if radial == 0 {
			break
		}
		xu = (x - dx) / radial
		yu = (y - dy) / radial
	}
	return xu, yu
}

// distort applies the distortion model to a normalised image coordinate.
func (c Calibration) distort(x, y float64) (float64, float64) {
	k1, k2 := c.distCoeff(0), c.distCoeff(1)
	p1, p2 := c.distCoeff(2), c.distCoeff(3)
	k3 := c.distCoeff(4)
	r2 := x*x + y*y
	radial := 1 + r2*(k1+r2*(k2+r2*k3))
	xd := x*radial + 2*p1*x*y + p2*(r2+2*x*x)
	yd := y*radial + p1*(r2+2*y*y) + 2*p2*x*y
	return xd, yd
}

func norm3(v [3]float64) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

func scale3(v [3]float64, s float64) [3]float64 {
	return [3]float64{v[0] * s, v[1] * s, v[2] * s}
}

func cross3(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}
