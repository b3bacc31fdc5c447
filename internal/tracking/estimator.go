package tracking

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Estimator is a recursive state estimator observing 2-D position.
type Estimator interface {
	// Predict advances the belief by dt seconds. dt <= 0 is a no-op.
	Predict(dt float64)
	// Update corrects the belief against a position measurement.
	Update(measX, measY float64)
	// MahalanobisDistanceSquared scores a measurement without mutating state.
	MahalanobisDistanceSquared(measX, measY float64) float64
	Position() (x, y float64)
	Velocity() (vx, vy float64)
	Clone() Estimator
}

// positionFilter holds the Gaussian belief shared by both filters. Both
// measurement models observe the first two state components directly.
type positionFilter struct {
	x *mat.VecDense // state mean
	p *mat.Dense    // state covariance
	q *mat.Dense    // process noise (shared, never mutated)
	r *mat.Dense    // measurement noise (shared, never mutated)
	h *mat.Dense    // measurement Jacobian (shared, never mutated)
}

func newPositionFilter(state []float64, p0, q []float64, measurementNoise float64) positionFilter {
	n := len(state)
	h := mat.NewDense(2, n, nil)
	h.Set(0, 0, 1)
	h.Set(1, 1, 1)
	return positionFilter{
		x: mat.NewVecDense(n, append([]float64(nil), state...)),
		p: diag(p0),
		q: diag(q),
		r: diag([]float64{measurementNoise, measurementNoise}),
		h: h,
	}
}

func (f positionFilter) clone() positionFilter {
	return positionFilter{
		x: mat.VecDenseCopyOf(f.x),
		p: mat.DenseCopyOf(f.p),
		q: f.q,
		r: f.r,
		h: f.h,
	}
}

// innovation returns y = z - Hx and S = HPHᵀ + R.
func (f positionFilter) innovation(measX, measY float64) (*mat.VecDense, *mat.Dense) {
	y := mat.NewVecDense(2, []float64{
		measX - f.x.AtVec(0),
		measY - f.x.AtVec(1),
	})
	var s mat.Dense
	s.Product(f.h, f.p, f.h.T())
	s.Add(&s, f.r)
	return y, &s
}

// invertInnovation returns S⁻¹, or false when S is numerically singular.
func invertInnovation(s *mat.Dense) (*mat.Dense, bool) {
	if math.Abs(mat.Det(s)) < MinDeterminantThreshold {
		return nil, false
	}
	var inv mat.Dense
	if err := inv.Inverse(s); err != nil {
		return nil, false
	}
	return &inv, true
}

func (f positionFilter) mahalanobisDistanceSquared(measX, measY float64) float64 {
	y, s := f.innovation(measX, measY)
	sInv, ok := invertInnovation(s)
	if !ok {
		return math.Inf(1)
	}
	return mat.Inner(y, sInv, y)
}

// correct applies the Kalman update and reports whether it was applied.
func (f *positionFilter) correct(measX, measY float64) bool {
	y, s := f.innovation(measX, measY)
	sInv, ok := invertInnovation(s)
	if !ok {
		return false
	}

	n, _ := f.p.Dims()

	// K = P Hᵀ S⁻¹
	var k mat.Dense
	k.Product(f.p, f.h.T(), sInv)

	var dx mat.VecDense
	dx.MulVec(&k, y)
	f.x.AddVec(f.x, &dx)

	// P = (I - K H) P
	var kh mat.Dense
	kh.Mul(&k, f.h)
	ikh := identity(n)
	ikh.Sub(ikh, &kh)
	var p mat.Dense
	p.Mul(ikh, f.p)
	f.p = &p
	return true
}

// propagate applies P = F P Fᵀ + Q.
func (f *positionFilter) propagate(jacobian *mat.Dense) {
	var p mat.Dense
	p.Product(jacobian, f.p, jacobian.T())
	p.Add(&p, f.q)
	f.p = &p
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

func diag(values []float64) *mat.Dense {
	m := mat.NewDense(len(values), len(values), nil)
	for i, v := range values {
		m.Set(i, i, v)
	}
	return m
}

// wrapAngle normalises a to (-π, π].
func wrapAngle(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a <= 0 {
		a += 2 * math.Pi
	}
	a -= math.Pi
	if a <= -math.Pi {
		return math.Pi
	}
	return a
}
