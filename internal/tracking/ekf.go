package tracking

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// State vector indices for the CTRV model.
const (
	stateX = iota
	stateY
	stateSpeed
	stateHeading
	stateTurnRate
	ctrvStateDim
)

// ExtendedKalmanFilter estimates [x, y, v, θ, ω] under a constant turn rate
// and velocity motion model. Heading is measured clockwise from +Y (north).
type ExtendedKalmanFilter struct {
	positionFilter
}

var _ Estimator = (*ExtendedKalmanFilter)(nil)

// NewExtendedKalmanFilter creates a filter at (x, y) with the given speed
// (m/s) and heading (degrees) and zero turn rate, using DefaultNoiseConfig.
func NewExtendedKalmanFilter(x, y, speed, headingDeg float64) *ExtendedKalmanFilter {
	return NewExtendedKalmanFilterWithNoise(x, y, speed, headingDeg, DefaultNoiseConfig())
}

// NewExtendedKalmanFilterWithNoise is NewExtendedKalmanFilter with explicit noise parameters.
func NewExtendedKalmanFilterWithNoise(x, y, speed, headingDeg float64, noise NoiseConfig) *ExtendedKalmanFilter {
	state := []float64{x, y, speed, wrapAngle(headingDeg * math.Pi / 180), 0}
	return &ExtendedKalmanFilter{
		positionFilter: newPositionFilter(state, noise.InitialCovariance[:], noise.ProcessNoise[:], noise.MeasurementNoise),
	}
}

// Predict advances the state by dt seconds and propagates the covariance
// through the motion Jacobian. The turn rate is treated as constant in the
// Jacobian.
func (f *ExtendedKalmanFilter) Predict(dt float64) {
	if dt <= 0 {
		return
	}

	px := f.x.AtVec(stateX)
	py := f.x.AtVec(stateY)
	v := f.x.AtVec(stateSpeed)
	theta := f.x.AtVec(stateHeading)
	omega := f.x.AtVec(stateTurnRate)

	sinT, cosT := math.Sincos(theta)

	if math.Abs(omega) > MinTurnRate {
		next := theta + omega*dt
		sinN, cosN := math.Sincos(next)
		px += v / omega * (cosT - cosN)
		py += v / omega * (sinN - sinT)
		theta = next
	} else {
		px += v * sinT * dt
		py += v * cosT * dt
	}

	f.x.SetVec(stateX, px)
	f.x.SetVec(stateY, py)
	f.x.SetVec(stateHeading, wrapAngle(theta))

	jac := identity(ctrvStateDim)
	jac.Set(stateX, stateSpeed, sinT*dt)
	jac.Set(stateX, stateHeading, v*cosT*dt)
	jac.Set(stateY, stateSpeed, cosT*dt)
	jac.Set(stateY, stateHeading, -v*sinT*dt)
	f.propagate(jac)
}

// Update corrects the state against a position measurement. When the
// innovation covariance is singular the correction is skipped.
func (f *ExtendedKalmanFilter) Update(measX, measY float64) {
	if f.correct(measX, measY) {
		f.x.SetVec(stateHeading, wrapAngle(f.x.AtVec(stateHeading)))
	}
}

// MahalanobisDistanceSquared returns yᵀS⁻¹y for the measurement, or
// +Inf when S is singular.
func (f *ExtendedKalmanFilter) MahalanobisDistanceSquared(measX, measY float64) float64 {
	return f.mahalanobisDistanceSquared(measX, measY)
}

// Position returns the estimated position.
func (f *ExtendedKalmanFilter) Position() (float64, float64) {
	return f.x.AtVec(stateX), f.x.AtVec(stateY)
}

// Velocity returns the Cartesian projection of speed and heading.
func (f *ExtendedKalmanFilter) Velocity() (float64, float64) {
	v := f.x.AtVec(stateSpeed)
	s, c := math.Sincos(f.x.AtVec(stateHeading))
	return v * s, v * c
}

// Speed returns the estimated speed in m/s.
func (f *ExtendedKalmanFilter) Speed() float64 { return f.x.AtVec(stateSpeed) }

// HeadingDegrees returns the estimated heading in degrees, in (-180, 180].
func (f *ExtendedKalmanFilter) HeadingDegrees() float64 {
	return f.x.AtVec(stateHeading) * 180 / math.Pi
}

// TurnRate returns the estimated turn rate in rad/s.
func (f *ExtendedKalmanFilter) TurnRate() float64 { return f.x.AtVec(stateTurnRate) }

// State returns a copy of [x, y, v, θ, ω].
func (f *ExtendedKalmanFilter) State() []float64 {
	return mat.Col(nil, 0, f.x)
}

// Covariance returns a copy of P.
func (f *ExtendedKalmanFilter) Covariance() *mat.Dense {
	return mat.DenseCopyOf(f.p)
}

// Clone returns an independent copy of the filter.
func (f *ExtendedKalmanFilter) Clone() Estimator {
	return &ExtendedKalmanFilter{positionFilter: f.positionFilter.clone()}
}
