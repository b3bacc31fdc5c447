package tracking

import (
	"gonum.org/v1/gonum/mat"
)

// KalmanFilter is the linear constant-velocity reference filter with state
// [x, y, vx, vy]. It suits non-manoeuvring targets only.
type KalmanFilter struct {
	positionFilter
}

var _ Estimator = (*KalmanFilter)(nil)

// NewKalmanFilter creates a constant-velocity filter at rest at (x, y) with
// 50 m measurement noise.
func NewKalmanFilter(x, y float64) *KalmanFilter {
	return NewKalmanFilterWithNoise(x, y, DefaultNoiseConfig().MeasurementNoise)
}

// NewKalmanFilterWithNoise is NewKalmanFilter with an explicit per-axis
// measurement variance.
func NewKalmanFilterWithNoise(x, y, measurementNoise float64) *KalmanFilter {
	return &KalmanFilter{
		positionFilter: newPositionFilter(
			[]float64{x, y, 0, 0},
			[]float64{10, 10, 1000, 1000}, // velocity unknown at spawn
			[]float64{1, 1, 1, 1},
			measurementNoise,
		),
	}
}

// Predict advances the state by dt seconds. dt <= 0 is a no-op.
func (f *KalmanFilter) Predict(dt float64) {
	if dt <= 0 {
		return
	}
	transition := identity(4)
	transition.Set(0, 2, dt)
	transition.Set(1, 3, dt)

	var x mat.VecDense
	x.MulVec(transition, f.x)
	f.x = &x
	f.propagate(transition)
}

// Update corrects the state against a position measurement.
func (f *KalmanFilter) Update(measX, measY float64) {
	f.correct(measX, measY)
}

// MahalanobisDistanceSquared returns yᵀS⁻¹y, or +Inf when S is singular.
func (f *KalmanFilter) MahalanobisDistanceSquared(measX, measY float64) float64 {
	return f.mahalanobisDistanceSquared(measX, measY)
}

// Position returns the estimated position.
func (f *KalmanFilter) Position() (float64, float64) {
	return f.x.AtVec(0), f.x.AtVec(1)
}

// Velocity returns the estimated velocity.
func (f *KalmanFilter) Velocity() (float64, float64) {
	return f.x.AtVec(2), f.x.AtVec(3)
}

// Clone returns an independent copy of the filter.
func (f *KalmanFilter) Clone() Estimator {
	return &KalmanFilter{positionFilter: f.positionFilter.clone()}
}
