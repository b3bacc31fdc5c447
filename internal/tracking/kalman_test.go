package tracking

import (
	"math"
	"testing"
)

func TestKalmanFilter_PredictConstantVelocity(t *testing.T) {
	f := NewKalmanFilter(0, 0)
	f.x.SetVec(2, 10)
	f.x.SetVec(3, -5)

	f.Predict(2)

	x, y := f.Position()
	if x != 20 || y != -10 {
		t.Errorf("position = (%f, %f), want (20, -10)", x, y)
	}

	f.Predict(-1)
	if x2, y2 := f.Position(); x2 != x || y2 != y {
		t.Errorf("negative dt moved state to (%f, %f)", x2, y2)
	}
}

func TestKalmanFilter_VelocityConverges(t *testing.T) {
	f := NewKalmanFilter(0, 0)
	for k := 1; k <= 20; k++ {
		noise := 5.0
		if k%2 == 0 {
			noise = -5.0
		}
		f.Predict(0.1)
		f.Update(noise, 10*float64(k)-noise)
	}
	vx, vy := f.Velocity()
	if math.Abs(vy-100) > 30 || math.Abs(vx) > 10 {
		t.Errorf("velocity after 20 scans = (%f, %f), want ~(0, 100)", vx, vy)
	}
}

func TestKalmanFilter_Mahalanobis(t *testing.T) {
	f := NewKalmanFilter(0, 0)
	// S = diag(2510, 2510)
	if d := f.MahalanobisDistanceSquared(0, 0); d != 0 {
		t.Errorf("self distance = %f, want 0", d)
	}
	if d := f.MahalanobisDistanceSquared(1000, 1000); math.Abs(d-2e6/2510) > 1e-9 {
		t.Errorf("distance = %f, want %f", d, 2e6/2510)
	}
}

func TestKalmanFilter_Clone(t *testing.T) {
	f := NewKalmanFilter(3, 4)
	c := f.Clone()
	c.Update(100, 100)
	if x, y := f.Position(); x != 3 || y != 4 {
		t.Errorf("original changed to (%f, %f)", x, y)
	}
}
