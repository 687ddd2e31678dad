package eta

import (
	"math"
	"testing"
)

func TestKalmanFirstMeasurementUnblended(t *testing.T) {
	f := newKalmanFilter(1, 0.5, 5)

	if got := f.Update(120); got != 120 {
		t.Errorf("Expected first measurement returned unblended, got %f", got)
	}
	if f.Estimate() != 120 {
		t.Errorf("Expected estimate 120, got %f", f.Estimate())
	}
}

func TestKalmanSecondMeasurementGain(t *testing.T) {
	f := newKalmanFilter(1, 0.5, 5)
	f.Update(100)

	// covariance 1 + 0.5 = 1.5; gain 1.5/6.5; estimate 100 + gain*(113-100)
	got := f.Update(113)
	gain := 1.5 / 6.5
	want := 100 + gain*13
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("Expected estimate %.9f, got %.9f", want, got)
	}
}

func TestKalmanConvergesToSteadyMeasurement(t *testing.T) {
	f := newKalmanFilter(1, 0.5, 5)
	f.Update(300)

	var got float64
	for i := 0; i < 50; i++ {
		got = f.Update(60)
	}
	if math.Abs(got-60) > 1 {
		t.Errorf("Expected convergence near 60, got %f", got)
	}
}

func TestKalmanSmoothsOutliers(t *testing.T) {
	f := newKalmanFilter(1, 0.5, 5)
	f.Update(100)
	f.Update(100)

	// A single spike must not drag the estimate all the way.
	got := f.Update(500)
	if got >= 300 {
		t.Errorf("Expected outlier to be damped below 300, got %f", got)
	}
	if got <= 100 {
		t.Errorf("Expected estimate to move toward the spike, got %f", got)
	}
}
