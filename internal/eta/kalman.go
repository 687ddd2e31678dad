package eta

// kalmanFilter is a scalar recursive estimator blending each raw ETA sample
// with the running estimate using a covariance-derived gain.
type kalmanFilter struct {
	estimate         float64
	covariance       float64
	processNoise     float64
	measurementNoise float64
	initialized      bool
}

func newKalmanFilter(initialCovariance, processNoise, measurementNoise float64) *kalmanFilter {
	return &kalmanFilter{
		covariance:       initialCovariance,
		processNoise:     processNoise,
		measurementNoise: measurementNoise,
	}
}

// Update feeds one measurement through the filter and returns the new
// estimate. The first measurement becomes the estimate unblended.
func (f *kalmanFilter) Update(measurement float64) float64 {
	if !f.initialized {
		f.estimate = measurement
		f.initialized = true
		return f.estimate
	}

	// Predict
	f.covariance += f.processNoise

	// Gain
	gain := f.covariance / (f.covariance + f.measurementNoise)

	// Correct
	f.estimate += gain * (measurement - f.estimate)
	f.covariance *= 1 - gain

	return f.estimate
}

func (f *kalmanFilter) Estimate() float64 { return f.estimate }
