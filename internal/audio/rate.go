package audio

// Rate presets of the transport controls.
const (
	RateSlow   = 0.5
	RateNormal = 1.0
	RateFast   = 1.5
)

// rateSteps are the rates StepRate moves between.
var rateSteps = []float64{0.5, 0.75, 1.0, 1.25, 1.5, 1.75, 2.0, 3.0, 4.0}

// StepRate returns the next preset above (up) or below cur. At either end
// cur is returned unchanged.
func StepRate(cur float64, up bool) float64 {
	if up {
		for _, r := range rateSteps {
			if r > cur {
				return r
			}
		}
		return cur
	}
	for i := len(rateSteps) - 1; i >= 0; i-- {
		if rateSteps[i] < cur {
			return rateSteps[i]
		}
	}
	return cur
}
