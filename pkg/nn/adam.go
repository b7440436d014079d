package nn

import "math"

// Adam is the Adam optimizer with optional (L2-style) weight decay: the
// decay term is added to the gradient before the moment updates, matching
// the reference framework's behavior.
type Adam struct {
	LR          float32
	Beta1       float32
	Beta2       float32
	Eps         float32
	WeightDecay float32

	t int
	m []float32
	v []float32
}

func NewAdam(lr, weightDecay float32) *Adam {
	return &Adam{
		LR:          lr,
		Beta1:       0.9,
		Beta2:       0.999,
		Eps:         1e-8,
		WeightDecay: weightDecay,
	}
}

// Step applies one update to params in place. Both slices must keep the
// same length across calls; the moment buffers are sized on first use.
func (a *Adam) Step(params, grads []float32) {
	if a.m == nil {
		a.m = make([]float32, len(params))
		a.v = make([]float32, len(params))
	}
	a.t += 1

	c1 := 1 - float32(math.Pow(float64(a.Beta1), float64(a.t)))
	c2 := 1 - float32(math.Pow(float64(a.Beta2), float64(a.t)))

	for k := range params {
		g := grads[k]
		if a.WeightDecay != 0 {
			g += a.WeightDecay * params[k]
		}
		a.m[k] = a.Beta1*a.m[k] + (1-a.Beta1)*g
		a.v[k] = a.Beta2*a.v[k] + (1-a.Beta2)*g*g

		mhat := a.m[k] / c1
		vhat := a.v[k] / c2
		params[k] -= a.LR * mhat / (float32(math.Sqrt(float64(vhat))) + a.Eps)
	}
}
