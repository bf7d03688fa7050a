package tensor

import "math"

// Adam implements the Adam optimizer with decoupled weight decay.
type Adam struct {
	Beta1       float64
	Beta2       float64
	Epsilon     float64
	WeightDecay float64

	M []*Tensor // first moment
	V []*Tensor // second moment
	T int       // step count for bias correction
}

// NewAdam creates an Adam optimizer with moment buffers matching params.
func NewAdam(params []*Tensor, beta1, beta2, epsilon, weightDecay float64) *Adam {
	m := make([]*Tensor, len(params))
	v := make([]*Tensor, len(params))
	for i, p := range params {
		m[i] = NewTensor(p.Shape...)
		v[i] = NewTensor(p.Shape...)
	}
	return &Adam{
		Beta1:       beta1,
		Beta2:       beta2,
		Epsilon:     epsilon,
		WeightDecay: weightDecay,
		M:           m,
		V:           v,
	}
}

// Step applies one Adam update to params at learning rate lr.
func (opt *Adam) Step(params []*Tensor, lr float64) {
	opt.T++
	bias1 := 1.0 - math.Pow(opt.Beta1, float64(opt.T))
	bias2 := 1.0 - math.Pow(opt.Beta2, float64(opt.T))

	for i, p := range params {
		p.EnsureGrad()
		for j := range p.Data {
			grad := p.Grad[j] + opt.WeightDecay*p.Data[j]

			opt.M[i].Data[j] = opt.Beta1*opt.M[i].Data[j] + (1.0-opt.Beta1)*grad
			opt.V[i].Data[j] = opt.Beta2*opt.V[i].Data[j] + (1.0-opt.Beta2)*grad*grad

			mHat := opt.M[i].Data[j] / bias1
			vHat := opt.V[i].Data[j] / bias2

			p.Data[j] -= lr * mHat / (math.Sqrt(vHat) + opt.Epsilon)
		}
	}
}

// ZeroGrad clears all parameter gradients.
func (opt *Adam) ZeroGrad(params []*Tensor) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// LRScheduler produces a linear-warmup, cosine-decay learning rate.
type LRScheduler struct {
	baseLR      float64
	minLR       float64
	warmupSteps int
	decaySteps  int
	step        int
}

// NewLRScheduler creates a scheduler. decaySteps counts from step zero,
// not from the end of warmup.
func NewLRScheduler(baseLR, minLR float64, warmupSteps, decaySteps int) *LRScheduler {
	return &LRScheduler{
		baseLR:      baseLR,
		minLR:       minLR,
		warmupSteps: warmupSteps,
		decaySteps:  decaySteps,
	}
}

// Next advances the schedule and returns the learning rate for the
// upcoming step.
func (s *LRScheduler) Next() float64 {
	s.step++

	if s.warmupSteps > 0 && s.step < s.warmupSteps {
		return s.baseLR * float64(s.step) / float64(s.warmupSteps)
	}

	if s.step < s.decaySteps {
		progress := float64(s.step-s.warmupSteps) / float64(s.decaySteps-s.warmupSteps)
		cosine := 0.5 * (1.0 + math.Cos(math.Pi*progress))
		return s.minLR + (s.baseLR-s.minLR)*cosine
	}

	return s.minLR
}
