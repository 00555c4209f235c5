package detection

import (
	"math"
	"math/rand"
)

// lstmNetwork is a single LSTM layer over scalar inputs followed by a dense output unit.
//
// All parameters live in one flat slice so the optimizer can treat them uniformly:
//
//	W  [4H]    input weights, gate order i, f, g, o
//	U  [4H*H]  recurrent weights, row-major by gate unit
//	b  [4H]    gate biases
//	Wy [H]     dense weights
//	by [1]     dense bias
type lstmNetwork struct {
	hidden int
	params []float64
}

type lstmStep struct {
	x          float64
	hPrev      []float64
	cPrev      []float64
	i, f, g, o []float64
	c          []float64
}

func newLSTMNetwork(hidden int, rng *rand.Rand) *lstmNetwork {
	n := &lstmNetwork{hidden: hidden}
	n.params = make([]float64, n.size())

	gates := 4 * hidden
	kernelLimit := math.Sqrt(6 / float64(1+gates))
	for k := 0; k < gates; k++ {
		n.params[n.offW()+k] = (rng.Float64()*2 - 1) * kernelLimit
	}
	recurrentLimit := math.Sqrt(6 / float64(hidden+gates))
	for k := 0; k < gates*hidden; k++ {
		n.params[n.offU()+k] = (rng.Float64()*2 - 1) * recurrentLimit
	}
	// forget gate starts open
	for j := 0; j < hidden; j++ {
		n.params[n.offB()+hidden+j] = 1
	}
	denseLimit := math.Sqrt(6 / float64(hidden+1))
	for j := 0; j < hidden; j++ {
		n.params[n.offWy()+j] = (rng.Float64()*2 - 1) * denseLimit
	}
	return n
}

func (n *lstmNetwork) size() int {
	h := n.hidden
	return 4*h + 4*h*h + 4*h + h + 1
}

func (n *lstmNetwork) offW() int  { return 0 }
func (n *lstmNetwork) offU() int  { return 4 * n.hidden }
func (n *lstmNetwork) offB() int  { return 4*n.hidden + 4*n.hidden*n.hidden }
func (n *lstmNetwork) offWy() int { return n.offB() + 4*n.hidden }
func (n *lstmNetwork) offBy() int { return n.offWy() + n.hidden }

// forward runs the recurrence over seq and returns the per-step caches and the final hidden state.
func (n *lstmNetwork) forward(seq []float64) ([]lstmStep, []float64) {
	H := n.hidden
	p := n.params
	h := make([]float64, H)
	c := make([]float64, H)
	steps := make([]lstmStep, len(seq))

	z := make([]float64, 4*H)
	for t, x := range seq {
		for k := 0; k < 4*H; k++ {
			sum := p[n.offW()+k]*x + p[n.offB()+k]
			row := p[n.offU()+k*H : n.offU()+(k+1)*H]
			for j, hv := range h {
				sum += row[j] * hv
			}
			z[k] = sum
		}

		st := lstmStep{
			x:     x,
			hPrev: h,
			cPrev: c,
			i:     make([]float64, H),
			f:     make([]float64, H),
			g:     make([]float64, H),
			o:     make([]float64, H),
			c:     make([]float64, H),
		}
		hNext := make([]float64, H)
		for j := 0; j < H; j++ {
			st.i[j] = sigmoid(z[j])
			st.f[j] = sigmoid(z[H+j])
			st.g[j] = math.Tanh(z[2*H+j])
			st.o[j] = sigmoid(z[3*H+j])
			st.c[j] = st.f[j]*c[j] + st.i[j]*st.g[j]
			hNext[j] = st.o[j] * math.Tanh(st.c[j])
		}
		steps[t] = st
		h, c = hNext, st.c
	}
	return steps, h
}

func (n *lstmNetwork) output(h, mask []float64) float64 {
	y := n.params[n.offBy()]
	wy := n.params[n.offWy() : n.offWy()+n.hidden]
	for j, hv := range h {
		if mask != nil {
			hv *= mask[j]
		}
		y += wy[j] * hv
	}
	return y
}

// predict returns the network output for one sequence without dropout.
func (n *lstmNetwork) predict(seq []float64) float64 {
	_, h := n.forward(seq)
	return n.output(h, nil)
}

// accumulate adds the gradient of scale*(y-target)^2 for one sequence to grad and returns the
// unscaled squared error.
func (n *lstmNetwork) accumulate(seq []float64, target, scale float64, mask, grad []float64) float64 {
	H := n.hidden
	p := n.params
	steps, hT := n.forward(seq)

	yhat := n.output(hT, mask)
	diff := yhat - target
	dy := 2 * diff * scale

	dh := make([]float64, H)
	for j := 0; j < H; j++ {
		hd := hT[j]
		m := 1.0
		if mask != nil {
			m = mask[j]
		}
		grad[n.offWy()+j] += dy * hd * m
		dh[j] = dy * p[n.offWy()+j] * m
	}
	grad[n.offBy()] += dy

	dcNext := make([]float64, H)
	dz := make([]float64, 4*H)
	for t := len(steps) - 1; t >= 0; t-- {
		st := steps[t]
		for j := 0; j < H; j++ {
			tc := math.Tanh(st.c[j])
			do := dh[j] * tc
			dc := dh[j]*st.o[j]*(1-tc*tc) + dcNext[j]
			di := dc * st.g[j]
			dg := dc * st.i[j]
			df := dc * st.cPrev[j]

			dz[j] = di * st.i[j] * (1 - st.i[j])
			dz[H+j] = df * st.f[j] * (1 - st.f[j])
			dz[2*H+j] = dg * (1 - st.g[j]*st.g[j])
			dz[3*H+j] = do * st.o[j] * (1 - st.o[j])
			dcNext[j] = dc * st.f[j]
		}

		dhPrev := make([]float64, H)
		for k := 0; k < 4*H; k++ {
			d := dz[k]
			if d == 0 {
				continue
			}
			grad[n.offW()+k] += d * st.x
			grad[n.offB()+k] += d
			base := n.offU() + k*H
			for j := 0; j < H; j++ {
				grad[base+j] += d * st.hPrev[j]
				dhPrev[j] += p[base+j] * d
			}
		}
		dh = dhPrev
	}
	return diff * diff
}

// adam implements the Adam optimizer over a flat parameter vector.
type adam struct {
	lr, beta1, beta2, eps float64
	m, v                  []float64
	t                     int
}

func newAdam(size int, lr float64) *adam {
	return &adam{
		lr:    lr,
		beta1: 0.9,
		beta2: 0.999,
		eps:   1e-7,
		m:     make([]float64, size),
		v:     make([]float64, size),
	}
}

func (a *adam) step(params, grad []float64) {
	a.t++
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))
	for k, g := range grad {
		a.m[k] = a.beta1*a.m[k] + (1-a.beta1)*g
		a.v[k] = a.beta2*a.v[k] + (1-a.beta2)*g*g
		mHat := a.m[k] / c1
		vHat := a.v[k] / c2
		params[k] -= a.lr * mHat / (math.Sqrt(vHat) + a.eps)
	}
}

// trainLSTM fits a network on (X, y) with shuffled mini-batches and MSE loss.
func trainLSTM(X [][]float64, y []float64, cfg SequenceConfig) (*lstmNetwork, error) {
	rng := rand.New(rand.NewSource(cfg.Seed))
	net := newLSTMNetwork(cfg.HiddenUnits, rng)
	opt := newAdam(net.size(), cfg.LearningRate)
	grad := make([]float64, net.size())

	var mask []float64
	if cfg.Dropout > 0 {
		mask = make([]float64, cfg.HiddenUnits)
	}
	keep := 1 - cfg.Dropout

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		order := rng.Perm(len(X))
		for start := 0; start < len(order); start += cfg.BatchSize {
			batch := order[start:min(start+cfg.BatchSize, len(order))]
			for k := range grad {
				grad[k] = 0
			}

			scale := 1 / float64(len(batch))
			var loss float64
			for _, idx := range batch {
				for j := range mask {
					if rng.Float64() < keep {
						mask[j] = 1 / keep
					} else {
						mask[j] = 0
					}
				}
				loss += net.accumulate(X[idx], y[idx], scale, mask, grad)
			}
			if !isFinite(loss) {
				return nil, &ModelFitError{Model: MethodLSTM, Err: ErrNonFiniteLoss}
			}
			opt.step(net.params, grad)
		}
	}
	return net, nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
