// Package camera implements the camera planner (spec §4.6): the target
// selector, the zoom-aware dead-zone EMA smoother, and the batch
// trajectory optimiser (L1-ADMM with an O(N) banded LDLᵀ solve, falling
// back to L2 polynomial regression on non-convergence).
package camera

import "math"

// L1Config mirrors original_source's
// cinematic/l1_optimizer.rs::L1OptimizerConfig, including its exact
// default weights.
type L1Config struct {
	LambdaPosition     float64
	LambdaVelocity     float64
	LambdaAcceleration float64
	LambdaJerk         float64
	ADMMRho            float64
	MaxIterations      int
	Tolerance          float64
}

func DefaultL1Config() L1Config {
	return L1Config{
		LambdaPosition:     1000.0,
		LambdaVelocity:     100.0,
		LambdaAcceleration: 10.0,
		LambdaJerk:         10.0,
		ADMMRho:            10.0,
		MaxIterations:      200,
		Tolerance:          1e-3,
	}
}

// Keyframe is one camera-path sample: centre, size, and time, matching
// original_source's CameraKeyframe.
type Keyframe struct {
	Time          float64
	CX, CY, W, H  float64
}

// L1Optimizer runs the L1-optimal camera path solve per channel
// (cx, cy, w, h independently), ported from
// L1TrajectoryOptimizer::optimize / optimize_1d.
type L1Optimizer struct {
	cfg L1Config
}

func NewL1Optimizer(cfg L1Config) *L1Optimizer { return &L1Optimizer{cfg: cfg} }

// ErrConvergenceFailed signals the ADMM iteration residual did not drop
// below Tolerance within MaxIterations; callers should fall back to the L2
// polynomial-regression trajectory method (spec §4.6.3).
type ErrConvergenceFailed struct{ Channel string }

func (e *ErrConvergenceFailed) Error() string {
	return "l1 optimizer failed to converge on channel " + e.Channel
}

// Optimize runs the full four-channel (cx, cy, w, h) L1 path solve.
// Fewer than 3 keyframes degrades to linear interpolation, matching the
// original's early-return.
func (o *L1Optimizer) Optimize(keyframes []Keyframe) ([]Keyframe, error) {
	n := len(keyframes)
	if n == 0 {
		return nil, nil
	}
	if n < 3 {
		return linearInterpolate(keyframes), nil
	}

	cx := make([]float64, n)
	cy := make([]float64, n)
	w := make([]float64, n)
	h := make([]float64, n)
	for i, k := range keyframes {
		cx[i], cy[i], w[i], h[i] = k.CX, k.CY, k.W, k.H
	}

	cxOpt, err := o.optimize1D(cx, "cx")
	if err != nil {
		return nil, err
	}
	cyOpt, err := o.optimize1D(cy, "cy")
	if err != nil {
		return nil, err
	}
	wOpt, err := o.optimize1D(w, "width")
	if err != nil {
		return nil, err
	}
	hOpt, err := o.optimize1D(h, "height")
	if err != nil {
		return nil, err
	}

	tStart := keyframes[0].Time
	tEnd := keyframes[n-1].Time
	duration := tEnd - tStart

	out := make([]Keyframe, n)
	for i := 0; i < n; i++ {
		t := 0.0
		if n > 1 {
			t = float64(i) / float64(n-1)
		}
		out[i] = Keyframe{
			Time: tStart + t*duration,
			CX:   cxOpt[i],
			CY:   cyOpt[i],
			W:    math.Max(wOpt[i], 1.0),
			H:    math.Max(hOpt[i], 1.0),
		}
	}
	return out, nil
}

// optimize1D ports optimize_1d's ADMM loop: an exact P-step linear
// solve via SeptadiagonalSolver, soft-thresholding Z-steps for
// position/velocity/acceleration/jerk, and dual-ascent U-steps.
//
// The original never surfaces a convergence failure: it returns
// whatever p the loop last produced even when the residual never
// dropped below Tolerance. Since spec §4.6.3 calls for the trajectory
// optimiser to actually fall back to L2 polynomial regression when L1
// fails to settle, this port checks the residual after the final
// iteration and returns ErrConvergenceFailed when it never converged,
// rather than silently shipping an under-iterated path.
func (o *L1Optimizer) optimize1D(signal []float64, channel string) ([]float64, error) {
	n := len(signal)
	cfg := o.cfg
	solver := newSeptadiagonalSolver(n)

	p := append([]float64(nil), signal...)

	z0 := make([]float64, n)
	u0 := make([]float64, n)
	z1 := make([]float64, maxInt(n-1, 0))
	u1 := make([]float64, maxInt(n-1, 0))
	z2 := make([]float64, maxInt(n-2, 0))
	u2 := make([]float64, maxInt(n-2, 0))
	z3 := make([]float64, maxInt(n-3, 0))
	u3 := make([]float64, maxInt(n-3, 0))

	rhs := make([]float64, n)

	for iter := 0; iter < cfg.MaxIterations; iter++ {
		pOld := append([]float64(nil), p...)

		for i := range rhs {
			rhs[i] = 0
		}
		for i := 0; i < n; i++ {
			rhs[i] += signal[i] + z0[i] - u0[i]
		}
		addDTTerm(rhs, z1, u1, 1)
		addDTTerm(rhs, z2, u2, 2)
		addDTTerm(rhs, z3, u3, 3)

		p = solver.solve(rhs)

		for i := 0; i < n; i++ {
			z0[i] = softThreshold(p[i]-signal[i]+u0[i], cfg.LambdaPosition/cfg.ADMMRho)
		}
		for i := 0; i < n-1; i++ {
			dp := p[i+1] - p[i]
			z1[i] = softThreshold(dp+u1[i], cfg.LambdaVelocity/cfg.ADMMRho)
		}
		for i := 0; i < n-2; i++ {
			d2p := p[i+2] - 2*p[i+1] + p[i]
			z2[i] = softThreshold(d2p+u2[i], cfg.LambdaAcceleration/cfg.ADMMRho)
		}
		for i := 0; i < n-3; i++ {
			d3p := p[i+3] - 3*p[i+2] + 3*p[i+1] - p[i]
			z3[i] = softThreshold(d3p+u3[i], cfg.LambdaJerk/cfg.ADMMRho)
		}

		for i := 0; i < n; i++ {
			u0[i] += p[i] - signal[i] - z0[i]
		}
		for i := 0; i < n-1; i++ {
			u1[i] += p[i+1] - p[i] - z1[i]
		}
		for i := 0; i < n-2; i++ {
			u2[i] += p[i+2] - 2*p[i+1] + p[i] - z2[i]
		}
		for i := 0; i < n-3; i++ {
			u3[i] += p[i+3] - 3*p[i+2] + 3*p[i+1] - p[i] - z3[i]
		}

		var residual float64
		for i := range p {
			d := p[i] - pOld[i]
			residual += d * d
		}
		residual = math.Sqrt(residual)
		if residual < cfg.Tolerance {
			return p, nil
		}
	}

	return p, &ErrConvergenceFailed{Channel: channel}
}

// addDTTerm adds D_k^T(z - u) to rhs, the same banded-transpose
// accumulation as add_dt_term.
func addDTTerm(rhs []float64, z, u []float64, order int) {
	var coeffs []float64
	switch order {
	case 1:
		coeffs = []float64{-1, 1}
	case 2:
		coeffs = []float64{1, -2, 1}
	case 3:
		coeffs = []float64{-1, 3, -3, 1}
	default:
		return
	}
	for i := range z {
		val := z[i] - u[i]
		for k, c := range coeffs {
			if i+k < len(rhs) {
				rhs[i+k] += c * val
			}
		}
	}
}

func softThreshold(x, lambda float64) float64 {
	switch {
	case x > lambda:
		return x - lambda
	case x < -lambda:
		return x + lambda
	default:
		return 0
	}
}

func linearInterpolate(keyframes []Keyframe) []Keyframe {
	if len(keyframes) < 2 {
		return append([]Keyframe(nil), keyframes...)
	}
	first := keyframes[0]
	last := keyframes[len(keyframes)-1]
	n := len(keyframes)

	out := make([]Keyframe, n)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(n-1)
		out[i] = Keyframe{
			Time: first.Time + t*(last.Time-first.Time),
			CX:   first.CX + t*(last.CX-first.CX),
			CY:   first.CY + t*(last.CY-first.CY),
			W:    first.W + t*(last.W-first.W),
			H:    first.H + t*(last.H-first.H),
		}
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// septadiagonalSolver is a direct O(N) banded LDLᵀ solver for
// M = I + D1ᵀD1 + D2ᵀD2 + D3ᵀD3, ported from
// l1_optimizer.rs::SeptadiagonalSolver. Memory is O(N): four diagonals
// instead of the dense O(N²) matrix this replaces.
type septadiagonalSolver struct {
	d, l1, l2, l3 []float64
	n             int
}

func newSeptadiagonalSolver(n int) *septadiagonalSolver {
	if n == 0 {
		return &septadiagonalSolver{}
	}

	m0 := make([]float64, n)
	m1 := make([]float64, maxInt(n-1, 0))
	m2 := make([]float64, maxInt(n-2, 0))
	m3 := make([]float64, maxInt(n-3, 0))

	for i := 0; i < n; i++ {
		m0[i] += 1.0
	}

	add := func(r, c int, val float64) {
		switch c - r {
		case 0:
			m0[r] += val
		case 1:
			m1[r] += val
		case 2:
			m2[r] += val
		case 3:
			m3[r] += val
		}
	}

	for k := 0; k < maxInt(n-1, 0); k++ {
		add(k, k, 1.0)
		add(k, k+1, -1.0)
		add(k+1, k+1, 1.0)
	}
	for k := 0; k < maxInt(n-2, 0); k++ {
		s := [3]float64{1.0, -2.0, 1.0}
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				add(k+i, k+j, s[i]*s[j])
			}
		}
	}
	for k := 0; k < maxInt(n-3, 0); k++ {
		s := [4]float64{-1.0, 3.0, -3.0, 1.0}
		for i := 0; i < 4; i++ {
			for j := 0; j < 4; j++ {
				add(k+i, k+j, s[i]*s[j])
			}
		}
	}

	d := make([]float64, n)
	l1 := make([]float64, maxInt(n-1, 0))
	l2 := make([]float64, maxInt(n-2, 0))
	l3 := make([]float64, maxInt(n-3, 0))

	for i := 0; i < n; i++ {
		val := m0[i]
		if i > 0 {
			val -= d[i-1] * (l1[i-1] * l1[i-1])
		}
		if i > 1 {
			val -= d[i-2] * (l2[i-2] * l2[i-2])
		}
		if i > 2 {
			val -= d[i-3] * (l3[i-3] * l3[i-3])
		}
		d[i] = val
		invD := 1.0 / val

		if i+1 < n {
			v := m1[i]
			if i > 0 {
				v -= d[i-1] * l1[i-1] * l2[i-1]
			}
			if i > 1 {
				v -= d[i-2] * l2[i-2] * l3[i-2]
			}
			l1[i] = v * invD
		}
		if i+2 < n {
			v := m2[i]
			if i > 0 {
				v -= d[i-1] * l1[i-1] * l3[i-1]
			}
			l2[i] = v * invD
		}
		if i+3 < n {
			l3[i] = m3[i] * invD
		}
	}

	return &septadiagonalSolver{d: d, l1: l1, l2: l2, l3: l3, n: n}
}

func (s *septadiagonalSolver) solve(b []float64) []float64 {
	n := s.n
	x := append([]float64(nil), b...)

	for i := 0; i < n; i++ {
		if i >= 1 {
			x[i] -= s.l1[i-1] * x[i-1]
		}
		if i >= 2 {
			x[i] -= s.l2[i-2] * x[i-2]
		}
		if i >= 3 {
			x[i] -= s.l3[i-3] * x[i-3]
		}
	}
	for i := 0; i < n; i++ {
		x[i] /= s.d[i]
	}
	for i := n - 1; i >= 0; i-- {
		if i+1 < n {
			x[i] -= s.l1[i] * x[i+1]
		}
		if i+2 < n {
			x[i] -= s.l2[i] * x[i+2]
		}
		if i+3 < n {
			x[i] -= s.l3[i] * x[i+3]
		}
	}
	return x
}
