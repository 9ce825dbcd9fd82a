package camera

import (
	"math"
	"sort"
)

// TrajectoryMethod selects between the L1-ADMM optimiser and the L2
// polynomial-regression fallback, matching original_source's
// cinematic/trajectory.rs TrajectoryMethod.
type TrajectoryMethod int

const (
	TrajectoryMethodL1Optimal TrajectoryMethod = iota
	TrajectoryMethodL2Polynomial
)

// CameraMode is the per-scene camera behaviour the target selector and
// smoother settle on, matching original_source's CameraMode.
type CameraMode int

const (
	CameraModeStationary CameraMode = iota
	CameraModePanning
	CameraModeTracking
)

// TrajectoryOptimizer dispatches keyframes to the configured method,
// with CameraMode further selecting the L2 strategy (median lock,
// linear pan, or per-channel polynomial fit), mirroring
// original_source's TrajectoryOptimizer.
type TrajectoryOptimizer struct {
	method           TrajectoryMethod
	polynomialDegree int
	smoothnessWeight float64
	sampleRate       float64 // samples per second
}

func NewTrajectoryOptimizer(method TrajectoryMethod, polynomialDegree int, smoothnessWeight, sampleRate float64) *TrajectoryOptimizer {
	return &TrajectoryOptimizer{
		method:           method,
		polynomialDegree: polynomialDegree,
		smoothnessWeight: smoothnessWeight,
		sampleRate:       sampleRate,
	}
}

// Optimize produces the smoothed camera path for one scene's keyframes
// under the given mode. An empty input yields nil; a single keyframe
// passes through unchanged (nothing to smooth).
func (t *TrajectoryOptimizer) Optimize(keyframes []Keyframe, mode CameraMode) []Keyframe {
	if len(keyframes) == 0 {
		return nil
	}
	if len(keyframes) == 1 {
		return append([]Keyframe(nil), keyframes...)
	}

	switch t.method {
	case TrajectoryMethodL1Optimal:
		return t.optimizeL1(keyframes, mode)
	default:
		return t.optimizeL2(keyframes, mode)
	}
}

// optimizeL1 special-cases Stationary directly to the median-lock
// strategy (an ADMM solve buys nothing over a constant position) and
// Panning to linear interpolation, and otherwise runs the L1 optimiser,
// falling back to optimizeL2 when it fails to converge on any channel —
// the two-tier fallback spec §4.6.3 requires.
func (t *TrajectoryOptimizer) optimizeL1(keyframes []Keyframe, mode CameraMode) []Keyframe {
	if mode == CameraModeStationary {
		return t.applyStationary(keyframes)
	}
	if mode == CameraModePanning {
		return t.applyPanning(keyframes)
	}

	opt := NewL1Optimizer(DefaultL1Config())
	out, err := opt.Optimize(keyframes)
	if err != nil {
		return t.optimizeL2(keyframes, mode)
	}
	return out
}

func (t *TrajectoryOptimizer) optimizeL2(keyframes []Keyframe, mode CameraMode) []Keyframe {
	switch mode {
	case CameraModeStationary:
		return t.applyStationary(keyframes)
	case CameraModePanning:
		return t.applyPanning(keyframes)
	default:
		return t.applyTracking(keyframes)
	}
}

// applyStationary locks the path to the median position and size
// across all keyframes, sampled at sample_rate.
func (t *TrajectoryOptimizer) applyStationary(keyframes []Keyframe) []Keyframe {
	cx := median(extract(keyframes, func(k Keyframe) float64 { return k.CX }))
	cy := median(extract(keyframes, func(k Keyframe) float64 { return k.CY }))
	w := median(extract(keyframes, func(k Keyframe) float64 { return k.W }))
	h := median(extract(keyframes, func(k Keyframe) float64 { return k.H }))

	tStart := keyframes[0].Time
	tEnd := keyframes[len(keyframes)-1].Time
	duration := tEnd - tStart
	if duration <= 0 {
		return []Keyframe{{Time: tStart, CX: cx, CY: cy, W: w, H: h}}
	}

	n := int(duration*t.sampleRate) + 1
	out := make([]Keyframe, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Keyframe{Time: tStart + float64(i)/t.sampleRate, CX: cx, CY: cy, W: w, H: h})
	}
	return out
}

// applyPanning linearly interpolates from first to last keyframe
// end-to-end, sampled at sample_rate.
func (t *TrajectoryOptimizer) applyPanning(keyframes []Keyframe) []Keyframe {
	first := keyframes[0]
	last := keyframes[len(keyframes)-1]
	duration := last.Time - first.Time
	if duration <= 0 {
		return []Keyframe{first}
	}

	n := int(duration*t.sampleRate) + 1
	out := make([]Keyframe, 0, n)
	for i := 0; i < n; i++ {
		tm := first.Time + float64(i)/t.sampleRate
		frac := (tm - first.Time) / duration
		out = append(out, Keyframe{
			Time: tm,
			CX:   lerp(first.CX, last.CX, frac),
			CY:   lerp(first.CY, last.CY, frac),
			W:    lerp(first.W, last.W, frac),
			H:    lerp(first.H, last.H, frac),
		})
	}
	return out
}

// applyTracking fits an independent regularised polynomial per channel
// and evaluates it at sample_rate, matching fit_polynomial/eval_polynomial.
func (t *TrajectoryOptimizer) applyTracking(keyframes []Keyframe) []Keyframe {
	first := keyframes[0]
	last := keyframes[len(keyframes)-1]
	duration := last.Time - first.Time
	if duration <= 0 {
		return []Keyframe{first}
	}

	times := extract(keyframes, func(k Keyframe) float64 { return k.Time })
	cxCoef := t.fitPolynomial(times, extract(keyframes, func(k Keyframe) float64 { return k.CX }))
	cyCoef := t.fitPolynomial(times, extract(keyframes, func(k Keyframe) float64 { return k.CY }))
	wCoef := t.fitPolynomial(times, extract(keyframes, func(k Keyframe) float64 { return k.W }))
	hCoef := t.fitPolynomial(times, extract(keyframes, func(k Keyframe) float64 { return k.H }))

	n := int(duration*t.sampleRate) + 1
	out := make([]Keyframe, 0, n)
	for i := 0; i < n; i++ {
		tm := first.Time + float64(i)/t.sampleRate
		out = append(out, Keyframe{
			Time: tm,
			CX:   evalPolynomial(cxCoef, tm),
			CY:   evalPolynomial(cyCoef, tm),
			W:    math.Max(evalPolynomial(wCoef, tm), 1.0),
			H:    math.Max(evalPolynomial(hCoef, tm), 1.0),
		})
	}
	return out
}

// fitPolynomial solves a regularised least-squares polynomial fit via
// the Vandermonde normal equations, ported from trajectory.rs's
// fit_polynomial. Regularisation penalises curvature (second-derivative
// magnitude) on terms of degree 2 and above, weighted by
// smoothness_weight * n.
func (t *TrajectoryOptimizer) fitPolynomial(times, values []float64) []float64 {
	n := len(times)
	degree := t.polynomialDegree
	if n <= 1 {
		if n == 1 {
			return []float64{values[0]}
		}
		return []float64{0}
	}
	if degree == 0 {
		return []float64{mean(values)}
	}
	if degree >= n {
		degree = n - 1
	}

	numCoef := degree + 1
	// Vandermonde matrix: a[i][j] = t_i^j
	a := make([][]float64, n)
	for i := range a {
		a[i] = make([]float64, numCoef)
		pow := 1.0
		for j := 0; j < numCoef; j++ {
			a[i][j] = pow
			pow *= times[i]
		}
	}

	// Normal equations AtA x = Atb, regularised on curvature terms.
	ata := make([][]float64, numCoef)
	for i := range ata {
		ata[i] = make([]float64, numCoef)
	}
	atb := make([]float64, numCoef)

	for i := 0; i < numCoef; i++ {
		for j := 0; j < numCoef; j++ {
			var sum float64
			for k := 0; k < n; k++ {
				sum += a[k][i] * a[k][j]
			}
			ata[i][j] = sum
		}
		var sum float64
		for k := 0; k < n; k++ {
			sum += a[k][i] * values[k]
		}
		atb[i] = sum
	}

	lambda := t.smoothnessWeight * float64(n)
	for j := 2; j < numCoef; j++ {
		penalty := lambda * float64(j*(j-1)) * float64(j*(j-1))
		ata[j][j] += penalty
	}

	coef, ok := solveLinearSystem(ata, atb)
	if !ok {
		// Singular system: fall back to a linear fit through the
		// endpoints rather than returning garbage coefficients.
		slope := 0.0
		if times[n-1] != times[0] {
			slope = (values[n-1] - values[0]) / (times[n-1] - times[0])
		}
		out := make([]float64, numCoef)
		out[0] = values[0] - slope*times[0]
		if numCoef > 1 {
			out[1] = slope
		}
		return out
	}
	return coef
}

// solveLinearSystem solves Ax = b via Gaussian elimination with partial
// pivoting, reporting false on a near-singular pivot instead of
// returning a garbage solution.
func solveLinearSystem(a [][]float64, b []float64) ([]float64, bool) {
	n := len(b)
	m := make([][]float64, n)
	for i := range a {
		m[i] = append([]float64(nil), a[i]...)
	}
	rhs := append([]float64(nil), b...)

	for col := 0; col < n; col++ {
		pivot := col
		best := math.Abs(m[col][col])
		for r := col + 1; r < n; r++ {
			if v := math.Abs(m[r][col]); v > best {
				best = v
				pivot = r
			}
		}
		if best < 1e-12 {
			return nil, false
		}
		if pivot != col {
			m[col], m[pivot] = m[pivot], m[col]
			rhs[col], rhs[pivot] = rhs[pivot], rhs[col]
		}

		for r := col + 1; r < n; r++ {
			factor := m[r][col] / m[col][col]
			for c := col; c < n; c++ {
				m[r][c] -= factor * m[col][c]
			}
			rhs[r] -= factor * rhs[col]
		}
	}

	x := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		sum := rhs[i]
		for j := i + 1; j < n; j++ {
			sum -= m[i][j] * x[j]
		}
		x[i] = sum / m[i][i]
	}
	return x, true
}

// evalPolynomial evaluates sum(coeffs[i] * t^i) via Horner's method.
func evalPolynomial(coeffs []float64, t float64) float64 {
	result := 0.0
	for i := len(coeffs) - 1; i >= 0; i-- {
		result = result*t + coeffs[i]
	}
	return result
}

func lerp(a, b, frac float64) float64 { return a + frac*(b-a) }

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

func median(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 0 {
		return (s[mid-1] + s[mid]) / 2
	}
	return s[mid]
}

func extract(keyframes []Keyframe, f func(Keyframe) float64) []float64 {
	out := make([]float64, len(keyframes))
	for i, k := range keyframes {
		out[i] = f(k)
	}
	return out
}
