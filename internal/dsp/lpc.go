// SPDX-License-Identifier: MIT
package dsp

import (
	"math"
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Burg estimates order+1 prediction coefficients of x with Burg's method.
// The result is A(z) = 1 + a[1]z^-1 + ... + a[order]z^-order; a[0] is
// always 1. Estimation stops early (trailing zeros) when the residual
// energy vanishes.
func Burg(x []float64, order int) []float64 {
	return NewBurg(len(x), order).Coefficients(x)
}

// BurgWorkspace holds preallocated scratch space for repeated Burg
// estimation on equally sized frames.
type BurgWorkspace struct {
	order  int
	ef, eb []float64
	a, tmp []float64
}

// NewBurg returns a workspace for frames of n samples.
func NewBurg(n, order int) *BurgWorkspace {
	if order < 1 {
		order = 1
	}
	return &BurgWorkspace{
		order: order,
		ef:    make([]float64, n),
		eb:    make([]float64, n),
		a:     make([]float64, order+1),
		tmp:   make([]float64, order+1),
	}
}

// Order returns the prediction order.
func (w *BurgWorkspace) Order() int { return w.order }

// Coefficients runs Burg's recursion on x and returns the coefficient slice,
// which is owned by the workspace and overwritten by the next call.
func (w *BurgWorkspace) Coefficients(x []float64) []float64 {
	n := len(x)
	if n > len(w.ef) {
		w.ef = make([]float64, n)
		w.eb = make([]float64, n)
	}
	ef, eb := w.ef[:n], w.eb[:n]
	copy(ef, x)
	copy(eb, x)

	a := w.a
	for i := range a {
		a[i] = 0
	}
	a[0] = 1

	for m := 1; m <= w.order && m < n; m++ {
		var num, den float64
		for i := m; i < n; i++ {
			f, b := ef[i], eb[i-1]
			num += f * b
			den += f*f + b*b
		}
		if den <= 1e-12 {
			break
		}
		k := -2 * num / den

		copy(w.tmp, a)
		for i := 1; i < m; i++ {
			a[i] = w.tmp[i] + k*w.tmp[m-i]
		}
		a[m] = k

		for i := n - 1; i >= m; i-- {
			f, b := ef[i], eb[i-1]
			ef[i] = f + k*b
			eb[i-1] = b + k*f
		}
	}
	return a
}

// PolyRoots returns the complex roots of the polynomial
// c[0]z^p + c[1]z^(p-1) + ... + c[p], using the eigenvalues of its
// companion matrix. Leading zero coefficients are ignored.
func PolyRoots(c []float64) []complex128 {
	for len(c) > 0 && c[0] == 0 {
		c = c[1:]
	}
	p := len(c) - 1
	if p < 1 {
		return nil
	}
	comp := mat.NewDense(p, p, nil)
	for j := 0; j < p; j++ {
		comp.Set(0, j, -c[j+1]/c[0])
	}
	for i := 1; i < p; i++ {
		comp.Set(i, i-1, 1)
	}
	var eig mat.Eigen
	if ok := eig.Factorize(comp, mat.EigenNone); !ok {
		return nil
	}
	return eig.Values(nil)
}

// Candidate is a formant candidate derived from one LPC pole.
type Candidate struct {
	Freq      float64
	Bandwidth float64
}

const (
	minPoleRadius     = 0.80
	maxPoleRadius     = 0.9995
	maxBandwidthHz    = 3500.0
	minPoleImag       = 0.001
	nyquistCeilFactor = 0.9
)

// FormantCandidates converts the roots of the prediction polynomial coeffs
// into formant candidates between minHz and maxHz, sorted by frequency.
// Poles too close to the real axis, too damped or too sharp are rejected.
func FormantCandidates(coeffs []float64, sampleRate, minHz, maxHz float64) []Candidate {
	return appendCandidates(nil, PolyRoots(coeffs), sampleRate, minHz, maxHz)
}

func appendCandidates(dst []Candidate, roots []complex128, sampleRate, minHz, maxHz float64) []Candidate {
	nyquist := sampleRate * 0.5
	minHz = math.Max(0, minHz)
	maxHz = math.Min(maxHz, nyquist*nyquistCeilFactor)
	start := len(dst)
	for _, r := range roots {
		if imag(r) <= minPoleImag {
			continue
		}
		mag := cmplx.Abs(r)
		if mag <= minPoleRadius || mag >= maxPoleRadius {
			continue
		}
		freq := math.Atan2(imag(r), real(r)) * sampleRate / (2 * math.Pi)
		bw := -sampleRate / math.Pi * math.Log(mag)
		if freq < minHz || freq > maxHz {
			continue
		}
		if bw <= 0 || bw > maxBandwidthHz {
			continue
		}
		dst = append(dst, Candidate{Freq: freq, Bandwidth: bw})
	}
	tail := dst[start:]
	sort.Slice(tail, func(i, j int) bool { return tail[i].Freq < tail[j].Freq })
	return dst
}

// AppendFormantCandidates is FormantCandidates appending into dst.
func AppendFormantCandidates(dst []Candidate, coeffs []float64, sampleRate, minHz, maxHz float64) []Candidate {
	return appendCandidates(dst, PolyRoots(coeffs), sampleRate, minHz, maxHz)
}
