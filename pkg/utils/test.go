// SPDX-License-Identifier: MIT

// Package utils holds deterministic test signals shared by the package tests.
package utils

import "math"

// GenerateSineWave returns size samples of a sine at frequency with the given
// peak amplitude.
func GenerateSineWave(size int, sampleRate, frequency, amplitude float64) []float64 {
	buffer := make([]float64, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = amplitude * math.Sin(2*math.Pi*frequency*t)
	}
	return buffer
}

// GenerateHarmonicWave returns a sum of harmonics of fundamental; amps[k] is
// the amplitude of harmonic k+1.
func GenerateHarmonicWave(size int, sampleRate, fundamental float64, amps ...float64) []float64 {
	buffer := make([]float64, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		sum := 0.0
		for k, a := range amps {
			sum += a * math.Sin(2*math.Pi*fundamental*float64(k+1)*t)
		}
		buffer[i] = sum
	}
	return buffer
}

// LCG is the 32-bit linear congruential generator used for reproducible
// noise in tests.
type LCG struct {
	state uint32
}

func NewLCG(seed uint32) *LCG { return &LCG{state: seed} }

// Uniform returns a value in (0, 1].
func (g *LCG) Uniform() float64 {
	g.state = g.state*1664525 + 1013904223
	return (float64(g.state) + 1.0) / 4294967296.0
}

// Gaussian returns a standard normal value (Box-Muller).
func (g *LCG) Gaussian() float64 {
	u1 := g.Uniform()
	u2 := g.Uniform()
	return math.Sqrt(-2.0*math.Log(u1)) * math.Sin(2.0*math.Pi*u2)
}

// GenerateGaussianNoise returns size standard normal samples from seed.
func GenerateGaussianNoise(seed uint32, size int) []float64 {
	g := NewLCG(seed)
	buffer := make([]float64, size)
	for i := range buffer {
		buffer[i] = g.Gaussian()
	}
	return buffer
}

// Mix adds scale*b into a in place and returns a.
func Mix(a, b []float64, scale float64) []float64 {
	for i := range a {
		if i < len(b) {
			a[i] += scale * b[i]
		}
	}
	return a
}

// ToFloat32 converts a test signal into the capture sample format.
func ToFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

// FindPeakBin returns the index of the largest value in
// magnitudes[startBin..endBin].
func FindPeakBin[T float32 | float64](magnitudes []T, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}

	if startBin < 0 {
		startBin = 0
	}

	if endBin >= len(magnitudes) {
		endBin = len(magnitudes) - 1
	}

	peakBin := startBin
	peakValue := magnitudes[startBin]

	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > peakValue {
			peakValue = magnitudes[bin]
			peakBin = bin
		}
	}

	return peakBin
}
