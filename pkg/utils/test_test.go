// SPDX-License-Identifier: MIT
package utils

import (
	"math"
	"os"
	"testing"
)

const (
	testSize       = 1024
	testSampleRate = 44100
	testFrequency  = 440.0 // A4 note
)

var testMagnitudes []float64

func TestMain(m *testing.M) {
	testMagnitudes = make([]float64, testSize)

	// Creates a "hill" with peak at position testSize/4.
	for i := range testMagnitudes {
		testMagnitudes[i] = math.Exp(-0.01 * math.Pow(float64(i-testSize/4), 2))
	}

	os.Exit(m.Run())
}

func TestGenerateSineWave(t *testing.T) {
	tests := []struct {
		name       string
		size       int
		sampleRate float64
		frequency  float64
	}{
		{"A4 Note", 1024, 44100, 440.0},
		{"Middle C", 1024, 44100, 261.63},
		{"High Sample Rate", 1024, 192000, 440.0},
		{"Low Sample Rate", 1024, 8000, 440.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := GenerateSineWave(tt.size, tt.sampleRate, tt.frequency, 0.5)

			if len(result) != tt.size {
				t.Errorf("GenerateSineWave() buffer size = %d, want %d",
					len(result), tt.size)
			}

			samplesPerCycle := tt.sampleRate / tt.frequency
			if samplesPerCycle > 2 && float64(tt.size) > samplesPerCycle {
				crossCount := 0
				for i := 1; i < tt.size; i++ {
					if (result[i-1] < 0 && result[i] >= 0) ||
						(result[i-1] >= 0 && result[i] < 0) {
						crossCount++
					}
				}

				// Two crossings per cycle, 20% margin for phase alignment.
				expectedCrossings := float64(tt.size) / (samplesPerCycle / 2)
				tolerance := 0.2 * expectedCrossings

				if math.Abs(float64(crossCount)-expectedCrossings) > tolerance {
					t.Errorf("GenerateSineWave() zero crossings = %d, expected approximately %.1f±%.1f",
						crossCount, expectedCrossings, tolerance)
				}
			}

			for i, v := range result {
				if math.Abs(v) > 0.5+1e-12 {
					t.Fatalf("sample %d = %v exceeds amplitude", i, v)
				}
			}
		})
	}
}

func TestGenerateHarmonicWave(t *testing.T) {
	single := GenerateHarmonicWave(testSize, testSampleRate, testFrequency, 1)
	sine := GenerateSineWave(testSize, testSampleRate, testFrequency, 1)
	for i := range single {
		if math.Abs(single[i]-sine[i]) > 1e-12 {
			t.Fatalf("one-harmonic wave differs from sine at %d", i)
		}
	}

	if got := GenerateHarmonicWave(16, testSampleRate, testFrequency); got[5] != 0 {
		t.Errorf("no harmonics should produce silence, got %v", got[5])
	}
}

func TestLCGReproducible(t *testing.T) {
	a := GenerateGaussianNoise(1234, 256)
	b := GenerateGaussianNoise(1234, 256)
	c := GenerateGaussianNoise(5678, 256)

	same := true
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same seed differs at %d", i)
		}
		if a[i] != c[i] {
			same = false
		}
	}
	if same {
		t.Error("different seeds produced identical noise")
	}

	// First uniform from seed 0 is (1013904223+1)/2^32.
	if got, want := NewLCG(0).Uniform(), 1013904224.0/4294967296.0; got != want {
		t.Errorf("Uniform() = %v, want %v", got, want)
	}
}

func TestGaussianNoiseMoments(t *testing.T) {
	noise := GenerateGaussianNoise(9012, 20000)
	var sum, sq float64
	for _, v := range noise {
		sum += v
		sq += v * v
	}
	mean := sum / float64(len(noise))
	variance := sq/float64(len(noise)) - mean*mean

	if math.Abs(mean) > 0.05 {
		t.Errorf("mean = %.3f, want ~0", mean)
	}
	if math.Abs(variance-1) > 0.1 {
		t.Errorf("variance = %.3f, want ~1", variance)
	}
}

func TestMixAndConvert(t *testing.T) {
	a := []float64{1, 2, 3}
	Mix(a, []float64{1, 1}, 0.5)
	if a[0] != 1.5 || a[1] != 2.5 || a[2] != 3 {
		t.Errorf("Mix() = %v", a)
	}
	f := ToFloat32(a)
	if len(f) != 3 || f[1] != 2.5 {
		t.Errorf("ToFloat32() = %v", f)
	}
}

func TestFindPeakBin(t *testing.T) {
	tests := []struct {
		name     string
		mags     []float64
		start    int
		end      int
		expected int
	}{
		{"Full Range", testMagnitudes, 0, testSize - 1, testSize / 4},
		{"Partial Range Start", testMagnitudes, testSize / 8, testSize - 1, testSize / 4},
		{"Partial Range End", testMagnitudes, 0, testSize / 3, testSize / 4},
		{"Negative Start", testMagnitudes, -10, testSize - 1, testSize / 4},
		{"Out of Range End", testMagnitudes, 0, testSize * 2, testSize / 4},
		{"Empty Slice", []float64{}, 0, 10, 0},
		{"Single Value", []float64{1.0}, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FindPeakBin(tt.mags, tt.start, tt.end)

			if result != tt.expected {
				t.Errorf("FindPeakBin() = %d, want %d", result, tt.expected)
			}
		})
	}

	allocs := testing.AllocsPerRun(100, func() {
		FindPeakBin(testMagnitudes, 0, len(testMagnitudes)-1)
	})

	if allocs > 0 {
		t.Errorf("FindPeakBin allocated memory: got %.1f allocs, want 0", allocs)
	}
}

func BenchmarkGenerateHarmonicWave(b *testing.B) {
	benchmarks := []struct {
		name string
		size int
	}{
		{"Small", 64},
		{"Standard", 1024},
		{"Large", 8192},
	}

	for _, bm := range benchmarks {
		b.Run(bm.name, func(b *testing.B) {
			b.ReportAllocs()
			b.ResetTimer()

			for b.Loop() {
				GenerateHarmonicWave(bm.size, testSampleRate, testFrequency, 0.5, 0.3, 0.2)
			}
		})
	}
}

func BenchmarkFindPeakBin(b *testing.B) {
	benchmarks := []struct {
		name string
		size int
	}{
		{"Small", 64},
		{"Standard", 1024},
		{"Large", 8192},
	}

	for _, bm := range benchmarks {
		b.Run(bm.name, func(b *testing.B) {
			mags := make([]float64, bm.size)
			peakPos := bm.size / 2
			for i := range mags {
				mags[i] = math.Exp(-0.01 * math.Pow(float64(i-peakPos), 2))
			}

			b.ReportAllocs()
			b.ResetTimer()

			for b.Loop() {
				FindPeakBin(mags, 0, bm.size-1)
			}
		})
	}
}
