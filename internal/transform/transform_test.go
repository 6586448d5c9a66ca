// SPDX-License-Identifier: MIT
package transform

import (
	"math"
	"testing"

	"vocalscope/internal/config"
	"vocalscope/pkg/utils"
)

const testRate = 48000.0

func TestFFTSineCalibration(t *testing.T) {
	const n = 2048
	binHz := testRate / n
	x := utils.GenerateSineWave(n, testRate, 43*binHz, 1)

	for _, w := range []config.WindowFunc{config.WindowHann, config.WindowBlackmanHarris, config.WindowFlatTop} {
		t.Run(w.String(), func(t *testing.T) {
			f, err := NewFFT(n, testRate, w, false)
			if err != nil {
				t.Fatal(err)
			}
			mags := make([]float64, f.Bins())
			f.Process(x, mags, nil, nil)
			if peak := utils.FindPeakBin(mags, 0, len(mags)-1); peak != 43 {
				t.Fatalf("peak bin = %d, want 43", peak)
			}
			if math.Abs(mags[43]-1) > 0.01 {
				t.Errorf("peak magnitude = %.4f, want 1", mags[43])
			}
		})
	}
}

func TestNewFFTRejectsBadSize(t *testing.T) {
	if _, err := NewFFT(1000, testRate, config.WindowHann, false); err == nil {
		t.Error("expected an error for a non power-of-two size")
	}
}

func TestFFTFrequencyReassignment(t *testing.T) {
	const n = 2048
	x := utils.GenerateSineWave(n, testRate, 1000, 1)
	f, _ := NewFFT(n, testRate, config.WindowHann, true)
	mags := make([]float64, f.Bins())
	dt := make([]float64, f.Bins())
	dk := make([]float64, f.Bins())
	f.Process(x, mags, dt, dk)

	peak := utils.FindPeakBin(mags, 0, len(mags)-1)
	got := (float64(peak) + dk[peak]) * testRate / n
	if math.Abs(got-1000) > 1 {
		t.Errorf("reassigned frequency = %.2f Hz (bin %d, offset %.3f), want 1000", got, peak, dk[peak])
	}
}

func TestFFTTimeReassignment(t *testing.T) {
	const n = 1024
	x := make([]float64, n)
	x[700] = 1
	f, _ := NewFFT(n, testRate, config.WindowHann, true)
	mags := make([]float64, f.Bins())
	dt := make([]float64, f.Bins())
	dk := make([]float64, f.Bins())
	f.Process(x, mags, dt, dk)

	want := 700 - float64(n-1)/2
	for _, k := range []int{10, 100, 300} {
		if math.Abs(dt[k]-want) > 1e-6 {
			t.Errorf("dt[%d] = %.4f, want %.4f", k, dt[k], want)
		}
	}
}

func TestConstantQLayout(t *testing.T) {
	c := NewConstantQ(testRate, 60, 8000, 48, 256)
	if got := c.BinCount(); got != 339 {
		t.Errorf("BinCount() = %d, want 339", got)
	}
	if got := c.MaxWindowLength(); got != maxCQWindow {
		t.Errorf("MaxWindowLength() = %d, want %d", got, maxCQWindow)
	}
	freqs := c.Frequencies()
	if r := freqs[48] / freqs[0]; math.Abs(r-2) > 1e-9 {
		t.Errorf("one octave ratio = %v", r)
	}
}

func TestConstantQSineAndPhaseFrequency(t *testing.T) {
	const hop = 256
	c := NewConstantQ(testRate, 60, 8000, 48, hop)
	n := c.MaxWindowLength()
	x := utils.GenerateSineWave(n+hop, testRate, 1000, 1)

	mags := make([]float64, c.BinCount())
	dk := make([]float64, c.BinCount())
	c.Process(x[:n], mags, dk)
	c.Process(x[hop:hop+n], mags, dk)

	peak := utils.FindPeakBin(mags, 0, len(mags)-1)
	if math.Abs(mags[peak]-1) > 0.1 {
		t.Errorf("peak magnitude = %.3f, want ~1", mags[peak])
	}
	f := c.Frequencies()[peak] * math.Exp2(dk[peak]/48)
	if math.Abs(f-1000) > 2 {
		t.Errorf("instantaneous frequency = %.2f, want 1000", f)
	}
}

func TestZoomFFTResolvesNarrowBand(t *testing.T) {
	s := config.DefaultSettings()
	s.Transform = config.TransformZoomFFT
	s.FFTSize = 1024
	s.ZoomFactor = 8
	s.MinFrequency, s.MaxFrequency = 1000, 3000
	e, err := New(testRate, s)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := e.InputSize(), 1023*8+65; got != want {
		t.Errorf("InputSize() = %d, want %d", got, want)
	}

	binHz := testRate / (8 * 1024)
	tone := 2000 + 10*binHz
	x := utils.GenerateSineWave(e.InputSize(), testRate, tone, 1)
	mags := e.Process(x)

	peak := utils.FindPeakBin(mags, 0, len(mags)-1)
	if peak != 512+10 {
		t.Errorf("peak bin = %d (%.2f Hz), want %d", peak, e.Frequencies()[peak], 522)
	}
	if math.Abs(mags[peak]-1) > 0.05 {
		t.Errorf("peak magnitude = %.4f, want ~1", mags[peak])
	}
}

func TestEngineLayouts(t *testing.T) {
	tests := []struct {
		name      string
		transform config.TransformType
		bins      int
		input     int
	}{
		{"fft", config.TransformFFT, 1025, 2048},
		{"cqt", config.TransformConstantQ, 339, maxCQWindow},
		{"zoom", config.TransformZoomFFT, 2048, 2047*8 + 65},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := config.DefaultSettings()
			s.Transform = tt.transform
			e, err := New(testRate, s)
			if err != nil {
				t.Fatal(err)
			}
			if e.Bins() != tt.bins || e.InputSize() != tt.input {
				t.Errorf("Bins/InputSize = %d/%d, want %d/%d", e.Bins(), e.InputSize(), tt.bins, tt.input)
			}
			d := e.Descriptor()
			if d.AnalysisBins() != tt.bins || d.DisplayBins() != s.DisplayBins || d.HopSize != 256 {
				t.Errorf("descriptor = %d analysis, %d display, hop %d", d.AnalysisBins(), d.DisplayBins(), d.HopSize)
			}
			if _, ok := e.Reassignment(); ok {
				t.Error("reassignment reported while disabled")
			}
		})
	}
}

func TestNormalization(t *testing.T) {
	x := utils.GenerateHarmonicWave(2048, testRate, 220, 0.5, 0.25)
	for _, mode := range []config.NormalizationMode{config.NormalizePeak, config.NormalizeRMS, config.NormalizeAWeighted} {
		t.Run(mode.String(), func(t *testing.T) {
			s := config.DefaultSettings()
			s.Normalization = mode
			e, _ := New(testRate, s)
			mags := e.Process(x)
			switch mode {
			case config.NormalizePeak:
				if m := mags[utils.FindPeakBin(mags, 0, len(mags)-1)]; math.Abs(m-1) > 1e-9 {
					t.Errorf("peak = %v", m)
				}
			case config.NormalizeRMS:
				sum := 0.0
				for _, m := range mags {
					sum += m * m
				}
				if rms := math.Sqrt(sum / float64(len(mags))); math.Abs(rms-rmsReference) > 1e-9 {
					t.Errorf("rms = %v", rms)
				}
			case config.NormalizeAWeighted:
				if mags[0] != 0 {
					t.Errorf("DC survived A-weighting: %v", mags[0])
				}
			}
		})
	}
}

func TestAWeight(t *testing.T) {
	tests := []struct {
		hz, wantDb float64
	}{
		{1000, 0},
		{100, -19.1},
		{10000, -2.5},
	}
	for _, tt := range tests {
		if got := 20 * math.Log10(aWeight(tt.hz)); math.Abs(got-tt.wantDb) > 0.2 {
			t.Errorf("A(%v) = %.2f dB, want %.1f", tt.hz, got, tt.wantDb)
		}
	}
}

func TestScalesInvert(t *testing.T) {
	for _, sc := range []config.FrequencyScale{config.ScaleLinear, config.ScaleLog, config.ScaleMel, config.ScaleERB, config.ScaleBark} {
		for _, hz := range []float64{50, 440, 7000} {
			if got := fromScale(sc, toScale(sc, hz)); math.Abs(got-hz) > 1e-6*hz {
				t.Errorf("%v: %v -> %v", sc, hz, got)
			}
		}
	}
}

func TestDisplayMapMaxPoolsAndInterpolates(t *testing.T) {
	freqs := make([]float64, 101)
	src := make([]float64, 101)
	for i := range freqs {
		freqs[i] = float64(i) * 10
		src[i] = float64(i % 7)
	}

	coarse := NewDisplayMap(config.ScaleLinear, 0, 1000, 10, freqs)
	dst := make([]float64, 10)
	coarse.Map(src, dst)
	for i, got := range dst {
		want := 0.0
		for j := i * 10; j < (i+1)*10; j++ {
			want = math.Max(want, src[j])
		}
		if got != want {
			t.Errorf("coarse[%d] = %v, want %v", i, got, want)
		}
	}

	fine := NewDisplayMap(config.ScaleLinear, 100, 200, 40, freqs)
	dst = make([]float64, 40)
	fine.Map(src, dst)
	// Bin 1 is centred at 103.75 Hz, between 100 Hz (3) and 110 Hz (4).
	if math.Abs(dst[1]-3.375) > 1e-9 {
		t.Errorf("fine[1] = %v, want 3.375", dst[1])
	}
	if p := fine.Position(fine.Centers()[7]); math.Abs(p-7) > 1e-9 {
		t.Errorf("Position(centre 7) = %v", p)
	}
}

func TestToDbClamps(t *testing.T) {
	dst := make([]float32, 4)
	ToDb(dst, []float64{0, 1e-9, 0.1, 4})
	want := []float32{FloorDb, FloorDb, -20, CeilingDb}
	for i := range want {
		if math.Abs(float64(dst[i]-want[i])) > 1e-4 {
			t.Errorf("ToDb[%d] = %v, want %v", i, dst[i], want[i])
		}
	}
}

func TestFindHarmonics(t *testing.T) {
	s := config.DefaultSettings()
	s.FFTSize = 4096
	e, _ := New(testRate, s)
	x := utils.GenerateHarmonicWave(4096, testRate, 200, 0.5, 0.4, 0.3, 0.2)
	mags := e.Process(x)

	var h Harmonics
	FindHarmonics(mags, e.Frequencies(), 200, &h)
	if h.Count < 4 {
		t.Fatalf("found %d harmonics, want at least 4", h.Count)
	}
	binHz := testRate / 4096
	for k := range 4 {
		if d := math.Abs(float64(h.Freq[k]) - 200*float64(k+1)); d > binHz {
			t.Errorf("harmonic %d at %.1f Hz", k+1, h.Freq[k])
		}
	}
	if h.Magnitude[0] <= h.Magnitude[3] {
		t.Errorf("magnitudes not decreasing: %v", h.Magnitude[:4])
	}

	FindHarmonics(mags, e.Frequencies(), 0, &h)
	if h.Count != 0 {
		t.Error("harmonics reported without a pitch")
	}
}

func TestFeatures(t *testing.T) {
	s := config.DefaultSettings()
	e, _ := New(testRate, s)
	ft := NewFeatureTracker(e.Bins())

	noise := e.Process(utils.GenerateGaussianNoise(11, 2048))
	fn := ft.Compute(noise, e.Frequencies())
	if fn.Flux != 0 {
		t.Errorf("flux on first frame = %v", fn.Flux)
	}
	if fn.Flatness < 0.5 {
		t.Errorf("noise flatness = %.3f", fn.Flatness)
	}

	tone := e.Process(utils.GenerateSineWave(2048, testRate, 1000, 1))
	ftone := ft.Compute(tone, e.Frequencies())
	if ftone.Flatness > 0.1 {
		t.Errorf("tone flatness = %.3f", ftone.Flatness)
	}
	if ftone.Flux <= 0 {
		t.Error("flux did not register the change")
	}
	if math.Abs(ftone.CentroidHz-1000) > 50 {
		t.Errorf("tone centroid = %.1f", ftone.CentroidHz)
	}
}

func TestEngineProcessZeroAllocs(t *testing.T) {
	s := config.DefaultSettings()
	s.Reassign = config.ReassignBoth
	e, _ := New(testRate, s)
	x := utils.GenerateSineWave(e.InputSize(), testRate, 440, 0.5)
	allocs := testing.AllocsPerRun(50, func() {
		e.Process(x)
	})
	if allocs != 0 {
		t.Errorf("Process allocated %.1f times per run", allocs)
	}
}

func BenchmarkEngine(b *testing.B) {
	for _, tt := range []config.TransformType{config.TransformFFT, config.TransformConstantQ, config.TransformZoomFFT} {
		b.Run(tt.String(), func(b *testing.B) {
			s := config.DefaultSettings()
			s.Transform = tt
			e, _ := New(testRate, s)
			x := utils.GenerateSineWave(e.InputSize(), testRate, 440, 0.5)
			b.ReportAllocs()
			for b.Loop() {
				e.Process(x)
			}
		})
	}
}
