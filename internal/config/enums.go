// SPDX-License-Identifier: MIT
package config

import (
	"fmt"
	"strings"
)

// WindowFunc selects the analysis window applied before a transform.
type WindowFunc int

const (
	WindowHann WindowFunc = iota
	WindowHamming
	WindowBlackman
	WindowBlackmanHarris
	WindowBlackmanNuttall
	WindowNuttall
	WindowBartlettHann
	WindowFlatTop
	WindowGaussian
	WindowTukey
	WindowLanczos
	WindowRectangular
)

var windowNames = []string{
	"hann", "hamming", "blackman", "blackmanharris", "blackmannuttall", "nuttall",
	"bartletthann", "flattop", "gaussian", "tukey", "lanczos", "rectangular",
}

func (w WindowFunc) String() string { return enumName(windowNames, int(w)) }

// ParseWindowFunc converts a string name (case-insensitive) to a WindowFunc
// enum, returns a known default (Hann) and an error if the name is unknown.
func ParseWindowFunc(name string) (WindowFunc, error) {
	n := normalizeName(name)
	if n == "hanning" {
		return WindowHann, nil
	}
	if i, ok := enumIndex(windowNames, n); ok {
		return WindowFunc(i), nil
	}
	return WindowHann, fmt.Errorf("unknown window function name: '%s'", name)
}

// FrequencyScale selects how display bins are spaced along the frequency axis.
type FrequencyScale int

const (
	ScaleLinear FrequencyScale = iota
	ScaleLog
	ScaleMel
	ScaleERB
	ScaleBark
)

var scaleNames = []string{"linear", "log", "mel", "erb", "bark"}

func (s FrequencyScale) String() string { return enumName(scaleNames, int(s)) }

// ParseFrequencyScale returns ScaleLog and an error for unknown names.
func ParseFrequencyScale(name string) (FrequencyScale, error) {
	if i, ok := enumIndex(scaleNames, normalizeName(name)); ok {
		return FrequencyScale(i), nil
	}
	return ScaleLog, fmt.Errorf("unknown frequency scale: '%s'", name)
}

// TransformType selects the spectral transform family.
type TransformType int

const (
	TransformFFT TransformType = iota
	TransformConstantQ
	TransformZoomFFT
)

var transformNames = []string{"fft", "cqt", "zoomfft"}

func (t TransformType) String() string { return enumName(transformNames, int(t)) }

// ParseTransformType accepts "fft", "cqt"/"constantq" and "zoom"/"zoomfft".
func ParseTransformType(name string) (TransformType, error) {
	switch normalizeName(name) {
	case "fft":
		return TransformFFT, nil
	case "cqt", "constantq":
		return TransformConstantQ, nil
	case "zoom", "zoomfft":
		return TransformZoomFFT, nil
	}
	return TransformFFT, fmt.Errorf("unknown transform type: '%s'", name)
}

// PitchAlgorithm selects the pitch detector.
type PitchAlgorithm int

const (
	PitchYin PitchAlgorithm = iota
	PitchPYin
	PitchAutocorrelation
	PitchCepstral
	PitchSwipe
)

var pitchNames = []string{"yin", "pyin", "autocorrelation", "cepstral", "swipe"}

func (p PitchAlgorithm) String() string { return enumName(pitchNames, int(p)) }

// ParsePitchAlgorithm returns PitchYin and an error for unknown names.
func ParsePitchAlgorithm(name string) (PitchAlgorithm, error) {
	n := normalizeName(name)
	if n == "acf" {
		return PitchAutocorrelation, nil
	}
	if i, ok := enumIndex(pitchNames, n); ok {
		return PitchAlgorithm(i), nil
	}
	return PitchYin, fmt.Errorf("unknown pitch algorithm: '%s'", name)
}

// ClarityMode selects which clarity stages run.
type ClarityMode int

const (
	ClarityNone ClarityMode = iota
	ClarityNoise
	ClarityHarmonic
	ClarityFull
)

var clarityNames = []string{"none", "noise", "harmonic", "full"}

func (c ClarityMode) String() string { return enumName(clarityNames, int(c)) }

func ParseClarityMode(name string) (ClarityMode, error) {
	if i, ok := enumIndex(clarityNames, normalizeName(name)); ok {
		return ClarityMode(i), nil
	}
	return ClarityNone, fmt.Errorf("unknown clarity mode: '%s'", name)
}

// SmoothingMode selects the final clarity smoothing stage.
type SmoothingMode int

const (
	SmoothingOff SmoothingMode = iota
	SmoothingEMA
	SmoothingBilateral
)

var smoothingNames = []string{"off", "ema", "bilateral"}

func (s SmoothingMode) String() string { return enumName(smoothingNames, int(s)) }

func ParseSmoothingMode(name string) (SmoothingMode, error) {
	n := normalizeName(name)
	if n == "none" {
		return SmoothingOff, nil
	}
	if i, ok := enumIndex(smoothingNames, n); ok {
		return SmoothingMode(i), nil
	}
	return SmoothingEMA, fmt.Errorf("unknown smoothing mode: '%s'", name)
}

// ReassignMode is a flag set; Time and Frequency may be combined.
type ReassignMode uint8

const (
	ReassignOff       ReassignMode = 0
	ReassignTime      ReassignMode = 1 << 0
	ReassignFrequency ReassignMode = 1 << 1
	ReassignBoth                   = ReassignTime | ReassignFrequency
)

// Enabled reports whether any reassignment axis is active.
func (r ReassignMode) Enabled() bool { return r&ReassignBoth != 0 }

func (r ReassignMode) String() string {
	switch r & ReassignBoth {
	case ReassignTime:
		return "time"
	case ReassignFrequency:
		return "frequency"
	case ReassignBoth:
		return "both"
	}
	return "off"
}

func ParseReassignMode(name string) (ReassignMode, error) {
	switch normalizeName(name) {
	case "off", "none", "":
		return ReassignOff, nil
	case "time":
		return ReassignTime, nil
	case "frequency", "freq":
		return ReassignFrequency, nil
	case "both", "timefrequency":
		return ReassignBoth, nil
	}
	return ReassignOff, fmt.Errorf("unknown reassign mode: '%s'", name)
}

// NormalizationMode selects post-transform magnitude normalization.
type NormalizationMode int

const (
	NormalizeNone NormalizationMode = iota
	NormalizePeak
	NormalizeRMS
	NormalizeAWeighted
)

var normalizationNames = []string{"none", "peak", "rms", "aweighted"}

func (n NormalizationMode) String() string { return enumName(normalizationNames, int(n)) }

func ParseNormalizationMode(name string) (NormalizationMode, error) {
	if i, ok := enumIndex(normalizationNames, normalizeName(name)); ok {
		return NormalizationMode(i), nil
	}
	return NormalizeNone, fmt.Errorf("unknown normalization mode: '%s'", name)
}

// FormantProfile selects the formant ceiling for the expected voice.
type FormantProfile int

const (
	FormantAuto FormantProfile = iota
	FormantMale
	FormantFemale
	FormantChild
)

var formantNames = []string{"auto", "male", "female", "child"}

func (f FormantProfile) String() string { return enumName(formantNames, int(f)) }

// CeilingHz is the highest formant frequency searched for the profile.
func (f FormantProfile) CeilingHz() float64 {
	switch f {
	case FormantMale:
		return 5000
	case FormantChild:
		return 8000
	default:
		return 5500
	}
}

func ParseFormantProfile(name string) (FormantProfile, error) {
	if i, ok := enumIndex(formantNames, normalizeName(name)); ok {
		return FormantProfile(i), nil
	}
	return FormantAuto, fmt.Errorf("unknown formant profile: '%s'", name)
}

func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("-", "", "_", "", " ", "").Replace(s)
}

func enumIndex(names []string, n string) (int, bool) {
	for i, name := range names {
		if name == n {
			return i, true
		}
	}
	return 0, false
}

func enumName(names []string, i int) string {
	if i < 0 || i >= len(names) {
		return "unknown"
	}
	return names[i]
}
