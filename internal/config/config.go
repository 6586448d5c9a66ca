// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"time"
)

// Core configuration constants that define the boundaries and defaults
// for the capture engine and its publishers.
const (
	DefaultChannels        = 1           // Mono audio
	DefaultDeviceID        = MinDeviceID // Default to system default device
	DefaultFramesPerBuffer = 512         // Balanced latency/performance
	DefaultLowLatency      = false       // Standard latency mode
	DefaultSampleRate      = 48000       // Analysis is tuned for 48 kHz
	DefaultLogLevel        = "info"
	DefaultUDPAddress      = "127.0.0.1:9090"
	DefaultUDPInterval     = 33 * time.Millisecond // ~30Hz
	DefaultWSAddress       = ":8080"
	DefaultWSInterval      = 33 * time.Millisecond

	// Hardware and processing limits
	MinDeviceID     = -1     // -1 represents system default device
	MinSampleRate   = 8000   // Minimum usable sample rate (Hz)
	MaxSampleRate   = 192000 // Maximum supported sample rate (Hz)
	MaxBufferFrames = 8192   // Maximum frames per buffer (power of 2)
	MaxChannels     = 32
)

// Config represents the main application configuration structure, loaded
// from YAML and then overridden by environment variables and CLI flags.
type Config struct {
	Debug     bool            `yaml:"debug"`     // Enable debug mode (forces debug log level).
	LogLevel  string          `yaml:"log_level"` // Logging level ("debug", "info", "warn", "error").
	Audio     AudioConfig     `yaml:"audio"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Transport TransportConfig `yaml:"transport"`

	// Runtime-only options set by the CLI.
	Command string `yaml:"-"` // One-off command ("list", "analyze").
	TUIMode bool   `yaml:"-"` // Terminal monitor enabled.
}

// AudioConfig holds settings related to audio input.
type AudioConfig struct {
	InputDevice     int     `yaml:"input_device"`      // PortAudio device index for audio input (-1 for default).
	SampleRate      float64 `yaml:"sample_rate"`       // Sample rate in Hz (e.g., 44100, 48000).
	FramesPerBuffer int     `yaml:"frames_per_buffer"` // Frames per callback block.
	LowLatency      bool    `yaml:"low_latency"`       // Request low latency settings from PortAudio device.
	InputChannels   int     `yaml:"input_channels"`    // Channels captured; channel 0 feeds analysis.
	InputFile       string  `yaml:"input_file"`        // WAV file replayed instead of a device when set.
	Realtime        bool    `yaml:"realtime"`          // Pace file playback at the file's sample rate.
	GateThreshold   float64 `yaml:"gate_threshold"`    // Peak level 0..1 below which blocks are silenced; 0 disables.
	RecordFile      string  `yaml:"record_file"`       // WAV file receiving the analysed channel when set.
}

// AnalysisConfig is the YAML form of Settings. Enum fields are names parsed
// with the Parse* functions.
type AnalysisConfig struct {
	FFTSize         int     `yaml:"fft_size"`
	OverlapIndex    int     `yaml:"overlap_index"`
	TimeWindow      float64 `yaml:"time_window_seconds"`
	MinFrequency    float64 `yaml:"min_frequency"`
	MaxFrequency    float64 `yaml:"max_frequency"`
	DisplayBins     int     `yaml:"display_bins"`
	Window          string  `yaml:"window"`
	Scale           string  `yaml:"frequency_scale"`
	Transform       string  `yaml:"transform"`
	BinsPerOctave   int     `yaml:"bins_per_octave"`
	ZoomFactor      int     `yaml:"zoom_factor"`
	Normalization   string  `yaml:"normalization"`
	Pitch           string  `yaml:"pitch_algorithm"`
	Formant         string  `yaml:"formant_profile"`
	Clarity         string  `yaml:"clarity"`
	NoiseReduction  float64 `yaml:"noise_reduction"`
	HarmonicBoost   float64 `yaml:"harmonic_boost"`
	Smoothing       string  `yaml:"smoothing"`
	SmoothingAmount float64 `yaml:"smoothing_amount"`
	PreEmphasis     bool    `yaml:"pre_emphasis"`
	HighPass        bool    `yaml:"high_pass"`
	HighPassCutoff  float64 `yaml:"high_pass_cutoff"`
	Reassign        string  `yaml:"reassign"`
	ReassignDb      float64 `yaml:"reassign_threshold_db"`
	ReassignSpread  float64 `yaml:"reassign_spread"`
	SpeechDb        float64 `yaml:"speech_presence_db"`
	VowelRatio      float64 `yaml:"vowel_ratio_threshold"`
}

// TransportConfig holds settings related to sending analysis frames over the network.
type TransportConfig struct {
	UDPEnabled       bool          `yaml:"udp_enabled"`
	UDPTargetAddress string        `yaml:"udp_target_address"` // e.g., "127.0.0.1:9090".
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`
	WSEnabled        bool          `yaml:"ws_enabled"`
	WSAddress        string        `yaml:"ws_address"` // Listen address for the /ws endpoint.
	WSSendInterval   time.Duration `yaml:"ws_send_interval"`
}

// NewConfig creates a new Config instance with default values.
func NewConfig() *Config {
	return &Config{
		LogLevel: DefaultLogLevel,
		Audio: AudioConfig{
			InputDevice:     DefaultDeviceID,
			SampleRate:      DefaultSampleRate,
			FramesPerBuffer: DefaultFramesPerBuffer,
			LowLatency:      DefaultLowLatency,
			InputChannels:   DefaultChannels,
			Realtime:        true,
		},
		Analysis: AnalysisConfigFrom(DefaultSettings()),
		Transport: TransportConfig{
			UDPTargetAddress: DefaultUDPAddress,
			UDPSendInterval:  DefaultUDPInterval,
			WSAddress:        DefaultWSAddress,
			WSSendInterval:   DefaultWSInterval,
		},
	}
}

// AnalysisConfigFrom renders settings into their YAML form.
func AnalysisConfigFrom(s Settings) AnalysisConfig {
	return AnalysisConfig{
		FFTSize:         s.FFTSize,
		OverlapIndex:    s.OverlapIndex,
		TimeWindow:      s.TimeWindow,
		MinFrequency:    s.MinFrequency,
		MaxFrequency:    s.MaxFrequency,
		DisplayBins:     s.DisplayBins,
		Window:          s.Window.String(),
		Scale:           s.Scale.String(),
		Transform:       s.Transform.String(),
		BinsPerOctave:   s.BinsPerOctave,
		ZoomFactor:      s.ZoomFactor,
		Normalization:   s.Normalization.String(),
		Pitch:           s.Pitch.String(),
		Formant:         s.Formant.String(),
		Clarity:         s.Clarity.String(),
		NoiseReduction:  s.NoiseReduction,
		HarmonicBoost:   s.HarmonicBoost,
		Smoothing:       s.Smoothing.String(),
		SmoothingAmount: s.SmoothingAmount,
		PreEmphasis:     s.PreEmphasis,
		HighPass:        s.HighPass,
		HighPassCutoff:  s.HighPassCutoff,
		Reassign:        s.Reassign.String(),
		ReassignDb:      s.ReassignThresholdDb,
		ReassignSpread:  s.ReassignSpread,
		SpeechDb:        s.SpeechPresenceDb,
		VowelRatio:      s.VowelRatioThreshold,
	}
}

// Settings parses the YAML form into clamped Settings. Unknown enum names
// are reported together; the returned Settings still carry the defaults for
// those fields.
func (a AnalysisConfig) Settings() (Settings, error) {
	s := Settings{
		FFTSize:             a.FFTSize,
		OverlapIndex:        a.OverlapIndex,
		TimeWindow:          a.TimeWindow,
		MinFrequency:        a.MinFrequency,
		MaxFrequency:        a.MaxFrequency,
		DisplayBins:         a.DisplayBins,
		BinsPerOctave:       a.BinsPerOctave,
		ZoomFactor:          a.ZoomFactor,
		NoiseReduction:      a.NoiseReduction,
		HarmonicBoost:       a.HarmonicBoost,
		SmoothingAmount:     a.SmoothingAmount,
		PreEmphasis:         a.PreEmphasis,
		HighPass:            a.HighPass,
		HighPassCutoff:      a.HighPassCutoff,
		ReassignThresholdDb: a.ReassignDb,
		ReassignSpread:      a.ReassignSpread,
		SpeechPresenceDb:    a.SpeechDb,
		VowelRatioThreshold: a.VowelRatio,
		MinDb:               -100,
		MaxDb:               0,
	}

	var errs []error
	var err error
	if s.Window, err = ParseWindowFunc(a.Window); err != nil {
		errs = append(errs, err)
	}
	if s.Scale, err = ParseFrequencyScale(a.Scale); err != nil {
		errs = append(errs, err)
	}
	if s.Transform, err = ParseTransformType(a.Transform); err != nil {
		errs = append(errs, err)
	}
	if s.Normalization, err = ParseNormalizationMode(a.Normalization); err != nil {
		errs = append(errs, err)
	}
	if s.Pitch, err = ParsePitchAlgorithm(a.Pitch); err != nil {
		errs = append(errs, err)
	}
	if s.Formant, err = ParseFormantProfile(a.Formant); err != nil {
		errs = append(errs, err)
	}
	if s.Clarity, err = ParseClarityMode(a.Clarity); err != nil {
		errs = append(errs, err)
	}
	if s.Smoothing, err = ParseSmoothingMode(a.Smoothing); err != nil {
		errs = append(errs, err)
	}
	if s.Reassign, err = ParseReassignMode(a.Reassign); err != nil {
		errs = append(errs, err)
	}

	s.Clamp()
	if len(errs) > 0 {
		return s, fmt.Errorf("analysis settings: %w", errors.Join(errs...))
	}
	return s, nil
}
