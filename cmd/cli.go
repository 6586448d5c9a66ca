// SPDX-License-Identifier: MIT

// Package cmd is the vocalscope command line: run, list and analyze.
package cmd

import (
	"context"
	"fmt"

	"vocalscope/internal/config"
	applog "vocalscope/internal/log"
	"vocalscope/pkg/build"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// flagValues receives the command line. Only flags the user set override
// the loaded configuration.
type flagValues struct {
	configPath string
	debug      bool
	logLevel   string

	device          int
	sampleRate      float64
	framesPerBuffer int
	channels        int
	lowLatency      bool
	gate            float64
	input           string
	fast            bool
	record          string
	pick            bool
	noTUI           bool

	ws      bool
	wsAddr  string
	udp     bool
	udpAddr string

	fftSize   int
	window    string
	scale     string
	transform string
	pitch     string
	formant   string
	clarity   string
	reassign  string

	format string
}

// Execute parses os.Args and runs the selected command until it finishes or
// ctx is cancelled.
func Execute(ctx context.Context) error {
	return newRootCommand().ExecuteContext(ctx)
}

func newRootCommand() *cobra.Command {
	buildInfo := build.GetBuildFlags()
	var f flagValues
	var cfg *config.Config

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         buildInfo.Description,
		Version:       buildInfo.String(),
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.LoadConfig(f.configPath)
			if err != nil {
				return err
			}
			if err := applyFlags(cmd.Flags(), &f, loaded); err != nil {
				return err
			}
			cfg = loaded
			applog.SetLevel(cfg.EffectiveLogLevel())
			return nil
		},
	}
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	addGlobalFlags(rootCmd.PersistentFlags(), &f)

	runCmd := newRunCommand(&f, func() *config.Config { return cfg })
	rootCmd.RunE = runCmd.RunE
	rootCmd.Flags().AddFlagSet(runCmd.Flags())

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newAnalyzeCommand(&f, func() *config.Config { return cfg }))
	return rootCmd
}

// addGlobalFlags registers the logging and analysis flags every command
// shares.
func addGlobalFlags(fs *pflag.FlagSet, f *flagValues) {
	fs.StringVar(&f.configPath, "config", "", "YAML configuration file (default config.yaml or vocalscope.yaml if present)")
	fs.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	fs.StringVar(&f.logLevel, "log-level", config.DefaultLogLevel, "Log level: debug, info, warn, error")

	fs.IntVar(&f.fftSize, "fft-size", 0, "FFT size, a power of two from 256 to 16384")
	fs.StringVar(&f.window, "window", "", "Window function, e.g. hann, blackmanharris, gaussian")
	fs.StringVar(&f.scale, "scale", "", "Display frequency scale: linear, log, mel, erb, bark")
	fs.StringVar(&f.transform, "transform", "", "Spectral transform: fft, cqt, zoomfft")
	fs.StringVar(&f.pitch, "pitch", "", "Pitch algorithm: yin, pyin, autocorrelation, cepstral, swipe")
	fs.StringVar(&f.formant, "formant-profile", "", "Formant profile: auto, male, female, child")
	fs.StringVar(&f.clarity, "clarity", "", "Clarity processing: none, noise, harmonic, full")
	fs.StringVar(&f.reassign, "reassign", "", "Spectral reassignment: off, time, frequency, both")
}

// addAudioFlags registers the capture flags on a command.
func addAudioFlags(fs *pflag.FlagSet, f *flagValues) {
	fs.IntVarP(&f.device, "device", "d", config.DefaultDeviceID,
		"Input device ID. Use the 'list' command to see available devices.")
	fs.Float64VarP(&f.sampleRate, "sample-rate", "s", config.DefaultSampleRate,
		"Sample rate, measured in Hertz (Hz)")
	fs.IntVarP(&f.framesPerBuffer, "frames-per-buffer", "b", config.DefaultFramesPerBuffer,
		"The number of frames per buffer (affects latency)")
	fs.IntVarP(&f.channels, "channels", "c", config.DefaultChannels,
		"Number of channels to capture; channel 0 is analysed")
	fs.BoolVarP(&f.lowLatency, "low-latency", "l", config.DefaultLowLatency,
		"Request low latency from the input device")
	fs.Float64Var(&f.gate, "gate", 0, "Noise gate threshold 0..1 (peak level); 0 disables")
	fs.StringVarP(&f.input, "input", "i", "", "Analyse a WAV file instead of a capture device")
	fs.BoolVar(&f.fast, "fast", false, "Play --input as fast as analysis keeps up instead of in real time")
	fs.StringVarP(&f.record, "record", "r", "", "Record the analysed channel to this WAV file")
	fs.BoolVar(&f.pick, "pick", false, "Choose the input device and sample rate interactively")
	fs.BoolVar(&f.noTUI, "no-tui", false, "Run without the terminal monitor")

	fs.BoolVar(&f.ws, "ws", false, "Stream frames to WebSocket clients")
	fs.StringVar(&f.wsAddr, "ws-addr", config.DefaultWSAddress, "WebSocket listen address")
	fs.BoolVar(&f.udp, "udp", false, "Stream frames as UDP datagrams")
	fs.StringVar(&f.udpAddr, "udp-addr", config.DefaultUDPAddress, "UDP target address")
}

// applyFlags copies the flags the user set into cfg and validates the
// result.
func applyFlags(fs *pflag.FlagSet, f *flagValues, cfg *config.Config) error {
	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("debug", func() { cfg.Debug = f.debug })
	set("log-level", func() { cfg.LogLevel = f.logLevel })

	set("device", func() { cfg.Audio.InputDevice = f.device })
	set("sample-rate", func() { cfg.Audio.SampleRate = f.sampleRate })
	set("frames-per-buffer", func() { cfg.Audio.FramesPerBuffer = f.framesPerBuffer })
	set("channels", func() { cfg.Audio.InputChannels = f.channels })
	set("low-latency", func() { cfg.Audio.LowLatency = f.lowLatency })
	set("gate", func() { cfg.Audio.GateThreshold = f.gate })
	set("input", func() { cfg.Audio.InputFile = f.input })
	set("fast", func() { cfg.Audio.Realtime = !f.fast })
	set("record", func() { cfg.Audio.RecordFile = f.record })

	set("ws", func() { cfg.Transport.WSEnabled = f.ws })
	set("ws-addr", func() { cfg.Transport.WSAddress, cfg.Transport.WSEnabled = f.wsAddr, true })
	set("udp", func() { cfg.Transport.UDPEnabled = f.udp })
	set("udp-addr", func() { cfg.Transport.UDPTargetAddress, cfg.Transport.UDPEnabled = f.udpAddr, true })

	set("fft-size", func() { cfg.Analysis.FFTSize = f.fftSize })
	set("window", func() { cfg.Analysis.Window = f.window })
	set("scale", func() { cfg.Analysis.Scale = f.scale })
	set("transform", func() { cfg.Analysis.Transform = f.transform })
	set("pitch", func() { cfg.Analysis.Pitch = f.pitch })
	set("formant-profile", func() { cfg.Analysis.Formant = f.formant })
	set("clarity", func() { cfg.Analysis.Clarity = f.clarity })
	set("reassign", func() { cfg.Analysis.Reassign = f.reassign })

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
