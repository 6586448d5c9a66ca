// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"vocalscope/internal/analysis"
	"vocalscope/internal/audio"
	"vocalscope/internal/config"
	applog "vocalscope/internal/log"
	"vocalscope/internal/transport"
	"vocalscope/internal/transport/udp"
	"vocalscope/internal/tui"
	"vocalscope/pkg/build"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// logInterval limits the headless frame log.
const logInterval = time.Second

// errStopped ends the run group without being an error: the monitor quit or
// a headless file finished.
var errStopped = errors.New("stopped")

func newRunCommand(f *flagValues, cfg func() *config.Config) *cobra.Command {
	c := &cobra.Command{
		Use:   "run",
		Short: "Analyse live input or a WAV file and show or stream the results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg()
			c.TUIMode = !f.noTUI
			return run(cmd.Context(), c, f.pick)
		},
	}
	addAudioFlags(c.Flags(), f)
	return c
}

// source is a running audio input.
type source interface {
	run(ctx context.Context) error
}

type engineSource struct{ e *audio.Engine }

func (s engineSource) run(ctx context.Context) error {
	if err := s.e.StartInputStream(); err != nil {
		return err
	}
	applog.Infof("Capturing from %s at %.0f Hz", s.e.DeviceName(), s.e.SampleRate())
	<-ctx.Done()
	st := s.e.Stats()
	applog.Infof("AudioEngine: %d callbacks, %d frames, %d clipped, %d gated",
		st.Callbacks, st.Frames, st.Clipped, st.Gated)
	return s.e.Close()
}

type fileSource struct {
	fs      *audio.FileSource
	endsRun bool // without a monitor the run ends with the file
}

func (s fileSource) run(ctx context.Context) error {
	defer s.fs.Close()
	if err := s.fs.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	if !s.endsRun {
		return nil
	}
	if err := s.fs.Drain(ctx); err != nil {
		return nil
	}
	return errStopped
}

func run(ctx context.Context, cfg *config.Config, pick bool) error {
	settings, err := cfg.Analysis.Settings()
	if err != nil {
		return err
	}
	orch := analysis.New(config.NewAnalysis(settings), 0)
	defer orch.Close()

	src, sampleRate, cleanup, err := openSource(cfg, orch, pick)
	if err != nil || src == nil {
		return err
	}
	defer cleanup()

	if err := orch.Initialize(sampleRate); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return src.run(ctx) })

	if cfg.Transport.WSEnabled {
		startWebSocket(ctx, g, cfg.Transport, orch)
	}
	if cfg.Transport.UDPEnabled {
		if err := startUDP(ctx, g, cfg.Transport, orch); err != nil {
			return err
		}
	}
	if !cfg.TUIMode && !cfg.Transport.WSEnabled && !cfg.Transport.UDPEnabled {
		// Nothing else consumes frames; keep analysis running and log it.
		pub := transport.NewPublisher("LoggingPublisher", orch, transport.NewLoggingTransport(logInterval), 0)
		if err := pub.SetActive(true); err != nil {
			return err
		}
		g.Go(func() error { return pub.Run(ctx) })
	}

	if cfg.TUIMode {
		title := fmt.Sprintf("%s %s", build.GetBuildFlags().Name, build.GetBuildFlags().Version)
		g.Go(func() error {
			// The monitor owns the terminal until it quits.
			applog.SetOutput(io.Discard)
			defer applog.SetOutput(os.Stderr)
			if err := tui.RunMonitor(ctx, title, orch, orch); err != nil {
				return err
			}
			return errStopped
		})
	} else {
		applog.Infof("Running, press Ctrl+C to stop")
	}

	if err := g.Wait(); err != nil && !errors.Is(err, errStopped) {
		return err
	}
	st := orch.Stats()
	applog.Infof("Analysis: %d frames, %d drops, %d starvations", st.FramesWritten, st.Drops, st.Starvations)
	return nil
}

// openSource prepares the file or device input feeding orch. It returns a
// nil source when the user cancelled the device picker.
func openSource(cfg *config.Config, orch *analysis.Orchestrator, pick bool) (source, float64, func(), error) {
	if cfg.Audio.InputFile != "" {
		if cfg.Audio.RecordFile != "" {
			return nil, 0, nil, errors.New("--record needs a capture device, not --input")
		}
		fs, err := audio.OpenFile(cfg.Audio.InputFile, cfg.Audio.FramesPerBuffer, cfg.Audio.Realtime, orch)
		if err != nil {
			return nil, 0, nil, err
		}
		return fileSource{fs: fs, endsRun: !cfg.TUIMode}, fs.SampleRate(), func() {}, nil
	}

	if err := audio.Initialize(); err != nil {
		return nil, 0, nil, err
	}
	cleanup := func() { audio.Terminate() }

	if pick {
		sel, err := tui.PickDevice()
		if err != nil || sel == nil {
			cleanup()
			return nil, 0, nil, err
		}
		cfg.Audio.InputDevice, cfg.Audio.SampleRate = sel.DeviceID, sel.SampleRate
	}

	engine, err := audio.NewEngine(cfg.Audio, orch)
	if err != nil {
		cleanup()
		return nil, 0, nil, err
	}
	if cfg.Audio.RecordFile != "" {
		if err := engine.StartRecording(cfg.Audio.RecordFile); err != nil {
			engine.Close()
			cleanup()
			return nil, 0, nil, err
		}
	}
	return engineSource{e: engine}, engine.SampleRate(), cleanup, nil
}

func startWebSocket(ctx context.Context, g *errgroup.Group, tc config.TransportConfig, orch *analysis.Orchestrator) {
	var pub *transport.Publisher
	wst := transport.NewWebSocketTransport(tc.WSAddress, func(n int) {
		if err := pub.SetActive(n > 0); err != nil {
			applog.Errorf("WebSocketPublisher: %v", err)
		}
	})
	pub = transport.NewPublisher("WebSocketPublisher", orch, wst, tc.WSSendInterval)
	g.Go(func() error { return wst.ListenAndServe(ctx) })
	g.Go(func() error { return pub.Run(ctx) })
}

func startUDP(ctx context.Context, g *errgroup.Group, tc config.TransportConfig, orch *analysis.Orchestrator) error {
	sender, err := udp.NewUDPSender(tc.UDPTargetAddress)
	if err != nil {
		return err
	}
	pub, err := udp.NewUDPPublisher(tc.UDPSendInterval, sender, orch)
	if err != nil {
		sender.Close()
		return err
	}
	if err := pub.Start(); err != nil {
		sender.Close()
		return err
	}
	g.Go(func() error {
		<-ctx.Done()
		return errors.Join(pub.Close(), sender.Close())
	})
	return nil
}
