// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"vocalscope/internal/analysis"
	"vocalscope/internal/audio"
	"vocalscope/internal/config"
	applog "vocalscope/internal/log"
	"vocalscope/internal/report"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// pollInterval is how often analyze copies new frames out of the store. It
// must stay well below the store's history length.
const pollInterval = 20 * time.Millisecond

func newAnalyzeCommand(f *flagValues, cfg func() *config.Config) *cobra.Command {
	var output string
	c := &cobra.Command{
		Use:   "analyze <file.wav>",
		Short: "Analyse a WAV file as fast as possible and print a summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			if output != "" {
				file, err := os.Create(output)
				if err != nil {
					return err
				}
				defer file.Close()
				w = file
			}
			return analyze(cmd.Context(), cfg(), args[0], f.format, w)
		},
	}
	c.Flags().StringVar(&f.format, "format", report.FormatTable, "Output format: table, yaml, json")
	c.Flags().StringVarP(&output, "output", "o", "", "Write the summary to this file instead of stdout")
	return c
}

func analyze(ctx context.Context, cfg *config.Config, path, format string, w io.Writer) error {
	settings, err := cfg.Analysis.Settings()
	if err != nil {
		return err
	}
	orch := analysis.New(config.NewAnalysis(settings), 0)
	defer orch.Close()

	src, err := audio.OpenFile(path, cfg.Audio.FramesPerBuffer, false, orch)
	if err != nil {
		return err
	}
	defer src.Close()
	if err := orch.Initialize(src.SampleRate()); err != nil {
		return err
	}
	sub, err := orch.Subscribe(report.Capabilities)
	if err != nil {
		return err
	}
	defer sub.Close()

	collector := report.NewCollector(orch.Store())
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	g.Go(func() error {
		defer close(done)
		if err := src.Run(gctx); err != nil {
			return err
		}
		return src.Drain(gctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return nil
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				collector.Poll()
			}
		}
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("analyze %s: %w", path, err)
	}
	// The last frames written after the final tick.
	for range 3 {
		if collector.Poll() {
			break
		}
	}

	st := orch.Stats()
	applog.Infof("Analyzed %s: %d frames in %v (%d drops)", path, collector.Frames(),
		time.Since(start).Round(time.Millisecond), st.Drops)
	return report.Write(w, collector.Summarize(path, src.Duration()), format)
}
