// SPDX-License-Identifier: MIT
package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"vocalscope/internal/config"

	"github.com/spf13/pflag"
)

func parseFlags(t *testing.T, cfg *config.Config, args ...string) error {
	t.Helper()
	var f flagValues
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	addGlobalFlags(fs, &f)
	addAudioFlags(fs, &f)
	if err := fs.Parse(args); err != nil {
		t.Fatal(err)
	}
	return applyFlags(fs, &f, cfg)
}

func TestApplyFlagsOnlyChanged(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Audio.SampleRate = 44100
	cfg.Transport.WSAddress = ":9000"

	if err := parseFlags(t, cfg, "--pitch", "swipe", "--udp-addr", "10.0.0.2:7000", "--fast", "-c", "2"); err != nil {
		t.Fatal(err)
	}
	if cfg.Analysis.Pitch != "swipe" {
		t.Errorf("pitch = %q", cfg.Analysis.Pitch)
	}
	if !cfg.Transport.UDPEnabled || cfg.Transport.UDPTargetAddress != "10.0.0.2:7000" {
		t.Errorf("udp %+v", cfg.Transport)
	}
	if cfg.Audio.Realtime || cfg.Audio.InputChannels != 2 {
		t.Errorf("audio %+v", cfg.Audio)
	}
	if cfg.Audio.SampleRate != 44100 || cfg.Transport.WSAddress != ":9000" || cfg.Transport.WSEnabled {
		t.Errorf("unset flags overrode the config: %+v %+v", cfg.Audio, cfg.Transport)
	}
}

func TestApplyFlagsValidates(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown pitch", []string{"--pitch", "guess"}},
		{"unknown window", []string{"--window", "triangle"}},
		{"gate above one", []string{"--gate", "1.5"}},
		{"bad log level", []string{"--log-level", "loud"}},
		{"udp without port", []string{"--udp-addr", "localhost"}},
		{"zero channels", []string{"--channels", "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := parseFlags(t, config.NewConfig(), tt.args...)
			if err == nil || !strings.Contains(err.Error(), "invalid configuration") {
				t.Errorf("err = %v", err)
			}
		})
	}
}

func TestRootCommand(t *testing.T) {
	root := newRootCommand()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "list", "analyze"} {
		if !names[want] {
			t.Errorf("missing %q command", want)
		}
	}
	// The bare command takes the run flags.
	if root.Flags().Lookup("input") == nil || root.Flags().Lookup("no-tui") == nil {
		t.Error("root lacks run flags")
	}
}

func TestAnalyzeRejectsBadArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no file", []string{"analyze"}, "accepts 1 arg"},
		{"missing file", []string{"analyze", t.TempDir() + "/none.wav"}, "none.wav"},
		{"bad flag value", []string{"analyze", "x.wav", "--pitch", "guess"}, "unknown pitch algorithm"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := newRootCommand()
			var out bytes.Buffer
			root.SetOut(&out)
			root.SetErr(&out)
			root.SetArgs(tt.args)
			err := root.ExecuteContext(context.Background())
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}
