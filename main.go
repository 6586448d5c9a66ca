// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"vocalscope/cmd"
	applog "vocalscope/internal/log"
	"vocalscope/pkg/build"
)

// main runs the command line until the command finishes or the process is
// interrupted. Commands own their startup and shutdown:
//
//   - run opens the capture device or file, starts analysis and the outputs,
//     and blocks until the monitor quits or a signal arrives
//   - list prints the host's audio devices
//   - analyze replays a WAV file at full speed and prints a summary
func main() {
	if !build.InitializeOrDefault() {
		applog.Debugf("Build flags not linked, using %s", build.GetBuildFlags())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		stop()
		applog.Fatalf("%v", err)
	}
}
