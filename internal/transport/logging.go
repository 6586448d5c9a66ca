// SPDX-License-Identifier: MIT
package transport

import (
	"time"

	"vocalscope/internal/log"
)

// LoggingTransport writes a one-line summary of each frame at Debug level,
// at most once per interval.
type LoggingTransport struct {
	limit *log.Limiter
}

func NewLoggingTransport(interval time.Duration) *LoggingTransport {
	log.Infof("Transport: using LoggingTransport")
	return &LoggingTransport{limit: log.NewLimiter(interval)}
}

// Send logs frames and ignores anything else.
func (lt *LoggingTransport) Send(data any) error {
	f, ok := data.(*Frame)
	if !ok || !log.Enabled(log.LevelDebug) || !lt.limit.Allow() {
		return nil
	}
	log.Debugf("LoggingTransport: frame %d pitch %.1f Hz (%.2f) F1 %.0f F2 %.0f F3 %.0f, %d bins",
		f.ID, f.Pitch, f.Confidence, f.Formants[0], f.Formants[1], f.Formants[2], len(f.Spectrum))
	return nil
}

func (lt *LoggingTransport) Close() error { return nil }

var _ Transport = (*LoggingTransport)(nil)
