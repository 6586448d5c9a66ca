// SPDX-License-Identifier: MIT
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"vocalscope/internal/capture"
	"vocalscope/internal/log"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavFormatPCM = 1

	// In fast mode playback pauses while this many samples wait for
	// analysis.
	maxBacklog   = 32 * 1024
	backlogSleep = time.Millisecond
)

var ErrUnsupportedFormat = errors.New("unsupported WAV format")

// Backlogger is implemented by capture targets that can report how many
// samples are queued but not yet analysed.
type Backlogger interface {
	Backlog() int
}

// FileSource replays a PCM WAV file through the capture bridge. Channel 0 is
// analysed. With realtime set blocks are paced at the file's sample rate;
// otherwise they are sent as fast as the target keeps up.
type FileSource struct {
	path      string
	file      *os.File
	decoder   *wav.Decoder
	realtime  bool
	blockSize int

	target   capture.Target
	bridge   *capture.Bridge
	channels int
	rate     float64
	scale    float32
	offset   int // 8-bit PCM is unsigned

	pcm  *audio.IntBuffer
	mono []float32

	samples int64
}

// OpenFile validates path and prepares it for playback into target.
func OpenFile(path string, blockSize int, realtime bool, target capture.Target) (*FileSource, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("block size must be positive, got %d", blockSize)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
	}
	if dec.WavAudioFormat != wavFormatPCM || dec.NumChans == 0 || dec.SampleRate == 0 {
		f.Close()
		return nil, fmt.Errorf("%s: format %d, %d channels, %d Hz: %w",
			path, dec.WavAudioFormat, dec.NumChans, dec.SampleRate, ErrUnsupportedFormat)
	}
	switch dec.BitDepth {
	case 8, 16, 24, 32:
	default:
		f.Close()
		return nil, fmt.Errorf("%s: %d-bit samples: %w", path, dec.BitDepth, ErrUnsupportedFormat)
	}

	channels := int(dec.NumChans)
	s := &FileSource{
		path:      path,
		file:      f,
		decoder:   dec,
		realtime:  realtime,
		blockSize: blockSize,
		target:    target,
		bridge:    capture.NewBridge(target, blockSize),
		channels:  channels,
		rate:      float64(dec.SampleRate),
		scale:     1 / float32(int64(1)<<(dec.BitDepth-1)),
		pcm: &audio.IntBuffer{
			Format:         dec.Format(),
			Data:           make([]int, blockSize*channels),
			SourceBitDepth: int(dec.BitDepth),
		},
		mono: make([]float32, blockSize),
	}
	if dec.BitDepth == 8 {
		s.offset = 128
	}
	return s, nil
}

func (s *FileSource) SampleRate() float64 { return s.rate }
func (s *FileSource) Channels() int       { return s.channels }

// Duration is the playing time of the file, or zero if unknown.
func (s *FileSource) Duration() time.Duration {
	d, err := s.decoder.Duration()
	if err != nil {
		return 0
	}
	return d
}

// Position is the playing time consumed so far.
func (s *FileSource) Position() time.Duration {
	return time.Duration(float64(s.samples) / s.rate * float64(time.Second))
}

// Run plays the file to the end or until ctx is cancelled. Reaching the end
// returns nil.
func (s *FileSource) Run(ctx context.Context) error {
	log.Infof("FileSource: playing %s (%.0f Hz, %d channels, realtime=%v)", s.path, s.rate, s.channels, s.realtime)

	var ticker *time.Ticker
	if s.realtime {
		period := time.Duration(float64(s.blockSize) / s.rate * float64(time.Second))
		ticker = time.NewTicker(period)
		defer ticker.Stop()
	}
	backlog, _ := s.target.(Backlogger)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := s.decoder.PCMBuffer(s.pcm)
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("decode %s: %w", s.path, err)
		}
		frames := n / s.channels
		if frames == 0 {
			s.bridge.Flush()
			log.Infof("FileSource: finished %s after %v", s.path, s.Position().Round(time.Millisecond))
			return nil
		}
		s.convert(frames)

		if ticker != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		} else if backlog != nil {
			if err := s.waitBacklog(ctx, backlog, maxBacklog); err != nil {
				return err
			}
		}

		s.bridge.Capture(s.mono[:frames], s.samples, s.samples, capture.AnalysisChannel, nil, nil, capture.SourceOutput)
		s.bridge.Flush()
		s.samples += int64(frames)
	}
}

// Drain waits until the target has analysed everything sent to it.
func (s *FileSource) Drain(ctx context.Context) error {
	b, ok := s.target.(Backlogger)
	if !ok {
		return nil
	}
	return s.waitBacklog(ctx, b, 0)
}

func (s *FileSource) waitBacklog(ctx context.Context, b Backlogger, limit int) error {
	for b.Backlog() > limit {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backlogSleep):
		}
	}
	return nil
}

// convert takes channel 0 of the decoded block into mono.
func (s *FileSource) convert(frames int) {
	data := s.pcm.Data
	for i := range frames {
		s.mono[i] = float32(data[i*s.channels]-s.offset) * s.scale
	}
}

// Close releases the file.
func (s *FileSource) Close() error {
	return s.file.Close()
}
