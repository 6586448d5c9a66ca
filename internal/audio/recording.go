// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"vocalscope/internal/capture"
	"vocalscope/internal/log"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	recordBitDepth    = 16
	recordDrainPeriod = 20 * time.Millisecond
	recordRingSeconds = 4
)

var ErrAlreadyRecording = errors.New("already recording")

// Recorder writes mono audio to a 16-bit PCM WAV file. Write is called from
// the audio thread and only copies into a ring; a background goroutine
// drains the ring into the encoder.
type Recorder struct {
	path    string
	file    *os.File
	encoder *wav.Encoder
	ring    *capture.Ring

	chunk  []float32
	intBuf *audio.IntBuffer

	stop chan struct{}
	done chan struct{}
	once sync.Once
	err  error // first encoder error, owned by the drain goroutine until done
}

// NewRecorder creates filename and starts the drain goroutine.
func NewRecorder(filename string, sampleRate int) (*Recorder, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}

	chunk := sampleRate / 10
	r := &Recorder{
		path:    filename,
		file:    file,
		encoder: wav.NewEncoder(file, sampleRate, recordBitDepth, 1, 1),
		ring:    capture.NewRing(sampleRate * recordRingSeconds),
		chunk:   make([]float32, chunk),
		intBuf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
			Data:           make([]int, chunk),
			SourceBitDepth: recordBitDepth,
		},
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go r.drain()
	log.Infof("Recorder: writing %s", filename)
	return r, nil
}

// Path returns the file being written.
func (r *Recorder) Path() string { return r.path }

// Dropped returns the number of samples lost because the drain fell behind.
func (r *Recorder) Dropped() uint64 { return r.ring.DroppedSamples() }

// Write queues samples. It never blocks.
func (r *Recorder) Write(samples []float32) {
	r.ring.Write(samples)
}

func (r *Recorder) drain() {
	defer close(r.done)
	ticker := time.NewTicker(recordDrainPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			r.flush()
			return
		case <-ticker.C:
			r.flush()
		}
	}
}

func (r *Recorder) flush() {
	const scale = 1<<(recordBitDepth-1) - 1
	for {
		n := r.ring.Read(r.chunk)
		if n == 0 {
			return
		}
		for i, v := range r.chunk[:n] {
			r.intBuf.Data[i] = int(math.Round(float64(max(-1, min(1, v))) * scale))
		}
		r.intBuf.Data = r.intBuf.Data[:n]
		if err := r.encoder.Write(r.intBuf); err != nil && r.err == nil {
			r.err = fmt.Errorf("write recording: %w", err)
		}
		r.intBuf.Data = r.intBuf.Data[:cap(r.intBuf.Data)]
	}
}

// Close drains what is queued, finalizes the WAV header and closes the
// file. It is safe to call more than once.
func (r *Recorder) Close() error {
	r.once.Do(func() {
		close(r.stop)
		<-r.done
		if err := r.encoder.Close(); err != nil && r.err == nil {
			r.err = fmt.Errorf("finalize recording: %w", err)
		}
		if err := r.file.Close(); err != nil && r.err == nil {
			r.err = err
		}
		if d := r.ring.DroppedSamples(); d > 0 {
			log.Warnf("Recorder: %d samples dropped", d)
		}
	})
	return r.err
}

// StartRecording begins recording the analysed channel to filename.
func (e *Engine) StartRecording(filename string) error {
	if e.recorder.Load() != nil {
		return ErrAlreadyRecording
	}
	r, err := NewRecorder(filename, int(e.SampleRate()))
	if err != nil {
		return err
	}
	if !e.recorder.CompareAndSwap(nil, r) {
		r.Close()
		os.Remove(filename)
		return ErrAlreadyRecording
	}
	return nil
}

// StopRecording finalizes the current recording, if any.
func (e *Engine) StopRecording() error {
	r := e.recorder.Swap(nil)
	if r == nil {
		return nil
	}
	return r.Close()
}

// IsRecording reports whether a recording is in progress.
func (e *Engine) IsRecording() bool { return e.recorder.Load() != nil }
