package audio

import (
	"context"
	"sync"
	"time"
)

// DefaultFormat is the output format used when none is configured.
var DefaultFormat = Format{SampleRate: 24000, Channels: 1}

// PacedSink is a [Sink] that takes as long to play a frame as the frame
// lasts. It stands in for a real output device on headless hosts and can
// tee everything it plays into a [WAVRecorder].
//
// PacedSink is safe for concurrent use, although the announcer only ever
// plays from one goroutine.
type PacedSink struct {
	format Format

	mu       sync.Mutex
	recorder *WAVRecorder
	played   time.Duration
}

// SinkOption configures a [PacedSink].
type SinkOption func(*PacedSink)

// WithRecorder tees every played frame into r.
func WithRecorder(r *WAVRecorder) SinkOption {
	return func(s *PacedSink) { s.recorder = r }
}

// NewPacedSink returns a sink for the given format. A zero format selects
// [DefaultFormat].
func NewPacedSink(f Format, opts ...SinkOption) *PacedSink {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		f = DefaultFormat
	}
	s := &PacedSink{format: f}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Format returns the sink's native format.
func (s *PacedSink) Format() Format { return s.format }

// Play converts frame to the sink format, records it and blocks for its
// duration. If ctx is cancelled mid-frame only the elapsed portion counts as
// played.
func (s *PacedSink) Play(ctx context.Context, frame AudioFrame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frame, err := Convert(frame, s.format)
	if err != nil {
		return err
	}
	d := frame.Duration()

	s.mu.Lock()
	if s.recorder != nil {
		if err := s.recorder.Write(frame); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.mu.Unlock()

	start := time.Now()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		s.addPlayed(time.Since(start))
		return ctx.Err()
	case <-timer.C:
		s.addPlayed(d)
		return nil
	}
}

// Played returns the total audio time played so far.
func (s *PacedSink) Played() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.played
}

func (s *PacedSink) addPlayed(d time.Duration) {
	s.mu.Lock()
	s.played += d
	s.mu.Unlock()
}
