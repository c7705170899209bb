// Package tts defines the contract for speech synthesis backends.
//
// A provider renders one alert sentence per call and streams raw PCM back
// while the backend is still working, so playback can start before the
// whole sentence exists. Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is a speech synthesis backend.
type Provider interface {
	// Synthesize renders text and returns a stream of 16-bit little-endian
	// mono PCM. The error covers starting the render only. A render that
	// fails or is cancelled later closes Audio early and reports why through
	// [Stream.Result]. Callers must drain Audio.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (Stream, error)
}

// Stream is the output of one Synthesize call.
type Stream struct {
	Audio      <-chan []byte
	SampleRate int

	// Err reports why Audio closed. It may only be called once Audio is
	// closed. Nil means the backend cannot fail after starting.
	Err func() error
}

// Result returns nil when the whole rendering was delivered, and otherwise
// the error that cut it short. Call it only after Audio is closed.
func (s Stream) Result() error {
	if s.Err == nil {
		return nil
	}
	return s.Err()
}

// Emitter is the producing side of a [Stream].
type Emitter struct {
	ch  chan []byte
	err error
}

// NewEmitter returns an emitter and the stream it feeds. buffer is the
// channel depth.
func NewEmitter(buffer, sampleRate int) (*Emitter, Stream) {
	e := &Emitter{ch: make(chan []byte, buffer)}
	return e, Stream{Audio: e.ch, SampleRate: sampleRate, Err: func() error { return e.err }}
}

// Send delivers chunk. It returns false when ctx ended first.
func (e *Emitter) Send(ctx context.Context, chunk []byte) bool {
	select {
	case e.ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close ends the stream with err, nil for a complete rendering. It must be
// called exactly once, after the last Send.
func (e *Emitter) Close(err error) {
	e.err = err
	close(e.ch)
}

// VoiceProfile selects a backend voice.
type VoiceProfile struct {
	// ID is backend specific: an OpenAI voice name or a Coqui speaker.
	ID string

	// SpeedFactor scales the speaking rate where supported. Zero keeps the
	// backend default.
	SpeedFactor float64
}

// WithVoice pins p to voice v regardless of what callers ask for. A fallback
// backend uses it to keep its own voice, since the primary's voice IDs mean
// nothing to it.
func WithVoice(p Provider, v VoiceProfile) Provider {
	return pinnedVoice{p: p, v: v}
}

type pinnedVoice struct {
	p Provider
	v VoiceProfile
}

func (pv pinnedVoice) Synthesize(ctx context.Context, text string, _ VoiceProfile) (Stream, error) {
	return pv.p.Synthesize(ctx, text, pv.v)
}
