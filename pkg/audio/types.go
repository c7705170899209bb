// Package audio defines the audio output contracts of NavAssist and the
// building blocks that implement them.
//
// The announcer consumes two fallible, cancellable operations:
//
//   - [Speaker] renders a sentence as speech and blocks until it has been
//     spoken or its context is cancelled.
//   - [TonePlayer] plays the short alert tone that precedes urgent messages.
//
// Concrete implementations in this package write 16-bit little-endian PCM
// to a [Sink], which paces playback in real time and optionally records it
// to a WAV file.
package audio

import (
	"context"
	"time"
)

// AudioFrame is a chunk of 16-bit little-endian PCM.
type AudioFrame struct {
	Data []byte

	// SampleRate in Hz (e.g. 24000 for OpenAI speech, 22050 for Coqui).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int
}

// Format returns the frame's sample rate and channel count.
func (f AudioFrame) Format() Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	return f.Format().Duration(len(f.Data))
}

// Speaker renders text as speech.
//
// Speak blocks until the text has been spoken. When ctx is cancelled it must
// stop promptly and return ctx.Err(); partially spoken output is acceptable.
// Implementations must be safe for use from a single goroutine at a time.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// TonePlayer plays the alert tone. PlayTone blocks for the tone's fixed
// duration unless ctx is cancelled first.
type TonePlayer interface {
	PlayTone(ctx context.Context) error
}

// Sink is an audio output device. Play blocks until frame has been played
// or ctx is cancelled.
type Sink interface {
	Play(ctx context.Context, frame AudioFrame) error
	Format() Format
}

// SpeakerFunc adapts a plain function to [Speaker].
type SpeakerFunc func(ctx context.Context, text string) error

// Speak calls f(ctx, text).
func (f SpeakerFunc) Speak(ctx context.Context, text string) error { return f(ctx, text) }
