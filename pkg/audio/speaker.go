package audio

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/MrWong99/navassist/pkg/provider/tts"
)

// DefaultWordsPerMinute is the speaking rate assumed by [ConsoleSpeaker].
const DefaultWordsPerMinute = 150

// ConsoleSpeaker is a [Speaker] for hosts without a speech backend. It writes
// each sentence to w and then blocks for as long as the sentence would take to
// say at the configured rate.
type ConsoleSpeaker struct {
	mu    sync.Mutex
	w     io.Writer
	wpm   int
	clock clock.Clock
}

// NewConsoleSpeaker returns a ConsoleSpeaker writing to w. wpm <= 0 selects
// [DefaultWordsPerMinute]; a nil clk selects the wall clock.
func NewConsoleSpeaker(w io.Writer, wpm int, clk clock.Clock) *ConsoleSpeaker {
	if wpm <= 0 {
		wpm = DefaultWordsPerMinute
	}
	if clk == nil {
		clk = clock.New()
	}
	return &ConsoleSpeaker{w: w, wpm: wpm, clock: clk}
}

// Speak implements [Speaker].
func (s *ConsoleSpeaker) Speak(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	_, err := fmt.Fprintf(s.w, "[speech] %s\n", text)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("console speaker: %w", err)
	}

	timer := s.clock.Timer(SpeechDuration(text, s.wpm))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SpeechDuration estimates how long text takes to say at wpm words per minute.
func SpeechDuration(text string, wpm int) time.Duration {
	if wpm <= 0 {
		wpm = DefaultWordsPerMinute
	}
	words := len(strings.Fields(text))
	return time.Duration(words) * time.Minute / time.Duration(wpm)
}

// SynthSpeaker is a [Speaker] that renders text through a TTS provider and
// plays the audio on a [Sink] as it arrives.
type SynthSpeaker struct {
	provider tts.Provider
	voice    tts.VoiceProfile
	sink     Sink
}

// NewSynthSpeaker returns a speaker using provider with voice, playing on sink.
func NewSynthSpeaker(provider tts.Provider, voice tts.VoiceProfile, sink Sink) *SynthSpeaker {
	return &SynthSpeaker{provider: provider, voice: voice, sink: sink}
}

// Speak implements [Speaker]. It returns once the last chunk has been played,
// or the backend's error when the rendering ended early.
// Chunks are converted to the sink format as one continuous stream. On
// cancellation the remaining synthesis output is drained in the background.
func (s *SynthSpeaker) Speak(ctx context.Context, text string) error {
	stream, err := s.provider.Synthesize(ctx, text, s.voice)
	if err != nil {
		return fmt.Errorf("synth speaker: %w", err)
	}
	conv := NewStreamConverter(Format{SampleRate: stream.SampleRate, Channels: 1}, s.sink.Format())
	for chunk := range stream.Audio {
		frame, err := conv.Convert(chunk)
		if err == nil {
			err = s.sink.Play(ctx, frame)
		}
		if err != nil {
			go drain(stream.Audio)
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := stream.Result(); err != nil {
		return fmt.Errorf("synth speaker: render cut short: %w", err)
	}
	return nil
}

// drain releases a synthesis goroutine whose output is no longer wanted.
func drain(ch <-chan []byte) {
	for range ch {
	}
}
