package audio

import (
	"context"
	"encoding/binary"
	"math"
	"time"
)

const (
	// DefaultToneDuration is how long the alert tone blocks the announcer.
	DefaultToneDuration = 500 * time.Millisecond

	// DefaultToneFrequency is the pitch of the generated beep in Hz.
	DefaultToneFrequency = 880.0

	// toneFade is the ramp applied to both ends of generated tones to avoid
	// clicks.
	toneFade = 10 * time.Millisecond
)

// GenerateBeep synthesises a double beep of total length d: two sine bursts
// at freq separated by a short pause.
func GenerateBeep(freq float64, d time.Duration, f Format) AudioFrame {
	n := int(int64(f.SampleRate) * int64(d) / int64(time.Second))
	fade := int(int64(f.SampleRate) * int64(toneFade) / int64(time.Second))
	burst := n * 2 / 5
	gapEnd := n * 3 / 5

	data := make([]byte, n*2*f.Channels)
	for i := range n {
		var v float64
		var pos, length int
		switch {
		case i < burst:
			pos, length = i, burst
		case i >= gapEnd:
			pos, length = i-gapEnd, n-gapEnd
		default:
			continue
		}
		amp := 0.5
		if pos < fade {
			amp *= float64(pos) / float64(fade)
		} else if length-pos < fade {
			amp *= float64(length-pos) / float64(fade)
		}
		v = amp * math.Sin(2*math.Pi*freq*float64(i)/float64(f.SampleRate))
		s := uint16(int16(v * math.MaxInt16))
		for ch := range f.Channels {
			binary.LittleEndian.PutUint16(data[(i*f.Channels+ch)*2:], s)
		}
	}
	return AudioFrame{Data: data, SampleRate: f.SampleRate, Channels: f.Channels}
}

// FitDuration trims or pads frame with silence so it lasts exactly d.
func FitDuration(frame AudioFrame, d time.Duration) AudioFrame {
	frameSize := 2 * frame.Channels
	if frameSize <= 0 || frame.SampleRate <= 0 {
		return frame
	}
	want := int(int64(frame.SampleRate)*int64(d)/int64(time.Second)) * frameSize
	out := make([]byte, want)
	copy(out, frame.Data)
	return AudioFrame{Data: out, SampleRate: frame.SampleRate, Channels: frame.Channels}
}

// SinkTone is a [TonePlayer] that plays a fixed clip on a [Sink].
type SinkTone struct {
	sink Sink
	clip AudioFrame
}

// NewSinkTone returns a tone player for clip, fitted to exactly d so the
// announcer always blocks for the same time. A zero-length clip selects a
// generated beep.
func NewSinkTone(sink Sink, clip AudioFrame, d time.Duration) *SinkTone {
	if d <= 0 {
		d = DefaultToneDuration
	}
	if len(clip.Data) == 0 {
		clip = GenerateBeep(DefaultToneFrequency, d, sink.Format())
	}
	return &SinkTone{sink: sink, clip: FitDuration(clip, d)}
}

// PlayTone plays the clip and blocks until it has finished.
func (t *SinkTone) PlayTone(ctx context.Context) error {
	return t.sink.Play(ctx, t.clip)
}

// Duration returns how long PlayTone blocks.
func (t *SinkTone) Duration() time.Duration {
	return t.clip.Duration()
}
