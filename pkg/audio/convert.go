package audio

import (
	"errors"
	"fmt"
	"time"
)

// ErrMisaligned reports PCM whose length is not a whole number of frames.
var ErrMisaligned = errors.New("audio: pcm not frame aligned")

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Duration returns the playback length of n bytes of 16-bit PCM in this
// format. Invalid formats report zero.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := n / (2 * f.Channels)
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// String returns e.g. "24000Hz mono".
func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

func (f Format) frameBytes() int { return 2 * f.Channels }

// Convert maps a self-contained frame, such as a tone clip, to format to.
// Streams split into chunks should use a [StreamConverter] instead.
func Convert(frame AudioFrame, to Format) (AudioFrame, error) {
	return NewStreamConverter(frame.Format(), to).Convert(frame.Data)
}

// StreamConverter converts consecutive chunks of one PCM stream to a target
// format. Channels are remixed first (downmix by averaging, upmix by
// duplication) and then resampled by linear interpolation. The interpolation
// phase and the last input frame carry over between chunks so chunk
// boundaries stay seamless. A StreamConverter serves a single stream and is
// not safe for concurrent use.
type StreamConverter struct {
	from, to Format

	// pos is the input position of the next output frame, relative to the
	// start of the next chunk. It lies in [-1, 0) once primed.
	pos  float64
	prev []int16
}

// NewStreamConverter returns a converter from one format to another.
func NewStreamConverter(from, to Format) *StreamConverter {
	return &StreamConverter{from: from, to: to}
}

// Convert converts the next chunk. A chunk that is not frame aligned in the
// source format is rejected without disturbing the stream state.
func (c *StreamConverter) Convert(pcm []byte) (AudioFrame, error) {
	out := AudioFrame{SampleRate: c.to.SampleRate, Channels: c.to.Channels}
	if c.from.Channels <= 0 || len(pcm)%c.from.frameBytes() != 0 {
		return out, fmt.Errorf("%w: %d bytes of %s", ErrMisaligned, len(pcm), c.from)
	}
	if c.from == c.to {
		out.Data = pcm
		return out, nil
	}

	frames := remix(decode16(pcm), c.from.Channels, c.to.Channels)
	if c.from.SampleRate != c.to.SampleRate && c.from.SampleRate > 0 && c.to.SampleRate > 0 {
		frames = c.resample(frames)
	}
	out.Data = encode16(frames)
	return out, nil
}

// resample interpolates interleaved frames of c.to.Channels samples.
func (c *StreamConverter) resample(in []int16) []int16 {
	ch := c.to.Channels
	n := len(in) / ch
	if n == 0 {
		return nil
	}
	step := float64(c.from.SampleRate) / float64(c.to.SampleRate)
	at := func(i, k int) int16 {
		if i < 0 {
			return c.prev[k]
		}
		return in[i*ch+k]
	}

	out := make([]int16, 0, int(float64(n)/step+1)*ch)
	for c.pos < float64(n-1) {
		i := int(c.pos)
		if c.pos < 0 {
			i = -1
		}
		frac := c.pos - float64(i)
		for k := range ch {
			s0, s1 := float64(at(i, k)), float64(at(i+1, k))
			out = append(out, int16(s0+(s1-s0)*frac))
		}
		c.pos += step
	}

	c.pos -= float64(n)
	c.prev = append(c.prev[:0], in[(n-1)*ch:]...)
	return out
}

// remix converts interleaved samples between channel counts.
func remix(in []int16, from, to int) []int16 {
	if from == to {
		return in
	}
	n := len(in) / from
	out := make([]int16, n*to)
	for i := range n {
		var sum int
		for k := range from {
			sum += int(in[i*from+k])
		}
		v := int16(sum / from)
		for k := range to {
			out[i*to+k] = v
		}
	}
	return out
}

func decode16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
	}
	return out
}

func encode16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[2*i] = byte(s)
		out[2*i+1] = byte(uint16(s) >> 8)
	}
	return out
}
