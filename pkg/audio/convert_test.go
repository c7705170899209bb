package audio_test

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/navassist/pkg/audio"
)

func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestFormat_Duration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		format audio.Format
		bytes  int
		want   time.Duration
	}{
		{"one second mono", audio.Format{SampleRate: 24000, Channels: 1}, 48000, time.Second},
		{"half second stereo", audio.Format{SampleRate: 48000, Channels: 2}, 96000, 500 * time.Millisecond},
		{"invalid rate", audio.Format{SampleRate: 0, Channels: 1}, 48000, 0},
		{"empty", audio.Format{SampleRate: 22050, Channels: 1}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.format.Duration(tt.bytes); got != tt.want {
				t.Errorf("Duration(%d) = %v, want %v", tt.bytes, got, tt.want)
			}
		})
	}
}

func TestFormat_String(t *testing.T) {
	t.Parallel()
	for f, want := range map[audio.Format]string{
		{SampleRate: 24000, Channels: 1}: "24000Hz mono",
		{SampleRate: 48000, Channels: 2}: "48000Hz stereo",
		{SampleRate: 48000, Channels: 6}: "48000Hz 6ch",
	} {
		if got := f.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}

func TestConvert(t *testing.T) {
	t.Parallel()

	mono1k := audio.Format{SampleRate: 1000, Channels: 1}
	stereo1k := audio.Format{SampleRate: 1000, Channels: 2}

	tests := []struct {
		name string
		in   audio.AudioFrame
		to   audio.Format
		want []int16
	}{
		{
			name: "same format",
			in:   audio.AudioFrame{Data: samplesToBytes([]int16{1, -2, 3}), SampleRate: 1000, Channels: 1},
			to:   mono1k,
			want: []int16{1, -2, 3},
		},
		{
			name: "downmix averages without overflow",
			in:   audio.AudioFrame{Data: samplesToBytes([]int16{32767, 32767, -100, 300}), SampleRate: 1000, Channels: 2},
			to:   mono1k,
			want: []int16{32767, 100},
		},
		{
			name: "upmix duplicates",
			in:   audio.AudioFrame{Data: samplesToBytes([]int16{5, -7}), SampleRate: 1000, Channels: 1},
			to:   stereo1k,
			want: []int16{5, 5, -7, -7},
		},
		{
			name: "upsample interpolates",
			in:   audio.AudioFrame{Data: samplesToBytes([]int16{0, 100, 200}), SampleRate: 500, Channels: 1},
			to:   mono1k,
			want: []int16{0, 50, 100, 150},
		},
		{
			name: "downsample picks every other frame",
			in:   audio.AudioFrame{Data: samplesToBytes([]int16{0, 1, 2, 3, 4, 5}), SampleRate: 2000, Channels: 1},
			to:   mono1k,
			want: []int16{0, 2, 4},
		},
		{
			name: "empty",
			in:   audio.AudioFrame{SampleRate: 22050, Channels: 1},
			to:   audio.DefaultFormat,
			want: []int16{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := audio.Convert(tt.in, tt.to)
			if err != nil {
				t.Fatalf("Convert: %v", err)
			}
			if got.Format() != tt.to {
				t.Errorf("format = %v, want %v", got.Format(), tt.to)
			}
			if diff := cmp.Diff(tt.want, bytesToSamples(got.Data)); diff != "" {
				t.Errorf("samples mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestConvert_Misaligned(t *testing.T) {
	t.Parallel()

	tests := []audio.AudioFrame{
		{Data: []byte{1, 2, 3}, SampleRate: 24000, Channels: 1},
		{Data: []byte{1, 2}, SampleRate: 24000, Channels: 2},
		{Data: []byte{1, 2}, SampleRate: 24000, Channels: 0},
	}
	for _, in := range tests {
		if _, err := audio.Convert(in, audio.DefaultFormat); !errors.Is(err, audio.ErrMisaligned) {
			t.Errorf("Convert(%d bytes, %dch) = %v, want ErrMisaligned", len(in.Data), in.Channels, err)
		}
	}
}

func TestStreamConverter_ChunkingIsSeamless(t *testing.T) {
	t.Parallel()

	signal := make([]int16, 101)
	for i := range signal {
		signal[i] = int16((i * 523) % 2000)
	}

	// Power-of-two ratios keep the interpolation positions exact.
	tests := []struct {
		name     string
		from, to audio.Format
	}{
		{name: "upsample x4", from: audio.Format{SampleRate: 1000, Channels: 1}, to: audio.Format{SampleRate: 4000, Channels: 1}},
		{name: "downsample /4", from: audio.Format{SampleRate: 4000, Channels: 1}, to: audio.Format{SampleRate: 1000, Channels: 1}},
		{name: "upsample to stereo", from: audio.Format{SampleRate: 1000, Channels: 1}, to: audio.Format{SampleRate: 2000, Channels: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			whole, err := audio.NewStreamConverter(tt.from, tt.to).Convert(samplesToBytes(signal))
			if err != nil {
				t.Fatalf("whole: %v", err)
			}

			conv := audio.NewStreamConverter(tt.from, tt.to)
			var chunked []byte
			for off, size := 0, 1; off < len(signal); off, size = off+size, size%7+1 {
				end := min(off+size, len(signal))
				part, err := conv.Convert(samplesToBytes(signal[off:end]))
				if err != nil {
					t.Fatalf("chunk at %d: %v", off, err)
				}
				chunked = append(chunked, part.Data...)
			}

			if diff := cmp.Diff(bytesToSamples(whole.Data), bytesToSamples(chunked)); diff != "" {
				t.Errorf("chunked output differs from whole (-whole +chunked):\n%s", diff)
			}
		})
	}
}

func TestStreamConverter_MisalignedChunkKeepsState(t *testing.T) {
	t.Parallel()

	conv := audio.NewStreamConverter(audio.Format{SampleRate: 500, Channels: 1}, audio.Format{SampleRate: 1000, Channels: 1})
	if _, err := conv.Convert(samplesToBytes([]int16{0, 100})); err != nil {
		t.Fatalf("first chunk: %v", err)
	}
	if _, err := conv.Convert([]byte{1}); !errors.Is(err, audio.ErrMisaligned) {
		t.Fatalf("odd chunk = %v, want ErrMisaligned", err)
	}
	got, err := conv.Convert(samplesToBytes([]int16{200}))
	if err != nil {
		t.Fatalf("third chunk: %v", err)
	}
	if diff := cmp.Diff([]int16{100, 150}, bytesToSamples(got.Data)); diff != "" {
		t.Errorf("resumed samples mismatch (-want +got):\n%s", diff)
	}
}
