package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavFormatPCM is the WAVE format tag for uncompressed PCM.
const wavFormatPCM = 1

// LoadWAV decodes a 16-bit PCM WAV file into a single frame.
func LoadWAV(path string) (AudioFrame, error) {
	f, err := os.Open(path)
	if err != nil {
		return AudioFrame{}, fmt.Errorf("audio: open wav %q: %w", path, err)
	}
	defer f.Close()
	return DecodeWAV(f)
}

// DecodeWAV decodes 16-bit PCM WAV data from r.
func DecodeWAV(r io.ReadSeeker) (AudioFrame, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return AudioFrame{}, errors.New("audio: not a valid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return AudioFrame{}, fmt.Errorf("audio: decode wav: %w", err)
	}
	if dec.BitDepth != 16 {
		return AudioFrame{}, fmt.Errorf("audio: unsupported wav bit depth %d, want 16", dec.BitDepth)
	}
	return AudioFrame{
		Data:       intsToPCM(buf.Data),
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
	}, nil
}

// WAVRecorder appends played audio to a 16-bit PCM WAV file. Frames must
// already be in the recorder's format. Close must be called to finalise the
// WAV header.
type WAVRecorder struct {
	mu     sync.Mutex
	file   *os.File
	enc    *wav.Encoder
	format Format
}

// NewWAVRecorder creates (or truncates) path and prepares it for writing
// audio in format f.
func NewWAVRecorder(path string, f Format) (*WAVRecorder, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("audio: create wav %q: %w", path, err)
	}
	r := &WAVRecorder{
		file:   file,
		enc:    wav.NewEncoder(file, f.SampleRate, 16, f.Channels, wavFormatPCM),
		format: f,
	}
	// An empty write emits the headers, so a recording closed before any
	// audio was played is still a valid zero-length WAV file.
	if err := r.enc.Write(r.buffer(nil)); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("audio: write wav header: %w", err)
	}
	return r, nil
}

func (r *WAVRecorder) buffer(samples []int) *goaudio.IntBuffer {
	return &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: r.format.Channels, SampleRate: r.format.SampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
}

// Write appends frame to the file.
func (r *WAVRecorder) Write(frame AudioFrame) error {
	if len(frame.Data) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enc.Write(r.buffer(pcmToInts(frame.Data))); err != nil {
		return fmt.Errorf("audio: write wav: %w", err)
	}
	return nil
}

// Close finalises the header and closes the file.
func (r *WAVRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return errors.Join(r.enc.Close(), r.file.Close())
}

func pcmToInts(pcm []byte) []int {
	out := make([]int, len(pcm)/2)
	for i := range out {
		out[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return out
}

func intsToPCM(samples []int) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s)))
	}
	return out
}
