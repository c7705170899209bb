// Package coqui renders alert phrases with a locally hosted Coqui TTS server.
//
// Two server flavours are supported. [ModeStandard] talks to the stock
// tts-server (GET /api/tts with query parameters). [ModeXTTS] talks to the
// XTTS v2 API server (POST /tts_to_audio/ with a JSON body), which clones a
// reference speaker and therefore needs a voice ID.
//
// Both answer with a complete WAV file. Synthesize waits for it, so server
// errors surface to the caller (and its circuit breaker) before any audio is
// played, then streams the PCM downmixed to mono in short chunks.
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/navassist/pkg/audio"
	"github.com/MrWong99/navassist/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

var (
	// ErrNoVoice is returned in XTTS mode when the voice profile has no ID.
	ErrNoVoice = errors.New("coqui: xtts mode needs a speaker voice")

	// ErrEmptyText is returned for blank input.
	ErrEmptyText = errors.New("coqui: text must not be empty")
)

const (
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second

	standardPath = "/api/tts"
	xttsPath     = "/tts_to_audio/"

	// maxWAVBytes bounds a single rendering. Alert phrases are a few
	// seconds long; anything near this is a misbehaving server.
	maxWAVBytes = 16 << 20

	// chunkDuration is the length of audio carried by each stream chunk.
	chunkDuration = 100 * time.Millisecond
)

// Mode selects the server API.
type Mode string

const (
	// ModeStandard targets the stock Coqui tts-server. It is the default.
	ModeStandard Mode = "standard"

	// ModeXTTS targets the Coqui XTTS v2 API server.
	ModeXTTS Mode = "xtts"
)

// Option configures a [Provider].
type Option func(*Provider)

// WithLanguage sets the language code sent with every request.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.client.Timeout = d }
}

// WithMode selects the server API.
func WithMode(m Mode) Option {
	return func(p *Provider) { p.mode = m }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// Provider is a [tts.Provider] backed by a Coqui server. It is safe for
// concurrent use.
type Provider struct {
	baseURL  string
	language string
	mode     Mode
	client   *http.Client
}

// New returns a provider for the server at baseURL, e.g.
// "http://localhost:5002".
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("coqui: base URL must not be empty")
	}
	p := &Provider{
		baseURL:  strings.TrimRight(baseURL, "/"),
		language: defaultLanguage,
		mode:     ModeStandard,
		client:   &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	switch p.mode {
	case ModeStandard, ModeXTTS:
	default:
		return nil, fmt.Errorf("coqui: unknown mode %q", p.mode)
	}
	return p, nil
}

// Synthesize renders text and streams it as 16-bit mono PCM at the
// server's sample rate. The stream stops early when ctx ends.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (tts.Stream, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return tts.Stream{}, ErrEmptyText
	}

	req, err := p.newRequest(ctx, text, voice)
	if err != nil {
		return tts.Stream{}, err
	}
	body, err := p.fetch(req)
	if err != nil {
		return tts.Stream{}, err
	}
	frame, err := decodeMono(body)
	if err != nil {
		return tts.Stream{}, err
	}

	n := max(2, 2*int(int64(frame.SampleRate)*int64(chunkDuration)/int64(time.Second)))
	em, stream := tts.NewEmitter(len(frame.Data)/n+1, frame.SampleRate)
	go func() {
		pcm := frame.Data
		for len(pcm) > 0 {
			end := min(n, len(pcm))
			if !em.Send(ctx, pcm[:end]) {
				em.Close(ctx.Err())
				return
			}
			pcm = pcm[end:]
		}
		em.Close(nil)
	}()
	return stream, nil
}

// newRequest builds the synthesis request for the configured mode.
func (p *Provider) newRequest(ctx context.Context, text string, voice tts.VoiceProfile) (*http.Request, error) {
	var (
		req *http.Request
		err error
	)
	switch p.mode {
	case ModeXTTS:
		if voice.ID == "" {
			return nil, ErrNoVoice
		}
		body, merr := json.Marshal(struct {
			Text       string `json:"text"`
			SpeakerWav string `json:"speaker_wav"`
			Language   string `json:"language"`
		}{text, voice.ID, p.language})
		if merr != nil {
			return nil, fmt.Errorf("coqui: encode request: %w", merr)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+xttsPath, bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	default:
		q := url.Values{"text": {text}}
		if voice.ID != "" {
			q.Set("speaker_id", voice.ID)
		}
		if p.language != "" {
			q.Set("language_id", p.language)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+standardPath+"?"+q.Encode(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("coqui: build request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")
	return req, nil
}

// fetch performs req and returns the WAV body.
func (p *Provider) fetch(req *http.Request) ([]byte, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("coqui: %s %s: status %d: %s",
			req.Method, req.URL.Path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxWAVBytes+1))
	if err != nil {
		return nil, fmt.Errorf("coqui: read response: %w", err)
	}
	if len(body) > maxWAVBytes {
		return nil, fmt.Errorf("coqui: response exceeds %d bytes", maxWAVBytes)
	}
	return body, nil
}

// decodeMono decodes a 16-bit WAV body and downmixes it to mono.
func decodeMono(body []byte) (audio.AudioFrame, error) {
	frame, err := audio.DecodeWAV(bytes.NewReader(body))
	if err != nil {
		return audio.AudioFrame{}, fmt.Errorf("coqui: %w", err)
	}
	if frame.Channels < 1 || frame.SampleRate <= 0 {
		return audio.AudioFrame{}, fmt.Errorf("coqui: wav reports %d channels at %d Hz", frame.Channels, frame.SampleRate)
	}
	mono, err := audio.Convert(frame, audio.Format{SampleRate: frame.SampleRate, Channels: 1})
	if err != nil {
		return audio.AudioFrame{}, fmt.Errorf("coqui: %w", err)
	}
	return mono, nil
}
