// Package openai provides a TTS provider backed by the OpenAI speech API.
//
// Audio is requested in the "pcm" response format (24 kHz, 16-bit signed
// little-endian mono) and streamed to the caller as the response body arrives,
// so playback can begin before the whole sentence has been rendered.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/navassist/pkg/provider/tts"
)

const (
	// DefaultModel is the default OpenAI speech model.
	DefaultModel = string(oai.SpeechModelTTS1)

	// DefaultVoice is used when the voice profile carries no ID.
	DefaultVoice = "alloy"

	// SampleRate is the fixed output rate of the "pcm" response format.
	SampleRate = 24000

	chunkSize    = 4096
	audioChanBuf = 64
)

// voices lists the built-in voices accepted by the speech endpoint.
var voices = []string{"alloy", "ash", "ballad", "coral", "echo", "fable", "onyx", "nova", "sage", "shimmer", "verse"}

// ErrUnknownVoice is returned by Synthesize for a voice the speech endpoint
// does not offer. Failing locally keeps a typo from tripping the breaker
// with a round trip per alert.
var ErrUnknownVoice = errors.New("openai tts: unknown voice")

// Ensure Provider implements the tts.Provider interface.
var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI TTS Provider.
// If model is empty, DefaultModel (tts-1) is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Stale alerts are not retried.
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// ModelID returns the configured speech model.
func (p *Provider) ModelID() string { return p.model }

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (tts.Stream, error) {
	if text == "" {
		return tts.Stream{}, errors.New("openai tts: text must not be empty")
	}
	id := voiceID(voice)
	if !slices.Contains(voices, id) {
		return tts.Stream{}, fmt.Errorf("%w %q", ErrUnknownVoice, id)
	}
	params := oai.AudioSpeechNewParams{
		Input:          text,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(id),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if voice.SpeedFactor > 0 {
		params.Speed = param.NewOpt(clampSpeed(voice.SpeedFactor))
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return tts.Stream{}, fmt.Errorf("openai tts: synthesize: %w", err)
	}

	em, stream := tts.NewEmitter(audioChanBuf, SampleRate)
	go func() {
		defer resp.Body.Close()
		em.Close(streamBody(ctx, resp.Body, em))
	}()
	return stream, nil
}

// streamBody copies r into em in sample-aligned chunks. It returns nil at
// EOF, ctx.Err() on cancellation and the read error when the response is cut
// short.
func streamBody(ctx context.Context, r io.Reader, em *tts.Emitter) error {
	var carry []byte
	for {
		buf := make([]byte, chunkSize)
		n, err := r.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			even := len(data) &^ 1
			carry = append([]byte(nil), data[even:]...)
			if even > 0 && !em.Send(ctx, data[:even]) {
				return ctx.Err()
			}
		}
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("openai tts: read audio: %w", err)
		}
	}
}

func voiceID(v tts.VoiceProfile) string {
	if v.ID == "" {
		return DefaultVoice
	}
	return v.ID
}

func clampSpeed(s float64) float64 {
	return min(max(s, 0.25), 4.0)
}
