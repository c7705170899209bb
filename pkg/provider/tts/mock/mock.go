// Package mock provides a scriptable tts.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/navassist/pkg/provider/tts"
)

// Call is one recorded Synthesize invocation.
type Call struct {
	Ctx   context.Context
	Text  string
	Voice tts.VoiceProfile
}

// Provider replays SynthesizeChunks on every successful call.
//
// Failures are scripted two ways: Script holds one result per call, consumed
// in order (a nil entry succeeds), and SynthesizeErr applies to every call
// once Script is exhausted.
type Provider struct {
	SynthesizeChunks [][]byte

	// SampleRate is reported on every stream. Zero means 24000.
	SampleRate int

	Script        []error
	SynthesizeErr error

	// StreamErr ends every started stream after its chunks, as a backend
	// whose connection drops mid-render would.
	StreamErr error

	// Gate, when non-nil, holds every chunk until a value is received or the
	// call's context ends. It lets tests cancel a render mid-stream.
	Gate chan struct{}

	mu    sync.Mutex
	calls []Call
}

var _ tts.Provider = (*Provider)(nil)

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (tts.Stream, error) {
	p.mu.Lock()
	p.calls = append(p.calls, Call{Ctx: ctx, Text: text, Voice: voice})
	err := p.SynthesizeErr
	if len(p.Script) > 0 {
		err, p.Script = p.Script[0], p.Script[1:]
	}
	chunks := append([][]byte(nil), p.SynthesizeChunks...)
	rate, gate, streamErr := p.SampleRate, p.Gate, p.StreamErr
	p.mu.Unlock()

	if err != nil {
		return tts.Stream{}, err
	}
	if rate == 0 {
		rate = 24000
	}

	em, stream := tts.NewEmitter(len(chunks), rate)
	go func() {
		for _, c := range chunks {
			if gate != nil {
				select {
				case <-gate:
				case <-ctx.Done():
					em.Close(ctx.Err())
					return
				}
			}
			if !em.Send(ctx, c) {
				em.Close(ctx.Err())
				return
			}
		}
		em.Close(streamErr)
	}()
	return stream, nil
}

// Calls returns a copy of the recorded calls.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}
