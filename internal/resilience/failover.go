package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/navassist/pkg/provider/tts"
)

var (
	// ErrNoBackends is returned by [NewTTSFailover] without backends.
	ErrNoBackends = errors.New("resilience: no tts backends")

	// ErrAllFailed wraps the per-backend errors when no backend could start
	// a render.
	ErrAllFailed = errors.New("resilience: all tts backends failed")
)

// Backend names one TTS provider for [NewTTSFailover].
type Backend struct {
	Name     string
	Provider tts.Provider
}

type guarded struct {
	Backend
	breaker *Breaker
}

// TTSFailover is a [tts.Provider] that tries its backends in order, each
// behind its own [Breaker]. A render counts against its backend's breaker
// once its stream has ended, so a backend that drops connections mid-render
// is opened like one that refuses to start. A render already playing is not
// retried elsewhere.
type TTSFailover struct {
	backends []guarded
}

var _ tts.Provider = (*TTSFailover)(nil)

// NewTTSFailover builds one breaker per backend from cfg, using the backend
// name as the breaker name. The first backend is the primary.
func NewTTSFailover(cfg BreakerConfig, backends ...Backend) (*TTSFailover, error) {
	if len(backends) == 0 {
		return nil, ErrNoBackends
	}
	f := &TTSFailover{}
	for _, b := range backends {
		bc := cfg
		bc.Name = b.Name
		f.backends = append(f.backends, guarded{Backend: b, breaker: NewBreaker(bc)})
	}
	return f, nil
}

// Synthesize starts the render on the first backend whose breaker admits
// the call and which starts successfully. Cancellation of ctx ends the
// search at once.
func (f *TTSFailover) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (tts.Stream, error) {
	var errs []error
	for _, b := range f.backends {
		report, err := b.breaker.Allow()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.Name, err))
			continue
		}
		stream, err := b.Provider.Synthesize(ctx, text, voice)
		if ctxErr := ctx.Err(); err != nil && ctxErr != nil {
			report(context.Canceled)
			return tts.Stream{}, ctxErr
		}
		if err == nil {
			return watch(ctx, b.Name, stream, report), nil
		}
		report(err)
		slog.Warn("tts backend failed", "backend", b.Name, "err", err)
		errs = append(errs, fmt.Errorf("%s: %w", b.Name, err))
	}
	return tts.Stream{}, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}

// Healthy reports whether any backend would currently be tried.
func (f *TTSFailover) Healthy() bool {
	for _, b := range f.backends {
		if b.breaker.State() != Open {
			return true
		}
	}
	return false
}

// States returns every backend's breaker state by name.
func (f *TTSFailover) States() map[string]State {
	out := make(map[string]State, len(f.backends))
	for _, b := range f.backends {
		out[b.Name] = b.breaker.State()
	}
	return out
}

// watch forwards s and reports its outcome to the breaker when it ends.
// Cancellation by the caller is neutral.
func watch(ctx context.Context, name string, s tts.Stream, report func(error)) tts.Stream {
	em, out := tts.NewEmitter(cap(s.Audio), s.SampleRate)
	go func() {
		for c := range s.Audio {
			// Consumers must drain out.
			em.Send(context.Background(), c)
		}
		err := s.Result()
		switch {
		case err != nil && ctx.Err() != nil:
			report(context.Canceled)
		case err != nil:
			slog.Warn("tts backend failed mid-render", "backend", name, "err", err)
			report(err)
		default:
			report(nil)
		}
		em.Close(err)
	}()
	return out
}
