// Package ocr turns images into text through an ordered chain of third-party
// OCR services. A failing provider is skipped; when every provider fails the
// resolver still returns a result, with empty text and a diagnostic string
// for the logs.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/whisper/guardbot/internal/metrics"
	"go.uber.org/zap"
)

// Provider failure classes. Providers wrap one of these so the resolver and
// the metrics can tell failures apart; all of them advance the chain.
var (
	ErrProviderTimeout   = errors.New("provider timeout")
	ErrProviderTransport = errors.New("provider transport error")
	ErrProviderRejected  = errors.New("provider rejected request")
	ErrProviderAuth      = errors.New("provider auth error")
)

const (
	// DefaultTimeout bounds one provider call.
	DefaultTimeout = 15 * time.Second
	// TokenTimeout bounds one token exchange.
	TokenTimeout = 10 * time.Second
)

// Provider is one OCR backend.
type Provider interface {
	Name() string
	Recognize(ctx context.Context, image []byte) (string, error)
	CheckAvailability(ctx context.Context) bool
}

// refresher is implemented by providers that hold a bearer token. The
// resolver calls Refresh once after an ErrProviderAuth failure and retries.
type refresher interface {
	Refresh(ctx context.Context) error
}

// Result is the outcome of Recognize. Diagnostics lists the failure of each
// provider tried before the one that answered, or of all of them.
type Result struct {
	Text        string
	Provider    string
	Diagnostics string
}

// Resolver walks the provider chain in order.
type Resolver struct {
	providers []Provider
	timeout   time.Duration
	logger    *zap.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTimeout sets the per-provider call timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResolver creates a resolver over providers, tried in the given order.
func NewResolver(providers []Provider, opts ...Option) *Resolver {
	r := &Resolver{
		providers: providers,
		timeout:   DefaultTimeout,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Providers returns the provider names in chain order.
func (r *Resolver) Providers() []string {
	names := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		names = append(names, p.Name())
	}
	return names
}

// Recognize returns the text of the first provider that succeeds. Each
// provider is tried at most once per call, plus one retry after a token
// refresh. It never fails; an empty Text with non-empty Diagnostics means no
// provider could read the image.
func (r *Resolver) Recognize(ctx context.Context, image []byte) Result {
	var failures []string

	for _, p := range r.providers {
		if err := ctx.Err(); err != nil {
			failures = append(failures, fmt.Sprintf("%s: skipped: %v", p.Name(), err))
			break
		}

		text, err := r.attempt(ctx, p, image)
		if err == nil {
			r.logger.Debug("ocr succeeded",
				zap.String("provider", p.Name()),
				zap.Int("chars", len([]rune(text))))
			return Result{Text: text, Provider: p.Name(), Diagnostics: strings.Join(failures, " | ")}
		}
		r.logger.Info("ocr provider failed", zap.String("provider", p.Name()), zap.Error(err))
		failures = append(failures, fmt.Sprintf("%s: %v", p.Name(), err))
	}

	diag := strings.Join(failures, " | ")
	if len(r.providers) == 0 {
		diag = "no ocr providers configured"
	}
	r.logger.Warn("all ocr providers failed", zap.String("diagnostics", diag))
	return Result{Diagnostics: diag}
}

// attempt runs one provider, refreshing its token and retrying once when it
// reports an auth failure.
func (r *Resolver) attempt(ctx context.Context, p Provider, image []byte) (string, error) {
	text, err := r.call(ctx, p, image)
	if err == nil || !errors.Is(err, ErrProviderAuth) {
		return text, err
	}

	ref, ok := p.(refresher)
	if !ok {
		return "", err
	}
	refreshCtx, cancel := context.WithTimeout(ctx, TokenTimeout)
	rerr := ref.Refresh(refreshCtx)
	cancel()
	if rerr != nil {
		return "", fmt.Errorf("%w (refresh: %v)", err, rerr)
	}
	r.logger.Debug("ocr token refreshed, retrying", zap.String("provider", p.Name()))
	return r.call(ctx, p, image)
}

// call runs a single provider request under the resolver timeout.
func (r *Resolver) call(ctx context.Context, p Provider, image []byte) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	text, err := p.Recognize(callCtx, image)
	metrics.OCRLatency.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())

	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrProviderTimeout) {
		err = fmt.Errorf("%w: %v", ErrProviderTimeout, err)
	}
	metrics.OCRAttemptsTotal.WithLabelValues(p.Name(), outcome(err)).Inc()
	return text, err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrProviderTimeout):
		return "timeout"
	case errors.Is(err, ErrProviderAuth):
		return "auth"
	case errors.Is(err, ErrProviderRejected):
		return "rejected"
	default:
		return "transport"
	}
}

// CheckAvailability probes every provider and reports which ones answered.
func (r *Resolver) CheckAvailability(ctx context.Context) map[string]bool {
	out := make(map[string]bool, len(r.providers))
	for _, p := range r.providers {
		probeCtx, cancel := context.WithTimeout(ctx, r.timeout)
		out[p.Name()] = p.CheckAvailability(probeCtx)
		cancel()
	}
	return out
}
