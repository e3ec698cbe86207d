package ocr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// maxResponseBytes caps how much of a provider response is read.
const maxResponseBytes = 4 << 20

// ProviderOption configures a provider.
type ProviderOption func(*providerConfig)

type providerConfig struct {
	client     *http.Client
	endpoint   string
	tokenURL   string
	balanceURL string
}

func newProviderConfig(endpoint string, opts []ProviderOption) providerConfig {
	cfg := providerConfig{
		client:   &http.Client{Timeout: DefaultTimeout + 5*time.Second},
		endpoint: endpoint,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithHTTPClient sets the HTTP client used for provider calls.
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(cfg *providerConfig) {
		if c != nil {
			cfg.client = c
		}
	}
}

// WithEndpoint overrides the recognition endpoint.
func WithEndpoint(url string) ProviderOption {
	return func(cfg *providerConfig) {
		if url != "" {
			cfg.endpoint = url
		}
	}
}

// WithTokenURL overrides the token endpoint of a token-based provider.
func WithTokenURL(url string) ProviderOption {
	return func(cfg *providerConfig) {
		if url != "" {
			cfg.tokenURL = url
		}
	}
}

// WithBalanceURL overrides the balance endpoint used for availability checks.
func WithBalanceURL(url string) ProviderOption {
	return func(cfg *providerConfig) {
		if url != "" {
			cfg.balanceURL = url
		}
	}
}

// doJSON sends req and decodes a JSON response into out. Failures are mapped
// onto the provider error classes.
func doJSON(ctx context.Context, client *http.Client, req *http.Request, out any) error {
	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrProviderTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrProviderTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: read body: %v", ErrProviderTimeout, err)
		}
		return fmt.Errorf("%w: read body: %v", ErrProviderTransport, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrProviderAuth, resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrProviderTransport, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: status %d: %s", ErrProviderRejected, resp.StatusCode, truncate(body, 200))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrProviderRejected, err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
