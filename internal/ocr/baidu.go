package ocr

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	BaiduEndpoint = "https://aip.baidubce.com/rest/2.0/ocr/v1/general_basic"
	BaiduTokenURL = "https://aip.baidubce.com/oauth/2.0/token"
)

// Baidu error codes meaning the access token must be replaced.
const (
	baiduInvalidToken = 110
	baiduExpiredToken = 111
)

// Baidu is the token-based provider. The access token comes from a
// client-credentials exchange and is cached until it expires or the service
// rejects it.
type Baidu struct {
	cfg   providerConfig
	creds *clientcredentials.Config

	mu    sync.Mutex
	token *oauth2.Token
}

// NewBaidu creates the provider from the application's API key and secret.
func NewBaidu(apiKey, secretKey string, opts ...ProviderOption) *Baidu {
	cfg := newProviderConfig(BaiduEndpoint, opts)
	if cfg.tokenURL == "" {
		cfg.tokenURL = BaiduTokenURL
	}
	return &Baidu{
		cfg: cfg,
		creds: &clientcredentials.Config{
			ClientID:     apiKey,
			ClientSecret: secretKey,
			TokenURL:     cfg.tokenURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
	}
}

func (p *Baidu) Name() string { return "baidu" }

// fetchToken performs the client-credentials exchange.
func (p *Baidu) fetchToken(ctx context.Context) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.cfg.client)
	tok, err := p.creds.Token(ctx)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return nil, fmt.Errorf("%w: token exchange: %v", ErrProviderAuth, err)
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: token exchange: %v", ErrProviderTimeout, err)
		}
		return nil, fmt.Errorf("%w: token exchange: %v", ErrProviderAuth, err)
	}
	return tok, nil
}

// accessToken returns the cached token, acquiring one on first use.
func (p *Baidu) accessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token.Valid() {
		return p.token.AccessToken, nil
	}
	tokenCtx, cancel := context.WithTimeout(ctx, TokenTimeout)
	defer cancel()
	tok, err := p.fetchToken(tokenCtx)
	if err != nil {
		return "", err
	}
	p.token = tok
	return tok.AccessToken, nil
}

// Refresh discards the cached token and acquires a new one.
func (p *Baidu) Refresh(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.token = nil
	tok, err := p.fetchToken(ctx)
	if err != nil {
		return err
	}
	p.token = tok
	return nil
}

func (p *Baidu) invalidate(rejected string) {
	p.mu.Lock()
	if p.token != nil && p.token.AccessToken == rejected {
		p.token = nil
	}
	p.mu.Unlock()
}

type baiduResponse struct {
	ErrorCode   int    `json:"error_code"`
	ErrorMsg    string `json:"error_msg"`
	WordsResult *[]struct {
		Words string `json:"words"`
	} `json:"words_result"`
}

func (p *Baidu) Recognize(ctx context.Context, image []byte) (string, error) {
	token, err := p.accessToken(ctx)
	if err != nil {
		return "", err
	}

	endpoint := p.cfg.endpoint + "?" + url.Values{"access_token": {token}}.Encode()
	form := url.Values{"image": {base64.StdEncoding.EncodeToString(image)}}
	req, err := http.NewRequest(http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProviderTransport, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var res baiduResponse
	if err := doJSON(ctx, p.cfg.client, req, &res); err != nil {
		return "", err
	}

	switch {
	case res.ErrorCode == baiduInvalidToken || res.ErrorCode == baiduExpiredToken:
		p.invalidate(token)
		return "", fmt.Errorf("%w: error %d: %s", ErrProviderAuth, res.ErrorCode, res.ErrorMsg)
	case res.ErrorCode != 0:
		return "", fmt.Errorf("%w: error %d: %s", ErrProviderRejected, res.ErrorCode, res.ErrorMsg)
	case res.WordsResult == nil:
		return "", fmt.Errorf("%w: response without words_result", ErrProviderRejected)
	}

	lines := make([]string, 0, len(*res.WordsResult))
	for _, w := range *res.WordsResult {
		lines = append(lines, w.Words)
	}
	return strings.Join(lines, "\n"), nil
}

// CheckAvailability reports whether a token can be obtained.
func (p *Baidu) CheckAvailability(ctx context.Context) bool {
	return p.Refresh(ctx) == nil
}
