package ocr

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/goccy/go-json"
)

// OCRSpaceEndpoint is the public OCR.space parse endpoint.
const OCRSpaceEndpoint = "https://api.ocr.space/parse/image"

// probePNG is a 1x1 transparent PNG used for availability checks.
var probePNG, _ = base64.StdEncoding.DecodeString(
	"iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg==")

// KeyPool hands out API keys round-robin. Every Next call advances the
// cursor by one, whatever the outcome of the request made with the key.
type KeyPool struct {
	mu     sync.Mutex
	keys   []string
	cursor int
}

// NewKeyPool returns a pool over keys, skipping blank ones.
func NewKeyPool(keys []string) *KeyPool {
	kp := &KeyPool{}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			kp.keys = append(kp.keys, k)
		}
	}
	return kp
}

// Next returns the key at the cursor and advances it.
func (kp *KeyPool) Next() (string, bool) {
	kp.mu.Lock()
	defer kp.mu.Unlock()
	if len(kp.keys) == 0 {
		return "", false
	}
	k := kp.keys[kp.cursor]
	kp.cursor = (kp.cursor + 1) % len(kp.keys)
	return k, true
}

// Len is the number of keys.
func (kp *KeyPool) Len() int {
	kp.mu.Lock()
	defer kp.mu.Unlock()
	return len(kp.keys)
}

func (kp *KeyPool) snapshot() []string {
	kp.mu.Lock()
	defer kp.mu.Unlock()
	return append([]string(nil), kp.keys...)
}

// OCRSpace is the key-pooled provider.
type OCRSpace struct {
	cfg  providerConfig
	keys *KeyPool
}

// NewOCRSpace creates the provider with its API keys.
func NewOCRSpace(keys []string, opts ...ProviderOption) *OCRSpace {
	return &OCRSpace{
		cfg:  newProviderConfig(OCRSpaceEndpoint, opts),
		keys: NewKeyPool(keys),
	}
}

func (p *OCRSpace) Name() string { return "ocr.space" }

type ocrSpaceResponse struct {
	OCRExitCode           int             `json:"OCRExitCode"`
	IsErroredOnProcessing bool            `json:"IsErroredOnProcessing"`
	ErrorMessage          json.RawMessage `json:"ErrorMessage"`
	ParsedResults         []struct {
		ParsedText string `json:"ParsedText"`
	} `json:"ParsedResults"`
}

// errorMessage flattens ErrorMessage, which the service sends either as a
// string or as a list of strings.
func (r *ocrSpaceResponse) errorMessage() string {
	if len(r.ErrorMessage) == 0 {
		return ""
	}
	var list []string
	if err := json.Unmarshal(r.ErrorMessage, &list); err == nil {
		return strings.Join(list, "; ")
	}
	var s string
	if err := json.Unmarshal(r.ErrorMessage, &s); err == nil {
		return s
	}
	return string(r.ErrorMessage)
}

func (p *OCRSpace) Recognize(ctx context.Context, image []byte) (string, error) {
	key, ok := p.keys.Next()
	if !ok {
		return "", fmt.Errorf("%w: no api keys configured", ErrProviderAuth)
	}
	return p.recognizeWithKey(ctx, key, image)
}

func (p *OCRSpace) recognizeWithKey(ctx context.Context, key string, image []byte) (string, error) {
	form := url.Values{
		"language":          {"chs"},
		"isOverlayRequired": {"false"},
		"detectOrientation": {"false"},
		"OCREngine":         {"2"},
		"scale":             {"true"},
		"filetype":          {"PNG"},
		"base64Image":       {"data:image/png;base64," + base64.StdEncoding.EncodeToString(image)},
	}
	req, err := http.NewRequest(http.MethodPost, p.cfg.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProviderTransport, err)
	}
	req.Header.Set("apikey", key)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var res ocrSpaceResponse
	if err := doJSON(ctx, p.cfg.client, req, &res); err != nil {
		return "", err
	}
	if res.IsErroredOnProcessing || res.OCRExitCode != 1 || len(res.ParsedResults) == 0 {
		msg := res.errorMessage()
		if msg == "" {
			msg = "unknown error"
		}
		return "", fmt.Errorf("%w: exit code %d: %s", ErrProviderRejected, res.OCRExitCode, msg)
	}
	return res.ParsedResults[0].ParsedText, nil
}

// CheckAvailability probes each key with a tiny image without moving the
// rotation cursor. The provider is available when any key works.
func (p *OCRSpace) CheckAvailability(ctx context.Context) bool {
	for _, key := range p.keys.snapshot() {
		if _, err := p.recognizeWithKey(ctx, key, probePNG); err == nil {
			return true
		}
	}
	return false
}
