package ocr

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"
)

const (
	YDOCREndpoint   = "http://cn-hangzhou.api.ydocr.com/ocr"
	YDOCRBalanceURL = "http://cn-hangzhou.ydocr.com/getBalance"
)

// YDOCR is the signed-request provider. Each request carries the MD5 of the
// body and a signature derived from it and the user credentials.
type YDOCR struct {
	cfg     providerConfig
	userID  string
	userKey string
}

// NewYDOCR creates the provider.
func NewYDOCR(userID, userKey string, opts ...ProviderOption) *YDOCR {
	cfg := newProviderConfig(YDOCREndpoint, opts)
	if cfg.balanceURL == "" {
		cfg.balanceURL = YDOCRBalanceURL
	}
	return &YDOCR{cfg: cfg, userID: userID, userKey: userKey}
}

func (p *YDOCR) Name() string { return "ydocr" }

func md5Hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// Sign returns md5(md5(bodyMD5 + userID + userKey)).
func Sign(bodyMD5, userID, userKey string) string {
	return md5Hex([]byte(md5Hex([]byte(bodyMD5 + userID + userKey))))
}

type ydocrResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    *struct {
		Text string `json:"text"`
	} `json:"data"`
}

func (p *YDOCR) Recognize(ctx context.Context, image []byte) (string, error) {
	bodyMD5 := md5Hex(image)
	q := url.Values{
		"userID":          {p.userID},
		"signature":       {Sign(bodyMD5, p.userID, p.userKey)},
		"signatureMethod": {"md5"},
		"bodyMD5":         {bodyMD5},
		"version":         {"v2"},
		"action":          {"page"},
		"language":        {"ch"},
		"rotate":          {"0"},
	}
	req, err := http.NewRequest(http.MethodPost, p.cfg.endpoint+"?"+q.Encode(), bytes.NewReader(image))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProviderTransport, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	var res ydocrResponse
	if err := doJSON(ctx, p.cfg.client, req, &res); err != nil {
		return "", err
	}
	if res.Code != 0 {
		msg := res.Message
		if msg == "" {
			msg = "unknown error"
		}
		return "", fmt.Errorf("%w: code %d: %s", ErrProviderRejected, res.Code, msg)
	}
	if res.Data == nil {
		return "", nil
	}
	return res.Data.Text, nil
}

// CheckAvailability queries the account balance endpoint.
func (p *YDOCR) CheckAvailability(ctx context.Context) bool {
	body, err := json.Marshal(map[string]string{
		"userID":          p.userID,
		"signature":       p.userKey,
		"signatureMethod": "secretKey",
	})
	if err != nil {
		return false
	}
	req, err := http.NewRequest(http.MethodPost, p.cfg.balanceURL, bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	var res ydocrResponse
	if err := doJSON(ctx, p.cfg.client, req, &res); err != nil {
		return false
	}
	return res.Code == 0
}
