package ocr

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestKeyPool_RotatesEveryCall(t *testing.T) {
	kp := NewKeyPool([]string{"k1", " ", "k2", "k3"})
	if kp.Len() != 3 {
		t.Fatalf("Len = %d, want 3 (blank keys dropped)", kp.Len())
	}
	want := []string{"k1", "k2", "k3", "k1", "k2"}
	for i, w := range want {
		got, ok := kp.Next()
		if !ok || got != w {
			t.Errorf("Next #%d = %q, want %q", i, got, w)
		}
	}

	if _, ok := NewKeyPool(nil).Next(); ok {
		t.Error("Next on an empty pool returned a key")
	}
}

func TestOCRSpace_Recognize(t *testing.T) {
	var (
		mu   sync.Mutex
		keys []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		mu.Lock()
		keys = append(keys, r.Header.Get("apikey"))
		mu.Unlock()

		if r.PostForm.Get("language") != "chs" || r.PostForm.Get("OCREngine") != "2" {
			t.Errorf("unexpected form: %v", r.PostForm)
		}
		wantImage := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("png-bytes"))
		if r.PostForm.Get("base64Image") != wantImage {
			t.Errorf("base64Image = %q", r.PostForm.Get("base64Image"))
		}

		if r.Header.Get("apikey") == "bad" {
			writeJSON(w, map[string]any{"OCRExitCode": 99, "ErrorMessage": []string{"Invalid API key", "try again"}})
			return
		}
		writeJSON(w, map[string]any{
			"OCRExitCode":   1,
			"ParsedResults": []map[string]any{{"ParsedText": "支付宝 转账成功"}},
		})
	}))
	defer srv.Close()

	p := NewOCRSpace([]string{"good", "bad"}, WithEndpoint(srv.URL))
	ctx := context.Background()

	text, err := p.Recognize(ctx, []byte("png-bytes"))
	if err != nil || text != "支付宝 转账成功" {
		t.Fatalf("Recognize #1 = %q, %v", text, err)
	}

	_, err = p.Recognize(ctx, []byte("png-bytes"))
	if !errors.Is(err, ErrProviderRejected) {
		t.Fatalf("Recognize #2 error = %v, want ErrProviderRejected", err)
	}
	if !strings.Contains(err.Error(), "Invalid API key; try again") {
		t.Errorf("error message = %q, want flattened ErrorMessage list", err)
	}

	if _, err := p.Recognize(ctx, []byte("png-bytes")); err != nil {
		t.Errorf("Recognize #3 (back to first key) error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if got := strings.Join(keys, ","); got != "good,bad,good" {
		t.Errorf("keys used = %s, want good,bad,good", got)
	}
}

func TestOCRSpace_HTTPErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"forbidden", http.StatusForbidden, ErrProviderAuth},
		{"server error", http.StatusBadGateway, ErrProviderTransport},
		{"bad request", http.StatusBadRequest, ErrProviderRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := NewOCRSpace([]string{"k"}, WithEndpoint(srv.URL)).Recognize(context.Background(), []byte("x"))
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestOCRSpace_CheckAvailabilityKeepsCursor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") == "k2" {
			writeJSON(w, map[string]any{"OCRExitCode": 1, "ParsedResults": []map[string]any{{"ParsedText": ""}}})
			return
		}
		writeJSON(w, map[string]any{"OCRExitCode": 99, "ErrorMessage": "nope"})
	}))
	defer srv.Close()

	p := NewOCRSpace([]string{"k1", "k2"}, WithEndpoint(srv.URL))
	if !p.CheckAvailability(context.Background()) {
		t.Error("CheckAvailability = false, want true (k2 works)")
	}
	if k, _ := p.keys.Next(); k != "k1" {
		t.Errorf("cursor moved by availability probe: next key = %s", k)
	}
}

// baiduServer serves both the token and the recognition endpoint.
type baiduServer struct {
	tokens    atomic.Int32
	ocrCalls  atomic.Int32
	goodToken string // the only token the OCR endpoint accepts; "" accepts none
}

func (b *baiduServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/2.0/token", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.Form.Get("grant_type") != "client_credentials" || r.Form.Get("client_id") != "api-key" {
			t.Errorf("unexpected token request: %v", r.Form)
		}
		n := b.tokens.Add(1)
		writeJSON(w, map[string]any{
			"access_token": "tok-" + string(rune('0'+n)),
			"expires_in":   2592000,
		})
	})
	mux.HandleFunc("/ocr", func(w http.ResponseWriter, r *http.Request) {
		b.ocrCalls.Add(1)
		r.ParseForm()
		if r.URL.Query().Get("access_token") != b.goodToken || b.goodToken == "" {
			writeJSON(w, map[string]any{"error_code": 110, "error_msg": "Access token invalid or no longer valid"})
			return
		}
		if r.PostForm.Get("image") != base64.StdEncoding.EncodeToString([]byte("img")) {
			t.Errorf("image field = %q", r.PostForm.Get("image"))
		}
		writeJSON(w, map[string]any{
			"words_result":     []map[string]string{{"words": "第一行"}, {"words": "第二行"}},
			"words_result_num": 2,
		})
	})
	return mux
}

func TestBaidu_RefreshAfterInvalidToken(t *testing.T) {
	bs := &baiduServer{goodToken: "tok-2"}
	srv := httptest.NewServer(bs.handler(t))
	defer srv.Close()

	p := NewBaidu("api-key", "secret", WithEndpoint(srv.URL+"/ocr"), WithTokenURL(srv.URL+"/oauth/2.0/token"))
	res := NewResolver([]Provider{p}).Recognize(context.Background(), []byte("img"))

	if res.Text != "第一行\n第二行" {
		t.Fatalf("Recognize = %+v, want joined words", res)
	}
	if n := bs.tokens.Load(); n != 2 {
		t.Errorf("token exchanges = %d, want 2 (initial + one refresh)", n)
	}
	if n := bs.ocrCalls.Load(); n != 2 {
		t.Errorf("ocr calls = %d, want 2", n)
	}

	// The refreshed token is cached for the next image.
	NewResolver([]Provider{p}).Recognize(context.Background(), []byte("img"))
	if n := bs.tokens.Load(); n != 2 {
		t.Errorf("token exchanges after second image = %d, want cached token reused", n)
	}
}

func TestBaidu_RetriesOnlyOnce(t *testing.T) {
	bs := &baiduServer{}
	srv := httptest.NewServer(bs.handler(t))
	defer srv.Close()

	p := NewBaidu("api-key", "secret", WithEndpoint(srv.URL+"/ocr"), WithTokenURL(srv.URL+"/oauth/2.0/token"))
	res := NewResolver([]Provider{p}).Recognize(context.Background(), []byte("img"))

	if res.Text != "" {
		t.Errorf("Text = %q, want empty", res.Text)
	}
	if n := bs.ocrCalls.Load(); n != 2 {
		t.Errorf("ocr calls = %d, want exactly 2", n)
	}
	if !strings.Contains(res.Diagnostics, "baidu:") {
		t.Errorf("Diagnostics = %q", res.Diagnostics)
	}
}

func TestBaidu_OtherErrorsAreRejections(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"access_token": "t", "expires_in": 3600})
	})
	mux.HandleFunc("/ocr", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"error_code": 17, "error_msg": "Open api daily request limit reached"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewBaidu("k", "s", WithEndpoint(srv.URL+"/ocr"), WithTokenURL(srv.URL+"/token"))
	_, err := p.Recognize(context.Background(), []byte("img"))
	if !errors.Is(err, ErrProviderRejected) {
		t.Errorf("error = %v, want ErrProviderRejected", err)
	}
	if !p.CheckAvailability(context.Background()) {
		t.Error("CheckAvailability = false with a working token endpoint")
	}
}

func TestBaidu_TokenEndpointDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":"invalid_client","error_description":"unknown client id"}`)
	}))
	defer srv.Close()

	p := NewBaidu("k", "s", WithEndpoint(srv.URL), WithTokenURL(srv.URL))
	if _, err := p.Recognize(context.Background(), []byte("img")); !errors.Is(err, ErrProviderAuth) {
		t.Errorf("error = %v, want ErrProviderAuth", err)
	}
	if p.CheckAvailability(context.Background()) {
		t.Error("CheckAvailability = true without a token")
	}
}

func TestSign(t *testing.T) {
	inner := md5Hex([]byte("bodyuserkey"))
	want := md5Hex([]byte(inner))
	if got := Sign("body", "user", "key"); got != want {
		t.Errorf("Sign = %s, want %s", got, want)
	}
	if got := md5Hex([]byte("abc")); got != "900150983cd24fb0d6963f7d28e17f72" {
		t.Errorf("md5Hex(abc) = %s", got)
	}
}

func TestYDOCR_Recognize(t *testing.T) {
	image := []byte("raw-image")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		body, _ := io.ReadAll(r.Body)
		bodyMD5 := md5Hex(body)

		if q.Get("bodyMD5") != bodyMD5 || q.Get("signature") != Sign(bodyMD5, "uid", "ukey") {
			writeJSON(w, map[string]any{"code": 401, "message": "signature mismatch"})
			return
		}
		if q.Get("version") != "v2" || q.Get("action") != "page" || q.Get("signatureMethod") != "md5" {
			t.Errorf("unexpected query: %v", q)
		}
		writeJSON(w, map[string]any{"code": 0, "data": map[string]string{"text": "识别结果"}})
	}))
	defer srv.Close()

	text, err := NewYDOCR("uid", "ukey", WithEndpoint(srv.URL)).Recognize(context.Background(), image)
	if err != nil || text != "识别结果" {
		t.Errorf("Recognize = %q, %v", text, err)
	}

	_, err = NewYDOCR("uid", "wrong", WithEndpoint(srv.URL)).Recognize(context.Background(), image)
	if !errors.Is(err, ErrProviderRejected) || !strings.Contains(err.Error(), "signature mismatch") {
		t.Errorf("Recognize with bad key error = %v", err)
	}
}

func TestYDOCR_CheckAvailability(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["signatureMethod"] != "secretKey" {
			t.Errorf("signatureMethod = %q", body["signatureMethod"])
		}
		code := 0
		if body["signature"] != "ukey" {
			code = 1
		}
		writeJSON(w, map[string]any{"code": code})
	}))
	defer srv.Close()

	if !NewYDOCR("uid", "ukey", WithBalanceURL(srv.URL)).CheckAvailability(context.Background()) {
		t.Error("CheckAvailability = false for valid credentials")
	}
	if NewYDOCR("uid", "nope", WithBalanceURL(srv.URL)).CheckAvailability(context.Background()) {
		t.Error("CheckAvailability = true for invalid credentials")
	}
}
