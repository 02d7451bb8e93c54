package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"sniper/internal/config"
	"sniper/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestOCRStrategy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ocr", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.NotEmpty(t, r.PostForm.Get("image"))
		assert.Equal(t, "false", r.PostForm.Get("probability"))
		w.Write([]byte(`{"code":200,"message":"Success","data":"ab12cd"}`))
	}))
	defer server.Close()

	s := NewOCRStrategy(server.URL+"/", server.Client())
	text, err := s.Solve(context.Background(), goodImage())
	require.NoError(t, err)
	assert.Equal(t, "ab12cd", text)
}

func TestOCRStrategyErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{"error code", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"code":500,"message":"model not loaded","data":""}`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			_, err := NewOCRStrategy(server.URL, server.Client()).Solve(context.Background(), goodImage())
			require.Error(t, err)
			assert.True(t, errors.IsSolver(err))
		})
	}
}

func TestCapSolverReadyOnCreate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/createTask", r.URL.Path)
		var req capSolverCreateRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "key", req.ClientKey)
		assert.Equal(t, "ImageToTextTask", req.Task.Type)
		assert.NotEmpty(t, req.Task.Body)
		w.Write([]byte(`{"errorId":0,"status":"ready","solution":{"text":"xy34zw"}}`))
	}))
	defer server.Close()

	text, err := NewCapSolverStrategy(server.URL, "key", server.Client()).Solve(context.Background(), goodImage())
	require.NoError(t, err)
	assert.Equal(t, "xy34zw", text)
}

func TestCapSolverPolls(t *testing.T) {
	var polls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/createTask":
			w.Write([]byte(`{"errorId":0,"taskId":"t-1","status":"processing"}`))
		case "/getTaskResult":
			if atomic.AddInt32(&polls, 1) < 2 {
				w.Write([]byte(`{"errorId":0,"status":"processing"}`))
				return
			}
			w.Write([]byte(`{"errorId":0,"status":"ready","solution":{"text":"pq56rs"}}`))
		}
	}))
	defer server.Close()

	s := NewCapSolverStrategy(server.URL, "key", server.Client())
	s.pollEvery = time.Millisecond

	text, err := s.Solve(context.Background(), goodImage())
	require.NoError(t, err)
	assert.Equal(t, "pq56rs", text)
	assert.Equal(t, int32(2), atomic.LoadInt32(&polls))
}

func TestCapSolverAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errorId":1,"errorCode":"ERROR_KEY_DENIED_ACCESS","errorDescription":"bad key"}`))
	}))
	defer server.Close()

	_, err := NewCapSolverStrategy(server.URL, "key", server.Client()).Solve(context.Background(), goodImage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERROR_KEY_DENIED_ACCESS")
}

func TestNewStrategy(t *testing.T) {
	logger := zaptest.NewLogger(t)
	tests := []struct {
		name     string
		cfg      config.CaptchaConfig
		wantName string
		wantErr  bool
	}{
		{"default ocr", config.CaptchaConfig{OCRServerURL: "http://127.0.0.1:9898"}, "ocr", false},
		{"preprocessed ocr", config.CaptchaConfig{Provider: "ocr", Preprocess: true}, "ocr+prep", false},
		{"2captcha", config.CaptchaConfig{Provider: "2captcha", TwoCaptchaKey: "k"}, "2captcha", false},
		{"2captcha never preprocessed", config.CaptchaConfig{Provider: "2captcha", TwoCaptchaKey: "k", Preprocess: true}, "2captcha", false},
		{"2captcha without key", config.CaptchaConfig{Provider: "2captcha"}, "", true},
		{"capsolver", config.CaptchaConfig{Provider: "capsolver", CapSolverKey: "k"}, "capsolver", false},
		{"capsolver never preprocessed", config.CaptchaConfig{Provider: "capsolver", CapSolverKey: "k", Preprocess: true}, "capsolver", false},
		{"none", config.CaptchaConfig{Provider: "none"}, "", false},
		{"unknown", config.CaptchaConfig{Provider: "magic"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewStrategy(tt.cfg, nil, logger)
			if tt.wantErr {
				assert.True(t, errors.IsConfigError(err), "got %v", err)
				return
			}
			require.NoError(t, err)
			if tt.wantName == "" {
				assert.Nil(t, s)
				return
			}
			assert.Equal(t, tt.wantName, s.Name())
		})
	}
}

func noisyPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(3))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(100 + rng.Intn(60))
			img.Set(x, y, color.RGBA{R: v, G: v / 2, B: v, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPreprocess(t *testing.T) {
	out, err := Preprocess(noisyPNG(t, 100, 40))
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 100*upscaleFactor+2*canvasPadding, img.Bounds().Dx())
	assert.Equal(t, 40*upscaleFactor+2*canvasPadding, img.Bounds().Dy())

	for _, p := range []image.Point{{0, 0}, {20, 20}, {110, 50}} {
		r, g, b, _ := img.At(p.X, p.Y).RGBA()
		assert.True(t, r == g && g == b, "binarized output is gray")
		assert.True(t, r < 0x1000 || r > 0xf000, "binarized output is black or white")
	}

	_, err = Preprocess([]byte("not an image"))
	assert.Error(t, err)
}

func TestPreprocessedFallsBackOnBadImage(t *testing.T) {
	inner := &fakeStrategy{answers: []string{"ab12cd"}}
	p := &Preprocessed{Inner: inner}

	text, err := p.Solve(context.Background(), []byte("raw bytes"))
	require.NoError(t, err)
	assert.Equal(t, "ab12cd", text)
	assert.Equal(t, 1, inner.Calls())
}

func TestTwoCaptchaStrategy(t *testing.T) {
	var polls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		switch r.URL.Path {
		case "/in.php":
			assert.Equal(t, "k-123", r.Form.Get("key"))
			assert.Equal(t, "base64", r.Form.Get("method"))
			assert.NotEmpty(t, r.Form.Get("body"))
			assert.Equal(t, "4", r.Form.Get("min_len"))
			assert.Equal(t, "8", r.Form.Get("max_len"))
			w.Write([]byte("OK|7231"))
		case "/res.php":
			assert.Equal(t, "7231", r.Form.Get("id"))
			if atomic.AddInt32(&polls, 1) == 1 {
				w.Write([]byte("CAPCHA_NOT_READY"))
				return
			}
			w.Write([]byte("OK|ab12cd"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	s := newLocalTwoCaptcha(t, server.URL)
	text, err := s.Solve(context.Background(), goodImage())
	require.NoError(t, err)
	assert.Equal(t, "ab12cd", text)
	assert.Equal(t, int32(2), atomic.LoadInt32(&polls))
}

func TestTwoCaptchaStrategyAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ERROR_ZERO_BALANCE"))
	}))
	defer server.Close()

	_, err := newLocalTwoCaptcha(t, server.URL).Solve(context.Background(), goodImage())
	require.Error(t, err)
	assert.True(t, errors.IsSolver(err))
}

func TestTwoCaptchaStrategyHonoursContext(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte("ERROR_ZERO_BALANCE"))
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := newLocalTwoCaptcha(t, server.URL).Solve(ctx, goodImage())
	require.Error(t, err)
	assert.True(t, errors.IsSolver(err))
}

func newLocalTwoCaptcha(t *testing.T, base string) *TwoCaptchaStrategy {
	t.Helper()
	s := NewTwoCaptchaStrategy("k-123", 5*time.Second)
	u, err := url.Parse(base)
	require.NoError(t, err)
	s.client.BaseURL = u
	s.client.PollingInterval = 0
	return s
}
