package captcha

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"sniper/internal/api"
	"sniper/internal/errors"
)

// OCRStrategy calls a local ddddocr-style HTTP server.
type OCRStrategy struct {
	endpoint string
	client   *http.Client
}

// ocrResponse is the server's reply: {"code":200,"message":"Success","data":"ab12cd"}.
type ocrResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

// NewOCRStrategy creates a strategy posting to {baseURL}/ocr. A nil client
// uses the shared API client.
func NewOCRStrategy(baseURL string, client *http.Client) *OCRStrategy {
	return &OCRStrategy{
		endpoint: strings.TrimRight(baseURL, "/") + "/ocr",
		client:   client,
	}
}

func (s *OCRStrategy) Name() string { return "ocr" }

// Solve posts the base64 image and returns the recognized text.
func (s *OCRStrategy) Solve(ctx context.Context, image []byte) (string, error) {
	form := url.Values{}
	form.Set("image", base64.StdEncoding.EncodeToString(image))
	form.Set("probability", "false")
	form.Set("png_fix", "false")

	var resp ocrResponse
	if err := api.PostForm(ctx, s.client, s.endpoint, form, &resp); err != nil {
		return "", errors.NewSolverError(s.Name(), err)
	}
	if resp.Code != http.StatusOK {
		return "", errors.NewSolverError(s.Name(), fmt.Errorf("code %d: %s", resp.Code, resp.Message))
	}
	return resp.Data, nil
}
