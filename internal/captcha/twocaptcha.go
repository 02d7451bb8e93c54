package captcha

import (
	"context"
	"encoding/base64"
	"strconv"
	"time"

	"sniper/internal/errors"

	api2captcha "github.com/2captcha/2captcha-go"
)

// TwoCaptchaStrategy solves normal image captchas through 2captcha.
type TwoCaptchaStrategy struct {
	client *api2captcha.Client
}

// NewTwoCaptchaStrategy creates a 2captcha client polling every 2 seconds.
// timeout bounds the whole wait for an answer.
func NewTwoCaptchaStrategy(apiKey string, timeout time.Duration) *TwoCaptchaStrategy {
	client := api2captcha.NewClient(apiKey)
	if timeout > 0 {
		client.DefaultTimeout = int(timeout.Seconds())
	}
	client.PollingInterval = 2
	return &TwoCaptchaStrategy{client: client}
}

func (s *TwoCaptchaStrategy) Name() string { return "2captcha" }

// request builds the in.php parameters for a base64 image. The length
// hints are set as plain params; Normal.MinLen/MaxLen are not used.
func (s *TwoCaptchaStrategy) request(image []byte) api2captcha.Request {
	normal := api2captcha.Normal{Base64: base64.StdEncoding.EncodeToString(image)}
	req := normal.ToRequest()
	req.Params["method"] = "base64"
	req.Params["min_len"] = strconv.Itoa(4)
	req.Params["max_len"] = strconv.Itoa(8)
	return req
}

// Solve submits the image and waits for the answer or ctx cancellation.
// The library call itself is not cancellable, so it runs in a goroutine
// whose result is dropped when ctx ends first.
func (s *TwoCaptchaStrategy) Solve(ctx context.Context, image []byte) (string, error) {
	req := s.request(image)

	type result struct {
		code string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		code, err := s.client.Solve(req)
		done <- result{code: code, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", errors.NewSolverError(s.Name(), ctx.Err())
	case r := <-done:
		if r.err != nil {
			return "", errors.NewSolverError(s.Name(), r.err)
		}
		return r.code, nil
	}
}
