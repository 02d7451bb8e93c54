package captcha

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"sniper/internal/config"
	"sniper/internal/errors"

	"go.uber.org/zap"
)

// Strategy turns a captcha image into a best-effort text guess.
type Strategy interface {
	Name() string
	Solve(ctx context.Context, image []byte) (string, error)
}

// NewStrategy builds the strategy named by cfg.Provider.
//
// Returns nil (no automatic solving) for provider "none"; the controller
// then relies on the human relay. Preprocessing only wraps the local OCR
// server; remote solvers get the original image.
func NewStrategy(cfg config.CaptchaConfig, client *http.Client, logger *zap.Logger) (Strategy, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "ocr":
		var s Strategy = NewOCRStrategy(cfg.OCRServerURL, client)
		if cfg.Preprocess {
			s = &Preprocessed{Inner: s, logger: logger}
		}
		return s, nil
	case "2captcha":
		if cfg.TwoCaptchaKey == "" {
			return nil, errors.NewConfigError("TWOCAPTCHA_API_KEY", "required by the 2captcha provider")
		}
		return NewTwoCaptchaStrategy(cfg.TwoCaptchaKey, cfg.SolverTimeout), nil
	case "capsolver":
		if cfg.CapSolverKey == "" {
			return nil, errors.NewConfigError("CAPSOLVER_API_KEY", "required by the capsolver provider")
		}
		return NewCapSolverStrategy(cfg.CapSolverURL, cfg.CapSolverKey, client), nil
	case "none":
		return nil, nil
	}
	return nil, errors.NewConfigError("CAPTCHA_PROVIDER", fmt.Sprintf("unknown provider %q", cfg.Provider))
}
