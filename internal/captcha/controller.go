package captcha

import (
	"context"
	"sync"
	"time"

	"sniper/internal/config"

	"go.uber.org/zap"
)

// Result is the outcome of one solve call. Code is empty unless the
// result may be submitted.
type Result struct {
	Code    string
	Status  Status
	Source  string // strategy name, "human" or "cache"
	Elapsed time.Duration
}

// OK reports whether Code can be typed into the page.
func (r Result) OK() bool { return r.Code != "" }

// preSolved is a code solved ahead of need. It is only valid for the
// session and page it was read from: any navigation serves a new image.
type preSolved struct {
	url    string
	code   string
	status Status
	at     time.Time
}

// Controller orchestrates strategies, validation and the human relay.
//
// It is shared by every session of the process; the execution mode and
// the per-session pre-solved cache are guarded by mu.
type Controller struct {
	cfg       config.CaptchaConfig
	validator *Validator
	strategy  Strategy   // nil when no automatic solver is configured
	relay     HumanRelay // nil when no human channel is available
	logger    *zap.Logger
	now       func() time.Time

	reloadPause time.Duration
	retryPause  time.Duration

	mu   sync.Mutex
	mode config.Mode
	pre  map[string]preSolved // by session ID
}

// NewController creates a controller.
//
// Parameters:
//   - cfg: thresholds, attempts and relay settings
//   - mode: initial execution mode, switchable with SetMode
//   - strategy: automatic solver, may be nil
//   - relay: human channel, may be nil
//   - logger: base logger
func NewController(cfg config.CaptchaConfig, mode config.Mode, strategy Strategy, relay HumanRelay, logger *zap.Logger) *Controller {
	if cfg.OCRRetries < 1 {
		cfg.OCRRetries = 1
	}
	return &Controller{
		cfg:         cfg,
		validator:   NewValidator(cfg.GarbageCodes),
		strategy:    strategy,
		relay:       relay,
		logger:      logger.Named("captcha"),
		now:         time.Now,
		reloadPause: cfg.ReloadWait,
		retryPause:  100 * time.Millisecond,
		mode:        mode,
		pre:         make(map[string]preSolved),
	}
}

// Mode returns the current execution mode.
func (c *Controller) Mode() config.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetMode switches the execution mode for all subsequent solves.
func (c *Controller) SetMode(mode config.Mode) {
	c.mu.Lock()
	c.mode = mode
	c.mu.Unlock()
	c.logger.Info("  ✓ Execution mode switched", zap.String("mode", string(mode)))
}

// Validator exposes the validator for callers that check codes directly.
func (c *Controller) Validator() *Validator { return c.validator }

// Solve turns an image into a submittable code. It never returns an
// error; every failure is reported through Result.Status.
//
// Flow:
//  1. Images below MinImageBytes are BLACK_IMAGE; no solver is called
//  2. Outside MANUAL mode, run the strategy and validate its output
//  3. BLACK_DETECTED ends here: the session is poisoned
//  4. AUTO mode returns AUTO_SKIP_<status>
//  5. Otherwise ask the human relay and wait up to ManualTimeout
func (c *Controller) Solve(ctx context.Context, image []byte, req Request) Result {
	start := c.now()
	log := c.logger.With(zap.String("location", req.Location))
	mode := c.Mode()

	if len(image) < c.cfg.MinImageBytes {
		log.Error("⛔ Black captcha image, session poisoned", zap.Int("bytes", len(image)))
		return Result{Status: StatusBlackImage, Elapsed: c.now().Sub(start)}
	}

	status := StatusManualRequired
	source := "human"
	if mode != config.ModeManual {
		var code string
		code, status, source = c.solveAutomatic(ctx, image, req.Location)
		if code != "" {
			log.Info("  ✓ Captcha solved", zap.String("code", code), zap.String("status", string(status)), zap.String("source", source))
			return Result{Code: code, Status: status, Source: source, Elapsed: c.now().Sub(start)}
		}
	} else {
		log.Info("  → Manual mode, skipping OCR")
	}

	if status == StatusBlackDetected || status == StatusBlackImage {
		return Result{Status: status, Source: source, Elapsed: c.now().Sub(start)}
	}

	if !mode.AllowsHuman() {
		log.Warn("  ⚠️ OCR failed and mode is AUTO, skipping manual", zap.String("status", string(status)))
		return Result{Status: AutoSkip(status), Source: source, Elapsed: c.now().Sub(start)}
	}

	if c.relay == nil || !c.cfg.ManualEnabled {
		log.Warn("  ⚠️ No human relay available", zap.String("status", string(status)))
		return Result{Status: status, Source: source, Elapsed: c.now().Sub(start)}
	}

	log.Info("  → Requesting manual solution", zap.Duration("timeout", c.cfg.ManualTimeout))
	reply, err := c.relay.RequestSolution(ctx, image, req.caption(c.cfg.ManualTimeout), c.cfg.ManualTimeout)
	if err != nil {
		log.Warn("  ✗ Human relay failed", zap.Error(err))
		return Result{Status: StatusManualTimeout, Source: "human", Elapsed: c.now().Sub(start)}
	}
	code, ok := NormalizeReply(reply)
	if !ok {
		log.Warn("  ✗ Manual solve timed out or reply rejected", zap.String("reply", reply))
		return Result{Status: StatusManualTimeout, Source: "human", Elapsed: c.now().Sub(start)}
	}

	log.Info("  ✓ Using manual solution", zap.String("code", code))
	return Result{Code: code, Status: StatusManual, Source: "human", Elapsed: c.now().Sub(start)}
}

// solveAutomatic calls the strategy up to OCRRetries times, keeps the
// longest cleaned answer and stops early once it reaches nominal length.
func (c *Controller) solveAutomatic(ctx context.Context, image []byte, location string) (string, Status, string) {
	if c.strategy == nil {
		return "", StatusNoStrategy, ""
	}
	name := c.strategy.Name()

	best := ""
	var lastErr error
	for attempt := 1; attempt <= c.cfg.OCRRetries; attempt++ {
		text, err := c.strategy.Solve(ctx, image)
		if err != nil {
			lastErr = err
			c.logger.Debug("  ⚠️ Strategy call failed",
				zap.String("location", location),
				zap.String("strategy", name),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		} else if cleaned := Clean(text); len(cleaned) > len(best) {
			best = cleaned
		}

		if len(best) >= NominalLength || ctx.Err() != nil {
			break
		}
		if attempt < c.cfg.OCRRetries {
			if !sleepCtx(ctx, c.retryPause) {
				break
			}
		}
	}

	if best == "" && lastErr != nil {
		c.logger.Warn("  ✗ Solver error", zap.String("location", location), zap.Error(lastErr))
		return "", StatusSolverError, name
	}

	code, ok, status := c.validator.Validate(best)
	if !ok {
		c.logger.Warn("  ⚠️ Invalid captcha result",
			zap.String("location", location),
			zap.String("text", best),
			zap.String("status", string(status)),
		)
		return "", status, name
	}
	return code, status, name
}

// storePreSolved caches a code for sessionID's page at url for PreSolveTTL.
func (c *Controller) storePreSolved(sessionID, url, code string, status Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pre[sessionID] = preSolved{url: url, code: code, status: status, at: c.now()}
}

// PreSolved consumes the code cached for sessionID if it was solved on url
// and has not expired. Entries of other sessions are left alone.
func (c *Controller) PreSolved(sessionID, url string) (string, Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pre, ok := c.pre[sessionID]
	if !ok {
		return "", "", false
	}
	delete(c.pre, sessionID)
	if pre.url != url {
		c.logger.Debug("  → Pre-solved captcha belongs to another page", zap.String("url", pre.url))
		return "", "", false
	}
	if c.now().Sub(pre.at) > c.cfg.PreSolveTTL {
		c.logger.Warn("  ⚠️ Pre-solved captcha expired")
		return "", "", false
	}
	return pre.code, pre.status, true
}

// HasPreSolved reports whether a fresh code for sessionID on url is
// waiting, without consuming it.
func (c *Controller) HasPreSolved(sessionID, url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	pre, ok := c.pre[sessionID]
	return ok && pre.url == url && c.now().Sub(pre.at) <= c.cfg.PreSolveTTL
}

// ClearPreSolved drops the code cached for sessionID. Called whenever the
// session's page shows a new image.
func (c *Controller) ClearPreSolved(sessionID string) {
	c.mu.Lock()
	delete(c.pre, sessionID)
	c.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
