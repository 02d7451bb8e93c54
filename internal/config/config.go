// Package config provides configuration management for the sniper application.
//
// This package handles loading configuration from environment variables,
// validating required settings, and providing sensible defaults for optional
// parameters. Configuration is loaded once at startup and passed by pointer
// into every component constructor. Nothing mutates it afterwards.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (highest priority)
//  2. External .env file next to the binary
//  3. Embedded .env file (fallback, included in binary)
//  4. Hard-coded defaults (lowest priority)
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"sniper/internal/errors"

	"github.com/joho/godotenv"
)

// embeddedEnv contains the .env file embedded at build time.
//
// The embedded file only carries template values. Applicant data must be
// supplied through the environment or an external .env.
//
//go:embed .env
var embeddedEnv string

// Mode is the captcha execution mode.
type Mode string

const (
	// ModeAuto never asks a human; unsolved captchas are skipped.
	ModeAuto Mode = "AUTO"
	// ModeManual skips OCR and relays every captcha to a human.
	ModeManual Mode = "MANUAL"
	// ModeHybrid tries OCR first and falls back to a human.
	ModeHybrid Mode = "HYBRID"
)

// ParseMode normalizes a mode name. Unknown names yield ok=false.
func ParseMode(s string) (Mode, bool) {
	switch Mode(strings.ToUpper(strings.TrimSpace(s))) {
	case ModeAuto:
		return ModeAuto, true
	case ModeManual:
		return ModeManual, true
	case ModeHybrid:
		return ModeHybrid, true
	}
	return "", false
}

// AllowsHuman reports whether captchas may be relayed to a human in this mode.
func (m Mode) AllowsHuman() bool {
	return m == ModeManual || m == ModeHybrid
}

// Applicant is the booking payload typed into the appointment form.
type Applicant struct {
	LastName  string
	FirstName string
	Email     string
	Passport  string
	Phone     string
	Purpose   string
}

// CaptchaConfig tunes the captcha controller and its providers.
type CaptchaConfig struct {
	Provider       string // ocr, 2captcha, capsolver or none
	OCRServerURL   string // ddddocr-style server base URL
	TwoCaptchaKey  string
	CapSolverKey   string
	CapSolverURL   string
	SolverTimeout  time.Duration
	Preprocess     bool // grayscale/upscale/threshold before OCR
	OCRRetries     int  // strategy calls per solve, longest result wins
	MinImageBytes  int  // images below this size are treated as black
	PreSolveTTL    time.Duration
	GarbageCodes   []string // literal codes served to poisoned sessions
	ManualEnabled  bool     // human relay fallback switch
	ManualTimeout  time.Duration
	FormAttempts   int // form-stage captcha budget
	ManualAttempts int // form-stage captcha budget in MANUAL mode
	ReloadWait     time.Duration // pause after asking for a new image
}

// SessionConfig bounds the lifetime of one browser session.
type SessionConfig struct {
	MaxAge               time.Duration
	MaxIdle              time.Duration
	Heartbeat            time.Duration
	MaxConsecutiveErrors int
	NetworkFailureLimit  int           // circuit breaker threshold
	FormMaxAge           time.Duration // form captcha loop aborts past this age
	PoisonCooldown       time.Duration // pause after a black captcha before rebirth
	AgingCooldown        time.Duration // pause after an 8-character captcha
}

// ScheduleConfig describes the daily release window of the target site.
type ScheduleConfig struct {
	Timezone       string
	AttackHour     int
	AttackWindow   time.Duration
	WarmupLead     time.Duration
	PreAttackLead  time.Duration
	PatrolSleepMin time.Duration
	PatrolSleepMax time.Duration
	WarmupSleep    time.Duration
	AttackSleepMin time.Duration
	AttackSleepMax time.Duration
}

// BrowserConfig configures the Chrome instances.
type BrowserConfig struct {
	Headless          bool
	BlockResources    bool
	NavigationTimeout time.Duration
	WaitTimeout       time.Duration
	ExtraFlags        []string
}

// LogConfig configures zap and the rotating log file.
type LogConfig struct {
	Level      string
	Format     string // console or json
	File       string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// Config holds all application configuration.
type Config struct {
	TargetURL        string
	Applicant        Applicant
	CategoryKeywords []string
	MonthOffsets     []int
	MonthAttempts    int
	SubmitAttempts   int

	ExecutionMode Mode

	Captcha  CaptchaConfig
	Session  SessionConfig
	Schedule ScheduleConfig
	Browser  BrowserConfig
	Log      LogConfig

	// Telegram configuration (optional)
	TelegramBotToken string
	TelegramChatID   string

	HealthCheckPort string
	EvidenceDir     string
	HTTPTimeout     time.Duration
	StatusInterval  time.Duration // periodic status push to Telegram, 0 disables

	Sessions int  // parallel sessions; above 1 the first one scouts
	DryRun   bool // stop right before the final booking submission
}

// Defaults used when the corresponding variable is unset.
var (
	defaultKeywords = []string{
		"Yemeni national", "national language", "student visa",
		"Student", "Studium", "Sprachkurs", "University", "Course",
	}
	defaultGarbageCodes = []string{"4333", "333", "444", "1111", "0000", "4444", "3333"}
	defaultMonthOffsets = []int{2, 3, 4, 5}
)

// LoadConfig loads configuration from environment variables with defaults.
//
// Loading process:
//  1. Parse embedded .env file and set as fallback environment variables
//  2. Try to load external .env file
//  3. Read environment variables and apply defaults
//  4. Validate that all required fields are present
//
// Returns:
//   - *Config: Fully populated configuration struct
//   - error: *errors.ConfigError if a required field is missing
func LoadConfig() (*Config, error) {
	envMap, err := godotenv.Unmarshal(embeddedEnv)
	if err == nil {
		for k, v := range envMap {
			if os.Getenv(k) == "" {
				os.Setenv(k, v)
			}
		}
	}

	_ = godotenv.Load()

	mode, ok := ParseMode(getEnvOrDefault("EXECUTION_MODE", string(ModeHybrid)))
	if !ok {
		mode = ModeHybrid
	}
	if getEnvBool("CAPTCHA_MANUAL_ONLY", false) {
		mode = ModeManual
	}

	cfg := &Config{
		TargetURL: os.Getenv("TARGET_URL"),
		Applicant: Applicant{
			LastName:  os.Getenv("LAST_NAME"),
			FirstName: os.Getenv("FIRST_NAME"),
			Email:     os.Getenv("EMAIL"),
			Passport:  os.Getenv("PASSPORT"),
			Phone:     os.Getenv("PHONE"),
			Purpose:   getEnvOrDefault("PURPOSE", "study"),
		},
		CategoryKeywords: getEnvList("TARGET_KEYWORDS", defaultKeywords),
		MonthOffsets:     getEnvIntList("MONTH_OFFSETS", defaultMonthOffsets),
		MonthAttempts:    getEnvInt("MAX_CAPTCHA_ATTEMPTS", 5),
		SubmitAttempts:   getEnvInt("SUBMIT_ATTEMPTS", 5),

		ExecutionMode: mode,

		Captcha: CaptchaConfig{
			Provider:       strings.ToLower(getEnvOrDefault("CAPTCHA_PROVIDER", "ocr")),
			OCRServerURL:   os.Getenv("OCR_SERVER_URL"),
			TwoCaptchaKey:  os.Getenv("TWOCAPTCHA_API_KEY"),
			CapSolverKey:   os.Getenv("CAPSOLVER_API_KEY"),
			CapSolverURL:   getEnvOrDefault("CAPSOLVER_URL", "https://api.capsolver.com"),
			SolverTimeout:  getEnvDuration("SOLVER_TIMEOUT", 30*time.Second),
			Preprocess:     getEnvBool("CAPTCHA_PREPROCESS", true),
			OCRRetries:     getEnvInt("OCR_RETRIES", 3),
			MinImageBytes:  getEnvInt("CAPTCHA_MIN_IMAGE_BYTES", 2000),
			PreSolveTTL:    getEnvDuration("PRESOLVE_TTL", 30*time.Second),
			GarbageCodes:   getEnvList("CAPTCHA_GARBAGE_CODES", defaultGarbageCodes),
			ManualEnabled:  getEnvBool("MANUAL_CAPTCHA", true),
			ManualTimeout:  getEnvDuration("MANUAL_CAPTCHA_TIMEOUT", 60*time.Second),
			FormAttempts:   getEnvInt("FORM_CAPTCHA_ATTEMPTS", 5),
			ManualAttempts: getEnvInt("FORM_CAPTCHA_ATTEMPTS_MANUAL", 1000),
			ReloadWait:     getEnvDuration("CAPTCHA_RELOAD_WAIT", 1500*time.Millisecond),
		},

		Session: SessionConfig{
			MaxAge:               getEnvDuration("SESSION_MAX_AGE", 300*time.Second),
			MaxIdle:              getEnvDuration("SESSION_MAX_IDLE", 12*time.Second),
			Heartbeat:            getEnvDuration("HEARTBEAT_INTERVAL", 8*time.Second),
			MaxConsecutiveErrors: getEnvInt("MAX_CONSECUTIVE_ERRORS", 3),
			NetworkFailureLimit:  getEnvInt("NETWORK_FAILURE_LIMIT", 2),
			FormMaxAge:           getEnvDuration("FORM_SESSION_MAX_AGE", 30*time.Minute),
			PoisonCooldown:       getEnvDuration("POISON_COOLDOWN", 120*time.Second),
			AgingCooldown:        getEnvDuration("AGING_COOLDOWN", 120*time.Second),
		},

		Schedule: ScheduleConfig{
			Timezone:       getEnvOrDefault("TIMEZONE", "Asia/Aden"),
			AttackHour:     getEnvInt("ATTACK_HOUR", 2),
			AttackWindow:   getEnvDuration("ATTACK_WINDOW", 2*time.Minute),
			WarmupLead:     getEnvDuration("WARMUP_LEAD", 15*time.Minute),
			PreAttackLead:  getEnvDuration("PRE_ATTACK_LEAD", 30*time.Second),
			PatrolSleepMin: getEnvDuration("PATROL_SLEEP_MIN", 10*time.Second),
			PatrolSleepMax: getEnvDuration("PATROL_SLEEP_MAX", 20*time.Second),
			WarmupSleep:    getEnvDuration("WARMUP_SLEEP", 5*time.Second),
			AttackSleepMin: getEnvDuration("ATTACK_SLEEP_MIN", 500*time.Millisecond),
			AttackSleepMax: getEnvDuration("ATTACK_SLEEP_MAX", 1500*time.Millisecond),
		},

		Browser: BrowserConfig{
			Headless:          getEnvBool("HEADLESS", true),
			BlockResources:    getEnvBool("BLOCK_RESOURCES", true),
			NavigationTimeout: getEnvDuration("NAVIGATION_TIMEOUT", 30*time.Second),
			WaitTimeout:       getEnvDuration("WAIT_TIMEOUT", 8*time.Second),
			ExtraFlags:        getEnvList("BROWSER_FLAGS", nil),
		},

		Log: LogConfig{
			Level:      getEnvOrDefault("LOG_LEVEL", "info"),
			Format:     getEnvOrDefault("LOG_FORMAT", "console"),
			File:       os.Getenv("LOG_FILE"),
			MaxSize:    getEnvInt("LOG_MAX_SIZE_MB", 20),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
			MaxAge:     getEnvInt("LOG_MAX_AGE_DAYS", 14),
			Compress:   getEnvBool("LOG_COMPRESS", true),
		},

		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   os.Getenv("TELEGRAM_CHAT_ID"),

		HealthCheckPort: getEnvOrDefault("HEALTH_CHECK_PORT", "8080"),
		EvidenceDir:     getEnvOrDefault("EVIDENCE_DIR", "evidence"),
		HTTPTimeout:     getEnvDuration("HTTP_TIMEOUT", 30*time.Second),
		StatusInterval:  getEnvDuration("STATUS_INTERVAL", 5*time.Minute),

		Sessions: getEnvInt("SESSIONS", 1),
		DryRun:   getEnvBool("DRY_RUN", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present and values are sensible.
//
// Validation rules:
//   - TARGET_URL and every applicant identity field must be non-empty
//   - Counts must be positive
//   - The schedule timezone must be loadable
func (c *Config) Validate() error {
	required := []struct {
		key   string
		value string
	}{
		{"TARGET_URL", c.TargetURL},
		{"LAST_NAME", c.Applicant.LastName},
		{"FIRST_NAME", c.Applicant.FirstName},
		{"EMAIL", c.Applicant.Email},
		{"PASSPORT", c.Applicant.Passport},
		{"PHONE", c.Applicant.Phone},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return errors.NewConfigError(r.key, "environment variable is required")
		}
	}

	if c.Sessions < 1 {
		return errors.NewConfigError("SESSIONS", fmt.Sprintf("must be at least 1, got %d", c.Sessions))
	}
	if c.MonthAttempts < 1 {
		return errors.NewConfigError("MAX_CAPTCHA_ATTEMPTS", fmt.Sprintf("must be at least 1, got %d", c.MonthAttempts))
	}
	if len(c.MonthOffsets) == 0 {
		return errors.NewConfigError("MONTH_OFFSETS", "at least one month offset is required")
	}
	if c.Schedule.AttackHour < 0 || c.Schedule.AttackHour > 23 {
		return errors.NewConfigError("ATTACK_HOUR", fmt.Sprintf("must be 0-23, got %d", c.Schedule.AttackHour))
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return errors.NewConfigError("TIMEZONE", err.Error())
	}

	switch c.Captcha.Provider {
	case "ocr", "none":
	case "2captcha":
		if c.Captcha.TwoCaptchaKey == "" {
			return errors.NewConfigError("TWOCAPTCHA_API_KEY", "required by the 2captcha provider")
		}
	case "capsolver":
		if c.Captcha.CapSolverKey == "" {
			return errors.NewConfigError("CAPSOLVER_API_KEY", "required by the capsolver provider")
		}
	default:
		return errors.NewConfigError("CAPTCHA_PROVIDER", fmt.Sprintf("unknown provider %q", c.Captcha.Provider))
	}

	return nil
}

// TelegramEnabled reports whether both Telegram settings are present.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != ""
}

// Helper functions for environment variable parsing

// getEnvOrDefault returns the environment variable value or a default if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as an integer or a default if not set/invalid
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool accepts the values strconv.ParseBool understands
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration returns the environment variable as a duration or a default if not set/invalid.
//
// Accepts standard Go duration strings like "5s", "10m", "1h30m"
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty items
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// getEnvIntList parses a comma-separated list of integers; any bad item
// falls back to the default list
func getEnvIntList(key string, defaultValue []int) []int {
	items := getEnvList(key, nil)
	if items == nil {
		return defaultValue
	}
	out := make([]int, 0, len(items))
	for _, item := range items {
		n, err := strconv.Atoi(item)
		if err != nil {
			return defaultValue
		}
		out = append(out, n)
	}
	return out
}
