// Package telegram provides the Telegram bot integration for the sniper.
//
// This package handles:
//   - Sending notifications, screenshots and documents
//   - Relaying captchas to a human and waiting for the typed answer
//   - Receiving operator commands over long polling
//
// Architecture:
//   - Client: bot token, chat ID, rate limiter and the reply queue
//   - Update handler: background goroutine for long polling
//   - Command router: maps slash commands and keyboard buttons to hooks
//   - Everything else typed in the configured chat is a captcha reply
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"sniper/internal/api"
	"sniper/internal/config"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultAPIBase = "https://api.telegram.org"
	maxCaption     = 1024
	// Long polling needs 30s poll plus transport overhead.
	httpTimeout = 60 * time.Second
)

// Client represents a Telegram bot client.
//
// Thread-safety:
//   - Sends are serialized through the rate limiter
//   - The reply queue is a buffered channel fed by the update handler
//   - Safe for concurrent use by every session runner
//
// Fields:
//   - BotToken: Telegram bot API token
//   - ChatID: the only chat that may send commands and replies
type Client struct {
	BotToken string
	ChatID   string

	apiBase     string
	http        *http.Client
	limiter     *rate.Limiter
	logger      *zap.Logger
	pollTimeout int
	retryDelay  time.Duration

	replies   chan string
	relaySlot chan struct{} // one captcha in front of the human at a time
}

// Message represents a Telegram message for sending.
type Message struct {
	ChatID      string      `json:"chat_id"`
	Text        string      `json:"text"`
	ParseMode   string      `json:"parse_mode,omitempty"`
	ReplyMarkup interface{} `json:"reply_markup,omitempty"`
}

// ReplyKeyboardMarkup is the persistent operator keyboard.
type ReplyKeyboardMarkup struct {
	Keyboard        [][]KeyboardButton `json:"keyboard"`
	ResizeKeyboard  bool               `json:"resize_keyboard"`
	IsPersistent    bool               `json:"is_persistent"`
	OneTimeKeyboard bool               `json:"one_time_keyboard"`
}

// KeyboardButton is one key of the reply keyboard.
type KeyboardButton struct {
	Text string `json:"text"`
}

// Update represents a Telegram update from getUpdates.
type Update struct {
	UpdateID int              `json:"update_id"`
	Message  *IncomingMessage `json:"message,omitempty"`
}

// IncomingMessage represents a received Telegram message.
type IncomingMessage struct {
	MessageID int    `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      *Chat  `json:"chat,omitempty"`
	Text      string `json:"text"`
}

// Chat represents a Telegram chat.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// User represents a Telegram user.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username,omitempty"`
}

// apiResponse is the envelope of every Bot API answer.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

// NewClient creates a Telegram client from the configuration.
//
// Returns:
//   - *Client: configured client, or nil if the token or chat ID is missing
func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	if !cfg.TelegramEnabled() {
		logger.Warn("⚠️  TELEGRAM_BOT_TOKEN or TELEGRAM_CHAT_ID not set. Telegram disabled.",
			zap.Bool("token_set", cfg.TelegramBotToken != ""),
			zap.Bool("chat_set", cfg.TelegramChatID != ""),
		)
		return nil
	}

	logger.Info("✓ Telegram configured successfully")
	return &Client{
		BotToken:    cfg.TelegramBotToken,
		ChatID:      cfg.TelegramChatID,
		apiBase:     defaultAPIBase,
		http:        api.NewHTTPClient(httpTimeout),
		limiter:     rate.NewLimiter(rate.Every(time.Second), 1),
		logger:      logger.Named("telegram"),
		pollTimeout: 30,
		retryDelay:  5 * time.Second,
		replies:     make(chan string, 8),
		relaySlot:   make(chan struct{}, 1),
	}
}

func (c *Client) endpoint(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.apiBase, c.BotToken, method)
}

// doRequest posts a JSON payload to a Bot API method.
//
// Parameters:
//   - method: Telegram API method name (e.g., "sendMessage")
//   - payload: request payload (JSON marshaled)
//
// Returns:
//   - json.RawMessage: the "result" field of the answer
//   - error: transport error or API error with its description
func (c *Client) doRequest(ctx context.Context, method string, payload interface{}) (json.RawMessage, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(method), bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

// doMultipart uploads one file with form fields (sendPhoto, sendDocument).
func (c *Client) doMultipart(ctx context.Context, method, field, filename string, data []byte, fields map[string]string) (json.RawMessage, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(method), &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.do(req)
}

func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var result apiResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response (HTTP %d): %w", resp.StatusCode, err)
	}
	if !result.OK {
		return nil, fmt.Errorf("telegram API error: %s", result.Description)
	}
	return result.Result, nil
}

// SendMessage sends a plain text message to the configured chat.
func (c *Client) SendMessage(ctx context.Context, text string) error {
	if c == nil {
		return nil
	}
	return c.send(ctx, Message{ChatID: c.ChatID, Text: text})
}

// SendKeyboard sends text together with the operator keyboard.
func (c *Client) SendKeyboard(ctx context.Context, text string) error {
	if c == nil {
		return nil
	}
	return c.send(ctx, Message{ChatID: c.ChatID, Text: text, ReplyMarkup: operatorKeyboard()})
}

func (c *Client) send(ctx context.Context, msg Message) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := c.doRequest(ctx, "sendMessage", msg)
	return err
}

// SendPhoto uploads a PNG with a caption.
//
// Captions longer than Telegram's limit are cut.
func (c *Client) SendPhoto(ctx context.Context, image []byte, caption string) error {
	if c == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := c.doMultipart(ctx, "sendPhoto", "photo", "image.png", image, map[string]string{
		"chat_id": c.ChatID,
		"caption": clip(caption, maxCaption),
	})
	return err
}

// SendDocument uploads an arbitrary file (HTML dumps, stats JSON).
func (c *Client) SendDocument(ctx context.Context, data []byte, filename, caption string) error {
	if c == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := c.doMultipart(ctx, "sendDocument", "document", filename, data, map[string]string{
		"chat_id": c.ChatID,
		"caption": clip(caption, maxCaption),
	})
	return err
}

// getUpdates long-polls for new messages after offset.
func (c *Client) getUpdates(ctx context.Context, offset int) ([]Update, error) {
	payload := map[string]interface{}{
		"offset":          offset,
		"timeout":         c.pollTimeout,
		"allowed_updates": []string{"message"},
	}

	raw, err := c.doRequest(ctx, "getUpdates", payload)
	if err != nil {
		return nil, err
	}
	var updates []Update
	if err := json.Unmarshal(raw, &updates); err != nil {
		return nil, fmt.Errorf("failed to parse updates: %w", err)
	}
	return updates, nil
}

// clip cuts s to n characters.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
