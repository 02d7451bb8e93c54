package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sniper/internal/config"

	"go.uber.org/zap"
)

// Commands are the operator hooks the bot can trigger.
type Commands interface {
	StatusReport() string
	StatusCard() ([]byte, error)
	SetMode(name string) (config.Mode, error)
	Pause()
	Resume()
	RequestScreenshot()
}

// keyboardCommands maps reply keyboard button texts to slash commands.
var keyboardCommands = map[string]string{
	"📸 Screenshot": "/screenshot",
	"📊 Status":     "/status",
	"▶ Resume":     "/resume",
	"⏸ Pause":      "/pause",
	"🤖 Auto":       "/auto",
	"⚖️ Hybrid":    "/hybrid",
	"👤 Manual":     "/manual",
}

func operatorKeyboard() ReplyKeyboardMarkup {
	row := func(texts ...string) []KeyboardButton {
		out := make([]KeyboardButton, 0, len(texts))
		for _, t := range texts {
			out = append(out, KeyboardButton{Text: t})
		}
		return out
	}
	return ReplyKeyboardMarkup{
		Keyboard: [][]KeyboardButton{
			row("📸 Screenshot", "📊 Status"),
			row("▶ Resume", "⏸ Pause"),
			row("🤖 Auto", "⚖️ Hybrid", "👤 Manual"),
		},
		ResizeKeyboard: true,
		IsPersistent:   true,
	}
}

// HandleUpdates listens for incoming messages and processes them.
//
// Update processing loop:
//  1. Long poll for updates
//  2. Route each message from the configured chat
//  3. Advance the offset to acknowledge processed updates
//  4. Repeat until ctx is cancelled
func (c *Client) HandleUpdates(ctx context.Context, cmds Commands) {
	if c == nil {
		return
	}

	c.logger.Info("✓ Starting Telegram command handler...")
	if err := c.SendKeyboard(ctx, "📡 Sniper command channel online"); err != nil {
		c.logger.Warn("⚠️  Failed to send keyboard", zap.Error(err))
	}

	offset := 0
	for {
		if ctx.Err() != nil {
			c.logger.Info("🛑 Telegram command handler stopped")
			return
		}

		updates, err := c.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.logger.Warn("⚠️  Error getting Telegram updates", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(c.retryDelay):
			}
			continue
		}

		for _, update := range updates {
			if update.Message != nil {
				c.handleMessage(ctx, cmds, update.Message)
			}
			offset = update.UpdateID + 1
		}
	}
}

// handleMessage routes one message: commands to the hooks, anything else
// to the captcha reply queue. Messages from other chats are ignored.
func (c *Client) handleMessage(ctx context.Context, cmds Commands, msg *IncomingMessage) {
	if msg.Chat == nil || strconv.FormatInt(msg.Chat.ID, 10) != c.ChatID {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if cmd, ok := commandFor(text); ok {
		c.logger.Info("📞 Received command", zap.String("command", cmd))
		c.runCommand(ctx, cmds, cmd)
		return
	}

	select {
	case c.replies <- text:
	default:
		c.logger.Warn("⚠️  Reply queue full, dropping message")
	}
}

// commandFor recognizes slash commands and keyboard button texts.
func commandFor(text string) (string, bool) {
	if cmd, ok := keyboardCommands[text]; ok {
		return cmd, true
	}
	if strings.HasPrefix(text, "/") {
		cmd := strings.ToLower(strings.Fields(text)[0])
		// "/status@my_bot" in group chats
		if i := strings.Index(cmd, "@"); i > 0 {
			cmd = cmd[:i]
		}
		return cmd, true
	}
	return "", false
}

func (c *Client) runCommand(ctx context.Context, cmds Commands, cmd string) {
	var reply string
	switch cmd {
	case "/status":
		reply = cmds.StatusReport()
		if card, err := cmds.StatusCard(); err == nil {
			defer func() {
				if err := c.SendPhoto(ctx, card, "📊 Status"); err != nil {
					c.logger.Warn("⚠️  Failed to send status card", zap.Error(err))
				}
			}()
		}
	case "/auto", "/manual", "/hybrid":
		mode, err := cmds.SetMode(strings.TrimPrefix(cmd, "/"))
		if err != nil {
			reply = "⚠️ " + err.Error()
			break
		}
		reply = fmt.Sprintf("%s Switched to %s mode", modeIcon(mode), mode)
	case "/pause":
		cmds.Pause()
		reply = "⏸️ PAUSED. Scanning suspended."
	case "/resume":
		cmds.Resume()
		reply = "▶️ RESUMED. Scanning active."
	case "/screenshot":
		cmds.RequestScreenshot()
		reply = "📸 Screenshot requested"
	default:
		reply = "❓ Unknown command: " + cmd
	}

	if err := c.SendMessage(ctx, reply); err != nil {
		c.logger.Warn("⚠️  Failed to answer command", zap.String("command", cmd), zap.Error(err))
	}
}

func modeIcon(m config.Mode) string {
	switch m {
	case config.ModeAuto:
		return "🚀"
	case config.ModeManual:
		return "🛡️"
	default:
		return "⚖️"
	}
}
