package telegram

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RequestSolution sends a captcha image to the chat and waits for the
// operator's answer.
//
// Flow:
//  1. Wait for the relay slot; another session may be in front
//  2. Drop replies that arrived before this request
//  3. Send the image with the caption
//  4. Wait for the next non-command message, timeout or cancellation
//
// timeout covers the whole call, the wait for the slot included. Returns
// "" and a nil error on timeout.
func (c *Client) RequestSolution(ctx context.Context, image []byte, caption string, timeout time.Duration) (string, error) {
	if c == nil {
		return "", nil
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case c.relaySlot <- struct{}{}:
		defer func() { <-c.relaySlot }()
	case <-deadline.C:
		c.logger.Warn("⚠️  Captcha relay busy, request timed out")
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}

	c.drainReplies()
	if err := c.SendPhoto(ctx, image, caption); err != nil {
		return "", err
	}
	c.logger.Info("📨 Captcha sent, waiting for reply", zap.Duration("timeout", timeout))

	select {
	case reply := <-c.replies:
		c.logger.Info("📝 Captcha reply received", zap.String("reply", reply))
		return reply, nil
	case <-deadline.C:
		c.logger.Warn("⚠️  Captcha reply timeout")
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Client) drainReplies() {
	for {
		select {
		case <-c.replies:
		default:
			return
		}
	}
}
