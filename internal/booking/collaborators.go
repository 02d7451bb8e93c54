package booking

import "context"

// Notifier pushes status and outcomes to the operator.
type Notifier interface {
	SendMessage(ctx context.Context, text string) error
	SendPhoto(ctx context.Context, image []byte, caption string) error
}

// Evidence persists artifacts keyed by session id.
type Evidence interface {
	SaveHTML(sessionID, label, html string) error
	SaveScreenshot(sessionID, label string, png []byte) error
	RecordIncident(sessionID, kind, detail string) error
	SaveStats(v interface{}) error
}

type nopNotifier struct{}

func (nopNotifier) SendMessage(context.Context, string) error { return nil }
func (nopNotifier) SendPhoto(context.Context, []byte, string) error { return nil }

type nopEvidence struct{}

func (nopEvidence) SaveHTML(string, string, string) error { return nil }
func (nopEvidence) SaveScreenshot(string, string, []byte) error { return nil }
func (nopEvidence) RecordIncident(string, string, string) error { return nil }
func (nopEvidence) SaveStats(interface{}) error { return nil }
