package mediabridge

import (
	"github.com/gen2brain/beeep"
	"go.uber.org/zap"
)

// Notifier provides a generic interface for sending notifications.
type Notifier interface {
	Notify(title string, message string)
}

// ToastNotifier surfaces configuration problems to the desktop user. The
// bridge itself is a faceless child process, so this is its only UI surface.
type ToastNotifier struct {
	logger *zap.SugaredLogger
}

// NewToastNotifier creates a new instance of ToastNotifier.
func NewToastNotifier(logger *zap.SugaredLogger) (*ToastNotifier, error) {
	logger = logger.Named("notifier")
	logger.Debug("Created toast notifier instance")

	return &ToastNotifier{logger: logger}, nil
}

// Notify sends a toast notification.
func (tn *ToastNotifier) Notify(title, message string) {
	tn.logger.Infow("Sending toast notification", "title", title, "message", message)

	if err := beeep.Notify(title, message, ""); err != nil {
		tn.logger.Errorw("Failed to send toast notification", "error", err)
	}
}
