// Package systemd reports service state to the systemd supervisor when the
// agent runs as a notify-type unit.
package systemd

import (
	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"
)

// Notifier sends sd_notify messages. Outside systemd every call is a no-op.
type Notifier struct {
	logger *zap.Logger
	send   func(unsetEnv bool, state string) (bool, error)
}

// NewNotifier creates a notifier
func NewNotifier(logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{logger: logger, send: daemon.SdNotify}
}

// Ready tells systemd the server accepts requests
func (n *Notifier) Ready() bool {
	return n.notify(daemon.SdNotifyReady)
}

// Stopping tells systemd a graceful shutdown has begun
func (n *Notifier) Stopping() bool {
	return n.notify(daemon.SdNotifyStopping)
}

// Status sets the free-form unit status line
func (n *Notifier) Status(status string) bool {
	return n.notify("STATUS=" + status)
}

func (n *Notifier) notify(state string) bool {
	sent, err := n.send(false, state)
	if err != nil {
		n.logger.Warn("sd_notify failed", zap.String("state", state), zap.Error(err))
		return false
	}
	return sent
}
