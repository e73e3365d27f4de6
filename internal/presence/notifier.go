package presence

import (
	"sync"
	"time"

	"github.com/gigdesk/msgd/internal/transport"
	"github.com/gigdesk/msgd/internal/wire"
	"go.uber.org/zap"
)

type publisher interface {
	Publish(event string, payload any, ack transport.AckFunc) error
}

// Notifier debounces the session user's outbound typing signal. The first
// keystroke announces typing immediately; further activity only extends the
// trailing stop timer, so the peer sees one start and one stop per burst.
type Notifier struct {
	tr     publisher
	logger *zap.Logger
	window time.Duration

	mu       sync.Mutex
	active   bool
	receiver string
	stop     *time.Timer
}

// NewNotifier creates a notifier. A zero window means DefaultQuietWindow.
func NewNotifier(tr publisher, logger *zap.Logger, window time.Duration) *Notifier {
	if window <= 0 {
		window = DefaultQuietWindow
	}
	return &Notifier{tr: tr, logger: logger, window: window}
}

// InputActivity records a keystroke aimed at receiverID. Switching
// conversations mid-burst stops the old indicator first.
func (n *Notifier) InputActivity(receiverID string) {
	n.mu.Lock()
	if n.active && n.receiver != receiverID {
		prev := n.receiver
		n.clearLocked()
		n.mu.Unlock()
		n.send(prev, false)
		n.mu.Lock()
	}
	if n.active {
		n.stop.Reset(n.window)
		n.mu.Unlock()
		return
	}
	n.active = true
	n.receiver = receiverID
	n.stop = time.AfterFunc(n.window, func() { n.Stop() })
	n.mu.Unlock()

	n.send(receiverID, true)
}

// Stop ends the current typing burst, if any. Called on send, on focus
// change and by the trailing timer.
func (n *Notifier) Stop() {
	n.mu.Lock()
	if !n.active {
		n.mu.Unlock()
		return
	}
	receiver := n.receiver
	n.clearLocked()
	n.mu.Unlock()

	n.send(receiver, false)
}

func (n *Notifier) clearLocked() {
	n.active = false
	n.receiver = ""
	if n.stop != nil {
		n.stop.Stop()
		n.stop = nil
	}
}

func (n *Notifier) send(receiverID string, isTyping bool) {
	err := n.tr.Publish(transport.EvtTyping,
		wire.TypingIntent{ReceiverID: receiverID, IsTyping: isTyping}, nil)
	if err != nil {
		n.logger.Debug("typing publish failed", zap.Error(err))
	}
}
