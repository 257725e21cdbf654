package radio

import (
	"log/slog"
	"sync"

	"beacontrace/internal/model"
)

// Port abstracts the radio stack. A driver delivers discovered peers to the
// scan callback from its own event loop; the scanner guarantees it never
// holds more than one peer transaction open at a time.
type Port interface {
	StartAdvertising(service, characteristic UUID) error
	StopAdvertising() error
	StartScan(onDiscover func(Peer)) error
	StopScan() error
}

// Peer is a discovered remote broadcaster.
type Peer interface {
	ID() string
	Connect() error
	Services() ([]UUID, error)
	Characteristics(service UUID) ([]UUID, error)
	SignalStrength() (int, error)
	Disconnect()
}

// DetectFunc receives every successful detection, whether scanned or pushed.
type DetectFunc func(code model.BeaconCode, signalStrength int)

// Notifier fans a detection out to every subscriber. Delivery order across
// subscribers is unspecified.
type Notifier struct {
	mu     sync.RWMutex
	subs   []DetectFunc
	logger *slog.Logger
}

func NewNotifier(logger *slog.Logger) *Notifier {
	return &Notifier{logger: logger}
}

func (n *Notifier) Subscribe(fn DetectFunc) {
	if fn == nil {
		return
	}
	n.mu.Lock()
	n.subs = append(n.subs, fn)
	n.mu.Unlock()
}

func (n *Notifier) Publish(code model.BeaconCode, signalStrength int) {
	n.mu.RLock()
	subs := n.subs
	n.mu.RUnlock()
	if n.logger != nil {
		n.logger.Debug("beacon detected", "code", code.String(), "signal_strength", signalStrength)
	}
	for _, fn := range subs {
		fn(code, signalStrength)
	}
}
