package radio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"beacontrace/internal/model"
)

// CodeSource supplies the broadcaster with the live beacon code and a
// rotation feed. Satisfied by beacon.Rotator.
type CodeSource interface {
	Current() model.BeaconCode
	Subscribe() <-chan model.BeaconCode
}

// Broadcaster advertises the fixed service identifier plus a characteristic
// carrying the current beacon code, republished on every rotation. It also
// accepts pushed detections from peers that cannot scan; those enter the
// same notifier as locally scanned ones.
//
// Republishing stops the old advertisement before starting the new one, so
// a rotation shows a brief gap rather than a brief overlap.
type Broadcaster struct {
	port   Port
	source CodeSource
	sink   *Notifier
	logger *slog.Logger

	mu          sync.Mutex
	advertising bool
	pushEnabled bool
	powered     bool
	started     bool
}

func NewBroadcaster(port Port, source CodeSource, sink *Notifier, pushEnabled bool, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		port:        port,
		source:      source,
		sink:        sink,
		pushEnabled: pushEnabled,
		logger:      logger,
	}
}

// Start powers advertising on. Safe to call again after Stop: the rotation
// loop and its subscription are created once, power cycles only toggle them.
func (b *Broadcaster) Start(ctx context.Context) error {
	b.mu.Lock()
	b.powered = true
	b.mu.Unlock()
	if err := b.publish(b.source.Current()); err != nil {
		return err
	}
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = true
	b.mu.Unlock()
	rotations := b.source.Subscribe()
	go func() {
		for {
			select {
			case code := <-rotations:
				if err := b.publish(code); err != nil && b.logger != nil {
					b.logger.Warn("advertisement republish failed", "err", err)
				}
			case <-ctx.Done():
				b.Stop()
				return
			}
		}
	}()
	return nil
}

func (b *Broadcaster) publish(code model.BeaconCode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.powered {
		return nil
	}
	if b.advertising {
		if err := b.port.StopAdvertising(); err != nil {
			return fmt.Errorf("stop advertising: %w", err)
		}
		b.advertising = false
	}
	if err := b.port.StartAdvertising(ServiceID, CharacteristicForCode(code)); err != nil {
		return fmt.Errorf("start advertising: %w", err)
	}
	b.advertising = true
	if b.logger != nil {
		b.logger.Debug("advertising beacon code", "code", code.String())
	}
	return nil
}

// Stop powers advertising off. Rotations arriving while stopped are dropped;
// the next Start publishes the then-current code.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.powered = false
	if !b.advertising {
		return
	}
	_ = b.port.StopAdvertising()
	b.advertising = false
}

func (b *Broadcaster) Advertising() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.advertising
}

// HandleWrite ingests a pushed detection payload. A pushed detection is
// indistinguishable from a scanned one downstream.
func (b *Broadcaster) HandleWrite(payload []byte) error {
	if !b.pushEnabled {
		return fmt.Errorf("push detections disabled: %w", model.ErrProtocolMismatch)
	}
	code, rssi, err := DecodeDetection(payload)
	if err != nil {
		if b.logger != nil {
			b.logger.Warn("rejected push detection", "err", err)
		}
		return err
	}
	b.sink.Publish(code, rssi)
	return nil
}
