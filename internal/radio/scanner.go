package radio

import (
	"fmt"
	"log/slog"
	"sync"

	"beacontrace/internal/model"
)

// ScanState is the scanner's position in the detection transaction.
type ScanState int

const (
	StateIdle ScanState = iota
	StateDiscovering
	StateConnecting
	StateServiceLookup
	StateCharacteristicLookup
	StateSignalRead
	StateDisconnecting
)

func (s ScanState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDiscovering:
		return "discovering"
	case StateConnecting:
		return "connecting"
	case StateServiceLookup:
		return "serviceLookup"
	case StateCharacteristicLookup:
		return "characteristicLookup"
	case StateSignalRead:
		return "signalRead"
	case StateDisconnecting:
		return "disconnecting"
	}
	return "unknown"
}

// Scanner discovers broadcasters and runs one single-shot detection
// transaction per peer: connect, filter service, filter characteristic
// prefix, read signal strength, report, disconnect. Exactly one peer is in
// flight at a time; peers discovered meanwhile are ignored and picked up
// again on their next broadcast cycle, so there is no retry bookkeeping.
// Every failure converges on disconnect-and-resume.
type Scanner struct {
	port   Port
	sink   *Notifier
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	state   ScanState
}

func NewScanner(port Port, sink *Notifier, logger *slog.Logger) *Scanner {
	return &Scanner{port: port, sink: sink, logger: logger}
}

// Start powers scanning on. Safe to call again after Stop.
func (s *Scanner) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.state = StateIdle
	s.mu.Unlock()
	if err := s.port.StartScan(s.handleDiscover); err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("start scan: %w", err)
	}
	return nil
}

// Stop powers scanning off. An in-flight transaction is superseded: its
// result is discarded at the reporting step.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()
	_ = s.port.StopScan()
}

func (s *Scanner) State() ScanState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// begin claims the single transaction slot; false means another peer is
// already being processed or scanning is powered off.
func (s *Scanner) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.state != StateIdle {
		return false
	}
	s.state = StateDiscovering
	return true
}

func (s *Scanner) setState(st ScanState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Scanner) handleDiscover(peer Peer) {
	if !s.begin() {
		return
	}
	err := s.process(peer)
	s.setState(StateDisconnecting)
	peer.Disconnect()
	s.setState(StateIdle)
	if err != nil && s.logger != nil {
		s.logger.Debug("detection transaction abandoned", "peer", peer.ID(), "err", err)
	}
}

func (s *Scanner) process(peer Peer) error {
	s.setState(StateConnecting)
	if err := peer.Connect(); err != nil {
		return fmt.Errorf("connect %s: %w", peer.ID(), err)
	}

	s.setState(StateServiceLookup)
	services, err := peer.Services()
	if err != nil {
		return fmt.Errorf("service lookup %s: %w", peer.ID(), err)
	}
	if !hasService(services, ServiceID) {
		return fmt.Errorf("peer %s lacks beacon service: %w", peer.ID(), model.ErrProtocolMismatch)
	}

	s.setState(StateCharacteristicLookup)
	chars, err := peer.Characteristics(ServiceID)
	if err != nil {
		return fmt.Errorf("characteristic lookup %s: %w", peer.ID(), err)
	}
	code, ok := firstBeaconCode(chars)
	if !ok {
		return fmt.Errorf("peer %s has no beacon characteristic: %w", peer.ID(), model.ErrProtocolMismatch)
	}

	s.setState(StateSignalRead)
	rssi, err := peer.SignalStrength()
	if err != nil {
		return fmt.Errorf("signal read %s: %w", peer.ID(), err)
	}

	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running {
		s.sink.Publish(code, rssi)
	}
	return nil
}

func hasService(services []UUID, want UUID) bool {
	for _, u := range services {
		if u == want {
			return true
		}
	}
	return false
}

func firstBeaconCode(chars []UUID) (model.BeaconCode, bool) {
	for _, u := range chars {
		if code, ok := CodeFromCharacteristic(u); ok {
			return code, true
		}
	}
	return 0, false
}
