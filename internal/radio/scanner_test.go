package radio

import (
	"errors"
	"sync"
	"testing"
	"time"

	"beacontrace/internal/model"
)

type fakePort struct {
	mu         sync.Mutex
	onDiscover func(Peer)
	advertised []UUID
	stops      int
}

func (p *fakePort) StartAdvertising(service, characteristic UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advertised = append(p.advertised, characteristic)
	return nil
}

func (p *fakePort) StopAdvertising() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	return nil
}

func (p *fakePort) StartScan(onDiscover func(Peer)) error {
	p.mu.Lock()
	p.onDiscover = onDiscover
	p.mu.Unlock()
	return nil
}

func (p *fakePort) StopScan() error { return nil }

func (p *fakePort) discover(peer Peer) {
	p.mu.Lock()
	cb := p.onDiscover
	p.mu.Unlock()
	if cb != nil {
		cb(peer)
	}
}

type fakePeer struct {
	id            string
	connectErr    error
	services      []UUID
	chars         []UUID
	rssi          int
	rssiErr       error
	connectGate   chan struct{}
	mu            sync.Mutex
	disconnected  int
	connectCalled int
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Connect() error {
	p.mu.Lock()
	p.connectCalled++
	p.mu.Unlock()
	if p.connectGate != nil {
		<-p.connectGate
	}
	return p.connectErr
}

func (p *fakePeer) Services() ([]UUID, error) {
	return p.services, nil
}

func (p *fakePeer) Characteristics(service UUID) ([]UUID, error) {
	return p.chars, nil
}

func (p *fakePeer) SignalStrength() (int, error) {
	return p.rssi, p.rssiErr
}

func (p *fakePeer) Disconnect() {
	p.mu.Lock()
	p.disconnected++
	p.mu.Unlock()
}

type detectRecorder struct {
	mu   sync.Mutex
	hits []model.Contact
}

func (r *detectRecorder) record(code model.BeaconCode, rssi int) {
	r.mu.Lock()
	r.hits = append(r.hits, model.Contact{Time: time.Now(), Code: code, SignalStrength: rssi})
	r.mu.Unlock()
}

func (r *detectRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hits)
}

func goodPeer(code model.BeaconCode, rssi int) *fakePeer {
	return &fakePeer{
		id:       "peer01",
		services: []UUID{ServiceID},
		chars:    []UUID{CharacteristicForCode(code)},
		rssi:     rssi,
	}
}

func newScannerForTest(port *fakePort, rec *detectRecorder) *Scanner {
	sink := NewNotifier(nil)
	sink.Subscribe(rec.record)
	return NewScanner(port, sink, nil)
}

func TestScannerDetectionTransaction(t *testing.T) {
	port := &fakePort{}
	rec := &detectRecorder{}
	s := newScannerForTest(port, rec)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	peer := goodPeer(0xABCD, -60)
	port.discover(peer)

	if rec.count() != 1 {
		t.Fatalf("expected 1 detection, got %d", rec.count())
	}
	if rec.hits[0].Code != 0xABCD || rec.hits[0].SignalStrength != -60 {
		t.Fatalf("detection (%s, %d)", rec.hits[0].Code, rec.hits[0].SignalStrength)
	}
	if peer.disconnected != 1 {
		t.Fatalf("peer not disconnected after detection")
	}
	if s.State() != StateIdle {
		t.Fatalf("scanner not idle after transaction: %s", s.State())
	}
}

func TestScannerServiceMismatchRecovers(t *testing.T) {
	port := &fakePort{}
	rec := &detectRecorder{}
	s := newScannerForTest(port, rec)
	_ = s.Start()

	var foreign UUID
	foreign[0] = 0x99
	peer := &fakePeer{id: "stranger", services: []UUID{foreign}}
	port.discover(peer)

	if rec.count() != 0 {
		t.Fatalf("foreign peer produced a detection")
	}
	if peer.disconnected != 1 {
		t.Fatalf("foreign peer not disconnected")
	}
	if s.State() != StateIdle {
		t.Fatalf("scanner stuck in %s", s.State())
	}

	// the same scan session must still detect a good peer afterwards
	port.discover(goodPeer(0x1111, -50))
	if rec.count() != 1 {
		t.Fatalf("scanner did not resume after mismatch")
	}
}

func TestScannerCharacteristicMismatchRecovers(t *testing.T) {
	port := &fakePort{}
	rec := &detectRecorder{}
	s := newScannerForTest(port, rec)
	_ = s.Start()

	var foreignChar UUID
	foreignChar[0] = 0x42
	peer := &fakePeer{id: "oddball", services: []UUID{ServiceID}, chars: []UUID{foreignChar}}
	port.discover(peer)

	if rec.count() != 0 {
		t.Fatalf("peer without beacon characteristic produced a detection")
	}
	if peer.disconnected != 1 {
		t.Fatalf("peer not disconnected")
	}
}

func TestScannerConnectFailureRecovers(t *testing.T) {
	port := &fakePort{}
	rec := &detectRecorder{}
	s := newScannerForTest(port, rec)
	_ = s.Start()

	peer := &fakePeer{id: "flaky", connectErr: errors.New("connect timeout")}
	port.discover(peer)

	if rec.count() != 0 {
		t.Fatalf("failed connect produced a detection")
	}
	if s.State() != StateIdle {
		t.Fatalf("scanner stuck in %s", s.State())
	}
}

func TestScannerSingleFlight(t *testing.T) {
	port := &fakePort{}
	rec := &detectRecorder{}
	s := newScannerForTest(port, rec)
	_ = s.Start()

	gate := make(chan struct{})
	first := goodPeer(0x1111, -40)
	first.connectGate = gate
	second := goodPeer(0x2222, -45)
	second.id = "peer02"

	done := make(chan struct{})
	go func() {
		port.discover(first)
		close(done)
	}()

	// wait until the first transaction holds the slot
	deadline := time.After(2 * time.Second)
	for s.State() == StateIdle {
		select {
		case <-deadline:
			t.Fatalf("first transaction never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	port.discover(second)
	second.mu.Lock()
	attempted := second.connectCalled
	second.mu.Unlock()
	if attempted != 0 {
		t.Fatalf("second peer connected while first was in flight")
	}

	close(gate)
	<-done
	if rec.count() != 1 {
		t.Fatalf("expected 1 detection after first transaction, got %d", rec.count())
	}

	// second peer is picked up on its next broadcast cycle
	port.discover(second)
	if rec.count() != 2 {
		t.Fatalf("second peer not processed after first reached idle")
	}
}

func TestScannerStopSupersedesDetection(t *testing.T) {
	port := &fakePort{}
	rec := &detectRecorder{}
	s := newScannerForTest(port, rec)
	_ = s.Start()
	s.Stop()

	port.discover(goodPeer(0x3333, -50))
	if rec.count() != 0 {
		t.Fatalf("powered-off scanner produced a detection")
	}

	if err := s.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	port.discover(goodPeer(0x3333, -50))
	if rec.count() != 1 {
		t.Fatalf("restarted scanner did not detect")
	}
}
