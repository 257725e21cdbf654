package radio

import (
	"errors"
	"fmt"
	"sync"
)

// Hub is an in-process radio medium for development and tests. Every port
// attached to the hub sees every other port's advertisement as a peer.
type Hub struct {
	mu    sync.Mutex
	ports []*LoopbackPort
	next  int
}

func NewHub() *Hub {
	return &Hub{}
}

func (h *Hub) NewPort() *LoopbackPort {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	p := &LoopbackPort{hub: h, id: fmt.Sprintf("loopback-%d", h.next), rssi: -55}
	h.ports = append(h.ports, p)
	return p
}

// announce delivers an advertiser to every other scanning port.
func (h *Hub) announce(from *LoopbackPort) {
	h.mu.Lock()
	ports := make([]*LoopbackPort, len(h.ports))
	copy(ports, h.ports)
	h.mu.Unlock()
	for _, p := range ports {
		if p == from {
			continue
		}
		p.deliver(from)
	}
}

// LoopbackPort implements Port over the hub.
type LoopbackPort struct {
	hub *Hub
	id  string

	mu          sync.Mutex
	advertising bool
	service     UUID
	char        UUID
	onDiscover  func(Peer)
	rssi        int
}

// SetSignalStrength fixes the dBm value peers read from this port.
func (p *LoopbackPort) SetSignalStrength(rssi int) {
	p.mu.Lock()
	p.rssi = rssi
	p.mu.Unlock()
}

func (p *LoopbackPort) StartAdvertising(service, characteristic UUID) error {
	p.mu.Lock()
	if p.advertising {
		p.mu.Unlock()
		return errors.New("already advertising")
	}
	p.advertising = true
	p.service = service
	p.char = characteristic
	p.mu.Unlock()
	p.hub.announce(p)
	return nil
}

func (p *LoopbackPort) StopAdvertising() error {
	p.mu.Lock()
	p.advertising = false
	p.mu.Unlock()
	return nil
}

func (p *LoopbackPort) StartScan(onDiscover func(Peer)) error {
	p.mu.Lock()
	p.onDiscover = onDiscover
	p.mu.Unlock()
	// surface peers that were already advertising before the scan began
	p.hub.mu.Lock()
	ports := make([]*LoopbackPort, len(p.hub.ports))
	copy(ports, p.hub.ports)
	p.hub.mu.Unlock()
	for _, other := range ports {
		if other == p {
			continue
		}
		other.mu.Lock()
		adv := other.advertising
		other.mu.Unlock()
		if adv {
			p.deliver(other)
		}
	}
	return nil
}

func (p *LoopbackPort) StopScan() error {
	p.mu.Lock()
	p.onDiscover = nil
	p.mu.Unlock()
	return nil
}

func (p *LoopbackPort) deliver(advertiser *LoopbackPort) {
	p.mu.Lock()
	cb := p.onDiscover
	p.mu.Unlock()
	if cb == nil {
		return
	}
	cb(&loopbackPeer{port: advertiser})
}

type loopbackPeer struct {
	port *LoopbackPort
}

func (lp *loopbackPeer) ID() string { return lp.port.id }

func (lp *loopbackPeer) Connect() error {
	lp.port.mu.Lock()
	defer lp.port.mu.Unlock()
	if !lp.port.advertising {
		return errors.New("peer gone")
	}
	return nil
}

func (lp *loopbackPeer) Services() ([]UUID, error) {
	lp.port.mu.Lock()
	defer lp.port.mu.Unlock()
	if !lp.port.advertising {
		return nil, errors.New("peer gone")
	}
	return []UUID{lp.port.service}, nil
}

func (lp *loopbackPeer) Characteristics(service UUID) ([]UUID, error) {
	lp.port.mu.Lock()
	defer lp.port.mu.Unlock()
	if !lp.port.advertising || service != lp.port.service {
		return nil, errors.New("service not found")
	}
	return []UUID{lp.port.char}, nil
}

func (lp *loopbackPeer) SignalStrength() (int, error) {
	lp.port.mu.Lock()
	defer lp.port.mu.Unlock()
	return lp.port.rssi, nil
}

func (lp *loopbackPeer) Disconnect() {}
