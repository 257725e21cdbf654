package registry

import (
	"fmt"
	"sync"

	"beacontrace/internal/model"
)

// Registry holds the registration credentials: get/set with the secret
// immutable once set. Kept apart from contact storage so no single record
// ever links the device identity to the codes it heard.
type Registry interface {
	Credentials() (serialNumber string, sharedSecret []byte, ok bool)
	SetCredentials(serialNumber string, sharedSecret []byte) error
	Reset()
}

// Memory is the in-process Registry. Deployments that need durable
// registration wrap their platform keystore behind the same interface.
type Memory struct {
	mu     sync.RWMutex
	serial string
	secret []byte
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Credentials() (string, []byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.serial == "" || len(m.secret) == 0 {
		return "", nil, false
	}
	secret := make([]byte, len(m.secret))
	copy(secret, m.secret)
	return m.serial, secret, true
}

func (m *Memory) SetCredentials(serialNumber string, sharedSecret []byte) error {
	if serialNumber == "" || len(sharedSecret) == 0 {
		return fmt.Errorf("empty credentials: %w", model.ErrInvalidParameter)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.serial != "" {
		return fmt.Errorf("already registered as %s", m.serial)
	}
	m.serial = serialNumber
	m.secret = make([]byte, len(sharedSecret))
	copy(m.secret, sharedSecret)
	return nil
}

func (m *Memory) Reset() {
	m.mu.Lock()
	m.serial = ""
	m.secret = nil
	m.mu.Unlock()
}
