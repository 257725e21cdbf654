package registry

import (
	"errors"
	"testing"

	"beacontrace/internal/model"
)

func TestCredentialsLifecycle(t *testing.T) {
	m := NewMemory()
	if _, _, ok := m.Credentials(); ok {
		t.Fatalf("fresh registry claims credentials")
	}

	if err := m.SetCredentials("SN-1", []byte("secret-material!")); err != nil {
		t.Fatalf("set: %v", err)
	}
	serial, secret, ok := m.Credentials()
	if !ok || serial != "SN-1" || string(secret) != "secret-material!" {
		t.Fatalf("credentials (%s, %q, %v)", serial, secret, ok)
	}

	// immutable once registered
	if err := m.SetCredentials("SN-2", []byte("other")); err == nil {
		t.Fatalf("re-registration accepted")
	}

	m.Reset()
	if _, _, ok := m.Credentials(); ok {
		t.Fatalf("credentials survived reset")
	}
	if err := m.SetCredentials("SN-2", []byte("other-secret-ok!")); err != nil {
		t.Fatalf("set after reset: %v", err)
	}
}

func TestSetCredentialsRejectsEmpty(t *testing.T) {
	m := NewMemory()
	if err := m.SetCredentials("", []byte("x")); !errors.Is(err, model.ErrInvalidParameter) {
		t.Fatalf("empty serial: %v", err)
	}
	if err := m.SetCredentials("SN-1", nil); !errors.Is(err, model.ErrInvalidParameter) {
		t.Fatalf("empty secret: %v", err)
	}
}

func TestCredentialsReturnsCopy(t *testing.T) {
	m := NewMemory()
	_ = m.SetCredentials("SN-1", []byte("secret-material!"))
	_, secret, _ := m.Credentials()
	secret[0] = 'X'
	_, again, _ := m.Credentials()
	if again[0] == 'X' {
		t.Fatalf("caller mutation reached the registry")
	}
}
