package radio

import (
	"errors"
	"testing"

	"beacontrace/internal/model"
)

func TestDetectionPayloadRoundTrip(t *testing.T) {
	cases := []struct {
		code model.BeaconCode
		rssi int
	}{
		{0, 0},
		{0xABCD, -60},
		{0xFFFFFFFFFFFFFFFF, -120},
		{1, -1},
	}
	for _, c := range cases {
		payload := EncodeDetection(c.code, c.rssi)
		if len(payload) != DetectionPayloadSize {
			t.Fatalf("payload size %d", len(payload))
		}
		code, rssi, err := DecodeDetection(payload)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if code != c.code || rssi != c.rssi {
			t.Fatalf("round trip (%s, %d) -> (%s, %d)", c.code, c.rssi, code, rssi)
		}
	}
}

func TestDecodeDetectionRejectsBadLength(t *testing.T) {
	for _, n := range []int{0, 8, 11, 13, 24} {
		_, _, err := DecodeDetection(make([]byte, n))
		if !errors.Is(err, model.ErrProtocolMismatch) {
			t.Fatalf("length %d: expected ErrProtocolMismatch, got %v", n, err)
		}
	}
}

func TestCharacteristicCarriesCode(t *testing.T) {
	code := model.BeaconCode(0xDEADBEEF12345678)
	u := CharacteristicForCode(code)
	for i := 0; i < 8; i++ {
		if u[i] != ServiceID[i] {
			t.Fatalf("characteristic prefix differs from service at byte %d", i)
		}
	}
	got, ok := CodeFromCharacteristic(u)
	if !ok || got != code {
		t.Fatalf("code round trip failed: %s ok=%v", got, ok)
	}
}

func TestCodeFromForeignCharacteristic(t *testing.T) {
	var u UUID
	u[0] = 0x01
	if _, ok := CodeFromCharacteristic(u); ok {
		t.Fatalf("foreign prefix accepted")
	}
}
