package radio

import (
	"encoding/binary"
	"fmt"

	"beacontrace/internal/model"
)

// Push payload layout, the write path for peers that cannot scan:
// 8 bytes big-endian beacon code, then 4 bytes big-endian signed signal
// strength in dBm. Both ends must use this byte order; it is a binary
// contract, not a platform default.
const DetectionPayloadSize = 12

func EncodeDetection(code model.BeaconCode, signalStrength int) []byte {
	buf := make([]byte, DetectionPayloadSize)
	binary.BigEndian.PutUint64(buf[:8], uint64(code))
	binary.BigEndian.PutUint32(buf[8:], uint32(int32(signalStrength)))
	return buf
}

func DecodeDetection(payload []byte) (model.BeaconCode, int, error) {
	if len(payload) != DetectionPayloadSize {
		return 0, 0, fmt.Errorf("detection payload is %d bytes, want %d: %w", len(payload), DetectionPayloadSize, model.ErrProtocolMismatch)
	}
	code := model.BeaconCode(binary.BigEndian.Uint64(payload[:8]))
	rssi := int(int32(binary.BigEndian.Uint32(payload[8:])))
	return code, rssi, nil
}
