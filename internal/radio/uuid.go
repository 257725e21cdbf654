package radio

import (
	"encoding/binary"
	"fmt"

	"beacontrace/internal/model"
)

// UUID is a 128-bit service or characteristic identifier.
type UUID [16]byte

func (u UUID) String() string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", u[0:4], u[4:6], u[6:8], u[8:10], u[10:16])
}

// ServiceID is the fixed identifier every broadcaster advertises and every
// scanner filters on. Characteristic identifiers reuse its upper 64 bits.
var ServiceID = UUID{
	0xc0, 0x19, 0x3a, 0xf5, 0x88, 0x2b, 0x4e, 0x9f,
	0xb6, 0x21, 0x7d, 0x04, 0x5c, 0xee, 0x10, 0x87,
}

// CharacteristicForCode builds the characteristic identifier advertising a
// beacon code: service upper 8 bytes, then the code as a big-endian integer.
func CharacteristicForCode(code model.BeaconCode) UUID {
	var u UUID
	copy(u[:8], ServiceID[:8])
	binary.BigEndian.PutUint64(u[8:], uint64(code))
	return u
}

// CodeFromCharacteristic recovers the beacon code from a characteristic
// identifier carrying the service prefix. ok is false on a foreign prefix.
func CodeFromCharacteristic(u UUID) (model.BeaconCode, bool) {
	for i := 0; i < 8; i++ {
		if u[i] != ServiceID[i] {
			return 0, false
		}
	}
	return model.BeaconCode(binary.BigEndian.Uint64(u[8:])), true
}
