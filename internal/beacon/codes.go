package beacon

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"golang.org/x/crypto/hkdf"

	"beacontrace/internal/model"
)

// MaxCodesPerDay bounds the count accepted by CodesForDay. One code per
// second is already far below any sane rotation period.
const MaxCodesPerDay = 86400

// CodesForDay expands a seed into an ordered day of beacon codes. The
// expansion is pure and deterministic: any device given the same seed and
// count reproduces the same sequence, which is what lets infection reports
// be matched without publishing a device secret. Code i is the first 8
// bytes of HMAC-SHA256 keyed by the seed over the big-endian index, so the
// first N codes of a longer expansion always equal the shorter expansion.
func CodesForDay(seed model.Seed, count int) ([]model.BeaconCode, error) {
	if count < 1 || count > MaxCodesPerDay {
		return nil, fmt.Errorf("codes per day %d out of range [1,%d]: %w", count, MaxCodesPerDay, model.ErrInvalidParameter)
	}
	codes := make([]model.BeaconCode, count)
	for i := range codes {
		codes[i] = codeAt(seed, i)
	}
	return codes, nil
}

func codeAt(seed model.Seed, index int) model.BeaconCode {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], uint64(seed))
	mac := hmac.New(sha256.New, key[:])
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(index))
	mac.Write(msg[:])
	sum := mac.Sum(nil)
	return model.BeaconCode(binary.BigEndian.Uint64(sum[:8]))
}

// DailySeed derives the device's own seed for a calendar day from its
// registration secret. Publishing the seed for a day discloses that day's
// codes and nothing else.
func DailySeed(secret []byte, day int) (model.Seed, error) {
	if len(secret) == 0 {
		return 0, fmt.Errorf("empty shared secret: %w", model.ErrInvalidParameter)
	}
	r := hkdf.New(sha256.New, secret, nil, []byte(fmt.Sprintf("beacontrace/day/%d", day)))
	var out [8]byte
	if _, err := r.Read(out[:]); err != nil {
		return 0, fmt.Errorf("derive daily seed: %w", err)
	}
	return model.Seed(binary.BigEndian.Uint64(out[:])), nil
}

// DayIndex is the calendar day of t, counted in UTC days since the epoch.
func DayIndex(t time.Time) int {
	return int(t.Unix() / 86400)
}
