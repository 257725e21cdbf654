package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BeaconCode is the rotating 64-bit pseudonymous identifier a device
// broadcasts. A code is never reused across rotation periods by the same
// device and is never persisted beyond its rotation.
type BeaconCode uint64

func (c BeaconCode) String() string {
	return fmt.Sprintf("%016x", uint64(c))
}

// ParseBeaconCode decodes the hex form produced by BeaconCode.String.
func ParseBeaconCode(v string) (BeaconCode, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(v), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse beacon code %q: %w", v, err)
	}
	return BeaconCode(n), nil
}

// Seed is the published value from which a full day of beacon codes can be
// regenerated deterministically.
type Seed uint64

func (s Seed) String() string {
	return fmt.Sprintf("%016x", uint64(s))
}

// ParseSeed decodes the hex form produced by Seed.String.
func ParseSeed(v string) (Seed, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(v), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse seed %q: %w", v, err)
	}
	return Seed(n), nil
}

// Status is a device health status. Statuses form a total order by severity;
// compare with Rank, never with string comparison.
type Status string

const (
	StatusHealthy     Status = "healthy"
	StatusSymptomatic Status = "symptomatic"
	StatusConfirmed   Status = "confirmedDiagnosis"
)

func (s Status) Rank() int {
	switch s {
	case StatusSymptomatic:
		return 1
	case StatusConfirmed:
		return 2
	default:
		return 0
	}
}

func (s Status) Valid() bool {
	switch s {
	case StatusHealthy, StatusSymptomatic, StatusConfirmed:
		return true
	}
	return false
}

// MaxStatus returns the more severe of a and b.
func MaxStatus(a, b Status) Status {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

type Advice string

const (
	AdviceNormal        Advice = "normal"
	AdviceSelfIsolation Advice = "selfIsolation"
)

// Contact is one detection of a peer beacon. Immutable once written; removed
// only by retention pruning.
type Contact struct {
	Time           time.Time  `json:"time"`
	Code           BeaconCode `json:"code"`
	SignalStrength int        `json:"signal_strength"`
}

// InfectionReports maps a published code seed to the reporting device's
// status. The set is read-only and only ever replaced wholesale on refresh.
type InfectionReports map[Seed]Status
