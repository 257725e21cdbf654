package risk

import (
	"log/slog"
	"time"

	"beacontrace/internal/beacon"
	"beacontrace/internal/config"
	"beacontrace/internal/model"
)

// Result is the outcome of one matching run: the two provenance channels
// (own reported status vs contact-derived status) plus the per-class
// exposure totals behind them.
type Result struct {
	Advice        model.Advice         `json:"advice"`
	ContactStatus model.Status         `json:"contact_status"`
	Totals        map[model.Status]int `json:"exposure_totals"`
	Contacts      int                  `json:"contacts"`
	Reports       int                  `json:"reports"`
	ComputedAt    time.Time            `json:"computed_at"`
}

// BuildIndex expands every report seed into its full day of codes. When two
// seeds expand to the same code with differing statuses the higher severity
// wins; the collision is logged as an anomaly, never dropped. Resolution is
// commutative, so map iteration order cannot change the outcome.
func BuildIndex(reports model.InfectionReports, codesPerDay int, logger *slog.Logger) (map[model.BeaconCode]model.Status, error) {
	index := make(map[model.BeaconCode]model.Status, len(reports)*codesPerDay)
	for seed, status := range reports {
		codes, err := beacon.CodesForDay(seed, codesPerDay)
		if err != nil {
			return nil, err
		}
		for _, code := range codes {
			mergeCode(index, code, status, logger)
		}
	}
	return index, nil
}

func mergeCode(index map[model.BeaconCode]model.Status, code model.BeaconCode, status model.Status, logger *slog.Logger) {
	prev, seen := index[code]
	if seen && prev != status {
		if logger != nil {
			logger.Warn("seed collision",
				"code", code.String(),
				"kept", string(model.MaxStatus(prev, status)),
				"dropped", string(minStatus(prev, status)),
			)
		}
		index[code] = model.MaxStatus(prev, status)
		return
	}
	index[code] = status
}

// Analyze matches the contact snapshot against the published reports. Pure
// over its inputs apart from the ComputedAt stamp: the same log, report set
// and own status always produce the same advice and contact status.
func Analyze(contacts []model.Contact, reports model.InfectionReports, own model.Status, cfg config.MatchingConfig, codesPerDay int, logger *slog.Logger) (Result, error) {
	index, err := BuildIndex(reports, codesPerDay, logger)
	if err != nil {
		return Result{}, err
	}

	// strongest signal per discrete time period, per severity class
	overTime := map[model.Status]map[int64]int{
		model.StatusSymptomatic: {},
		model.StatusConfirmed:   {},
	}
	for _, c := range contacts {
		status, matched := index[c.Code]
		if !matched || status == model.StatusHealthy {
			continue
		}
		period := c.Time.Truncate(cfg.PeriodGranularity).Unix()
		periods := overTime[status]
		if best, ok := periods[period]; !ok || c.SignalStrength > best {
			periods[period] = c.SignalStrength
		}
	}

	// histogram of signal strength to period count, thresholded per class
	totals := make(map[model.Status]int, len(overTime))
	for status, periods := range overTime {
		proximity := make(map[int]int, len(periods))
		for _, strongest := range periods {
			proximity[strongest]++
		}
		total := 0
		for dbm, count := range proximity {
			if dbm >= cfg.ProximityDBM {
				total += count
			}
		}
		totals[status] = total
	}

	contactStatus := model.StatusHealthy
	for _, status := range []model.Status{model.StatusSymptomatic, model.StatusConfirmed} {
		if totals[status] > 0 {
			contactStatus = model.MaxStatus(contactStatus, status)
		}
	}

	advice := cfg.DefaultAdvice
	combined := totals[model.StatusSymptomatic] + totals[model.StatusConfirmed]
	if own != model.StatusHealthy || combined >= cfg.ExposureThreshold {
		advice = model.AdviceSelfIsolation
	}

	return Result{
		Advice:        advice,
		ContactStatus: contactStatus,
		Totals:        totals,
		Contacts:      len(contacts),
		Reports:       len(reports),
		ComputedAt:    time.Now().UTC(),
	}, nil
}

func minStatus(a, b model.Status) model.Status {
	if a.Rank() < b.Rank() {
		return a
	}
	return b
}
