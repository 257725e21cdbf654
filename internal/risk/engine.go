package risk

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"beacontrace/internal/config"
	"beacontrace/internal/contactlog"
	"beacontrace/internal/model"
)

// ResultPersister records finished analyses. Satisfied by storage.Store;
// nil disables persistence.
type ResultPersister interface {
	SaveResult(ctx context.Context, r Result) error
}

// Engine runs matching off the detection path. All recomputation happens on
// a single worker goroutine fed by a request channel, against a contact
// snapshot, so detection delivery is never blocked and the log is never
// read mid-mutation. Infection reports are only ever replaced wholesale.
type Engine struct {
	logger *slog.Logger
	log    *contactlog.Log
	store  ResultPersister

	cfg     atomic.Value
	reports atomic.Value

	mu     sync.RWMutex
	own    model.Status
	latest *Result
	subs   []func(Result)

	recompute chan struct{}
}

func NewEngine(cfg *config.Config, log *contactlog.Log, store ResultPersister, logger *slog.Logger) *Engine {
	e := &Engine{
		logger:    logger,
		log:       log,
		store:     store,
		own:       model.StatusHealthy,
		recompute: make(chan struct{}, 1),
	}
	e.cfg.Store(cfg)
	e.reports.Store(model.InfectionReports{})
	return e
}

func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
	e.Request()
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

// SetReports replaces the infection report set and schedules a rerun.
func (e *Engine) SetReports(reports model.InfectionReports) {
	if reports == nil {
		reports = model.InfectionReports{}
	}
	e.reports.Store(reports)
	e.Request()
}

func (e *Engine) Reports() model.InfectionReports {
	if v := e.reports.Load(); v != nil {
		return v.(model.InfectionReports)
	}
	return model.InfectionReports{}
}

// SetOwnStatus records the device's self-reported status. Callers must only
// pass values already confirmed (or about to be submitted) upstream; a stale
// confirmation arriving later must not overwrite a newer value.
func (e *Engine) SetOwnStatus(s model.Status) {
	if !s.Valid() {
		return
	}
	e.mu.Lock()
	e.own = s
	e.mu.Unlock()
	e.Request()
}

func (e *Engine) OwnStatus() model.Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.own
}

func (e *Engine) Latest() (Result, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.latest == nil {
		return Result{}, false
	}
	return *e.latest, true
}

// Subscribe registers a callback invoked after every completed run.
// Delivery order across subscribers is unspecified.
func (e *Engine) Subscribe(fn func(Result)) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	e.subs = append(e.subs, fn)
	e.mu.Unlock()
}

// Request schedules a recomputation; coalesces with one already pending.
func (e *Engine) Request() {
	select {
	case e.recompute <- struct{}{}:
	default:
	}
}

func (e *Engine) Start(ctx context.Context) {
	go func() {
		interval := e.config().Matching.RecomputeInterval
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-e.recompute:
				e.run(ctx)
			case <-ticker.C:
				e.run(ctx)
			case <-ctx.Done():
				return
			}
			// a config reload may have changed the recompute interval
			if next := e.config().Matching.RecomputeInterval; next > 0 && next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}()
}

func (e *Engine) run(ctx context.Context) {
	cfg := e.config()
	contacts := e.log.Contacts()
	result, err := Analyze(contacts, e.Reports(), e.OwnStatus(), cfg.Matching, cfg.Beacon.CodesPerDay(), e.logger)
	if err != nil {
		if e.logger != nil {
			e.logger.Error("risk analysis failed", "err", err)
		}
		return
	}

	e.mu.Lock()
	e.latest = &result
	subs := e.subs
	e.mu.Unlock()

	if e.logger != nil {
		e.logger.Info("risk analysis complete",
			"advice", string(result.Advice),
			"contact_status", string(result.ContactStatus),
			"contacts", result.Contacts,
			"reports", result.Reports,
		)
	}
	if e.store != nil {
		if err := e.store.SaveResult(ctx, result); err != nil && e.logger != nil {
			e.logger.Warn("result persistence failed", "err", err)
		}
	}
	for _, fn := range subs {
		fn(result)
	}
}

// Reset drops the latest result and returns the own status to healthy. The
// contact log is cleared by its owner, not here.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.latest = nil
	e.own = model.StatusHealthy
	e.mu.Unlock()
}
