package beacon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"beacontrace/internal/config"
	"beacontrace/internal/model"
)

// Rotator owns the device's live beacon code. It derives the running seed
// from the shared secret and the current calendar day and steps to the next
// code as wall-clock time crosses rotation boundaries. Subscribers (the
// broadcaster) are told about every rotation; delivery is non-blocking so a
// stalled subscriber can never stall rotation.
type Rotator struct {
	secret []byte
	period time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	current model.BeaconCode
	day     int
	index   int
	seed    model.Seed
	subs    []chan model.BeaconCode
}

func NewRotator(secret []byte, cfg config.BeaconConfig, logger *slog.Logger) *Rotator {
	return &Rotator{
		secret: secret,
		period: cfg.RotationPeriod,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Current returns the code that should be advertised right now.
func (r *Rotator) Current() model.BeaconCode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Subscribe returns a channel receiving each newly rotated code.
func (r *Rotator) Subscribe() <-chan model.BeaconCode {
	ch := make(chan model.BeaconCode, 4)
	r.mu.Lock()
	r.subs = append(r.subs, ch)
	r.mu.Unlock()
	return ch
}

func (r *Rotator) Start(ctx context.Context) {
	r.rotate(r.now())
	go func() {
		for {
			now := r.now()
			next := now.Truncate(r.period).Add(r.period)
			t := time.NewTimer(next.Sub(now))
			select {
			case <-t.C:
				r.rotate(r.now())
			case <-ctx.Done():
				t.Stop()
				return
			}
		}
	}()
}

func (r *Rotator) rotate(now time.Time) {
	day := DayIndex(now)
	index := int(now.Unix()%86400) / int(r.period.Seconds())

	r.mu.Lock()
	if r.seed == 0 || day != r.day {
		seed, err := DailySeed(r.secret, day)
		if err != nil {
			r.mu.Unlock()
			if r.logger != nil {
				r.logger.Error("daily seed derivation failed", "err", err)
			}
			return
		}
		r.seed = seed
		r.day = day
	}
	r.index = index
	r.current = codeAt(r.seed, index)
	code := r.current
	subs := r.subs
	r.mu.Unlock()

	if r.logger != nil {
		r.logger.Debug("beacon code rotated", "day", day, "index", index)
	}
	for _, ch := range subs {
		select {
		case ch <- code:
		default:
		}
	}
}
