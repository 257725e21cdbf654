package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"beacontrace/internal/beacon"
	"beacontrace/internal/config"
	"beacontrace/internal/contactlog"
	"beacontrace/internal/model"
	"beacontrace/internal/radio"
	"beacontrace/internal/registry"
	"beacontrace/internal/risk"
	"beacontrace/internal/statuschan"
	syncclient "beacontrace/internal/sync"
)

// Device wires the components into one running node: registration, code
// rotation, the dual-role transceiver, the contact log, the risk engine and
// the status channel. Each component keeps a single logical owner; handoffs
// happen through the detection notifier and the contact log only.
type Device struct {
	cfg      *config.Manager
	logger   *slog.Logger
	registry registry.Registry
	sync     syncclient.Client
	port     radio.Port

	Log     *contactlog.Log
	Engine  *risk.Engine
	Channel *statuschan.Channel

	Rotator     *beacon.Rotator
	Broadcaster *radio.Broadcaster
	Scanner     *radio.Scanner
	Notifier    *radio.Notifier

	mu        sync.Mutex
	reportSeq uint64
	message   string
}

func New(cfg *config.Manager, reg registry.Registry, sc syncclient.Client, port radio.Port, log *contactlog.Log, engine *risk.Engine, logger *slog.Logger) *Device {
	return &Device{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		sync:     sc,
		port:     port,
		Log:      log,
		Engine:   engine,
		Channel:  statuschan.NewChannel(sc, logger),
		Notifier: radio.NewNotifier(logger),
	}
}

// Register obtains credentials from the sync server if the device has none
// yet. Idempotent: an already registered device returns immediately.
func (d *Device) Register(ctx context.Context) error {
	if _, _, ok := d.registry.Credentials(); ok {
		return nil
	}
	reg, err := d.sync.GetRegistration(ctx)
	if err != nil {
		return fmt.Errorf("registration: %w", err)
	}
	if err := d.registry.SetCredentials(reg.SerialNumber, reg.SharedSecret); err != nil {
		return err
	}
	if d.logger != nil {
		d.logger.Info("device registered", "serial_number", reg.SerialNumber)
	}
	return nil
}

// Start registers if needed and brings up rotation, both transceiver roles,
// retention pruning, the risk worker and the report feeds. Components stop
// when ctx is cancelled.
func (d *Device) Start(ctx context.Context) error {
	if err := d.Register(ctx); err != nil {
		return err
	}
	_, secret, ok := d.registry.Credentials()
	if !ok {
		return model.ErrUnregistered
	}
	cfg := d.cfg.Get()

	// rotation boundaries are wall-clock; a badly skewed clock advertises
	// codes the report matching will miss
	if offset, err := d.sync.GetTime(ctx); err != nil {
		if d.logger != nil {
			d.logger.Warn("server time fetch failed", "err", err)
		}
	} else if offset.Abs() >= cfg.Beacon.RotationPeriod && d.logger != nil {
		d.logger.Warn("local clock skew exceeds rotation period", "offset", offset.String())
	}

	d.Notifier.Subscribe(func(code model.BeaconCode, signalStrength int) {
		d.Log.Insert(time.Now().UTC(), code, signalStrength)
	})

	d.Rotator = beacon.NewRotator(secret, cfg.Beacon, d.logger)
	d.Rotator.Start(ctx)

	d.Broadcaster = radio.NewBroadcaster(d.port, d.Rotator, d.Notifier, cfg.Radio.PushEnabled, d.logger)
	if err := d.Broadcaster.Start(ctx); err != nil {
		return fmt.Errorf("broadcaster: %w", err)
	}
	d.Scanner = radio.NewScanner(d.port, d.Notifier, d.logger)
	if err := d.Scanner.Start(); err != nil {
		return fmt.Errorf("scanner: %w", err)
	}

	d.Log.StartPruning(ctx, cfg.Beacon.Retention, cfg.Beacon.PruneInterval)
	d.Engine.Start(ctx)

	pollReports := true
	if cfg.Sync.Kafka.Enabled {
		syncclient.StartReportFeed(ctx, cfg.Sync.Kafka, d.Engine.SetReports, d.logger)
		pollReports = false
	}
	d.startSyncPolling(ctx, cfg.Sync.PollInterval, pollReports)
	return nil
}

// startSyncPolling periodically pulls infection reports (unless they arrive
// over kafka), server-tuned matching settings and the operator message.
func (d *Device) startSyncPolling(ctx context.Context, interval time.Duration, pollReports bool) {
	poll := func() {
		if pollReports {
			d.pollReports(ctx)
		}
		d.pollSettings(ctx)
		d.pollMessage(ctx)
	}
	go func() {
		poll()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				poll()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (d *Device) pollReports(ctx context.Context) {
	reports, err := d.sync.GetInfectionReports(ctx)
	if err != nil {
		if d.logger != nil {
			d.logger.Warn("infection report fetch failed", "err", err)
		}
		return
	}
	if d.logger != nil {
		d.logger.Info("infection reports received", "source", "http", "count", len(reports))
	}
	d.Engine.SetReports(reports)
}

func (d *Device) pollSettings(ctx context.Context) {
	settings, err := d.sync.GetSettings(ctx)
	if err != nil {
		if d.logger != nil {
			d.logger.Warn("settings fetch failed", "err", err)
		}
		return
	}
	next, changed := applyServerSettings(d.cfg.Get(), settings)
	if !changed {
		return
	}
	if d.logger != nil {
		d.logger.Info("server settings applied",
			"proximity_threshold_dbm", next.Matching.ProximityDBM,
			"exposure_threshold", next.Matching.ExposureThreshold,
		)
	}
	d.Engine.UpdateConfig(next)
}

// applyServerSettings overlays the server-tunable matching parameters onto a
// copy of the local config. Unknown keys and unparsable values are ignored.
func applyServerSettings(cfg *config.Config, settings syncclient.Settings) (*config.Config, bool) {
	next := *cfg
	changed := false
	if v, ok := settings["proximity_threshold_dbm"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n < 0 && n != next.Matching.ProximityDBM {
			next.Matching.ProximityDBM = n
			changed = true
		}
	}
	if v, ok := settings["exposure_threshold"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n != next.Matching.ExposureThreshold {
			next.Matching.ExposureThreshold = n
			changed = true
		}
	}
	return &next, changed
}

func (d *Device) pollMessage(ctx context.Context) {
	serial, _, ok := d.registry.Credentials()
	if !ok {
		return
	}
	msg, err := d.sync.GetMessage(ctx, serial)
	if err != nil {
		if d.logger != nil {
			d.logger.Warn("message fetch failed", "err", err)
		}
		return
	}
	d.mu.Lock()
	changed := msg != d.message
	d.message = msg
	d.mu.Unlock()
	if changed && msg != "" && d.logger != nil {
		d.logger.Info("operator message received")
	}
}

// Message returns the latest operator message fetched from the sync server.
func (d *Device) Message() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.message
}

// RadioPower stops or restarts both transceiver roles; the only externally
// triggered transition outside a detection transaction.
func (d *Device) RadioPower(ctx context.Context, on bool) error {
	if d.Scanner == nil || d.Broadcaster == nil {
		return errors.New("transceiver not started")
	}
	if !on {
		d.Scanner.Stop()
		d.Broadcaster.Stop()
		return nil
	}
	if err := d.Broadcaster.Start(ctx); err != nil {
		return err
	}
	return d.Scanner.Start()
}

// ReportStatus posts the user's self-reported status upstream and applies
// the confirmed value locally. A confirmation that arrives after a newer
// report was issued is returned to the caller but not applied, so a stale
// post can never overwrite a newer local status.
func (d *Device) ReportStatus(ctx context.Context, status model.Status) (model.Status, error) {
	serial, secret, ok := d.registry.Credentials()
	if !ok {
		return "", model.ErrUnregistered
	}
	d.mu.Lock()
	d.reportSeq++
	seq := d.reportSeq
	d.mu.Unlock()

	confirmed, err := d.Channel.Post(ctx, status, time.Now().UTC(), serial, secret)
	if err != nil {
		return confirmed, err
	}

	d.mu.Lock()
	stale := seq != d.reportSeq
	d.mu.Unlock()
	if stale {
		if d.logger != nil {
			d.logger.Info("discarding stale status confirmation", "status", string(confirmed))
		}
		return confirmed, nil
	}
	d.Engine.SetOwnStatus(confirmed)
	return confirmed, nil
}

// Reset wipes the contact log and the engine state; registration survives.
func (d *Device) Reset() {
	d.Log.Clear()
	d.Engine.Reset()
	d.Engine.Request()
}
