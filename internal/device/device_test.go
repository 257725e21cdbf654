package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
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

var testSecret = []byte("0123456789abcdef")

type fakeSync struct {
	mu            sync.Mutex
	registrations int
	timeCalls     int
	offset        time.Duration
	settings      syncclient.Settings
	message       string
	reports       model.InfectionReports
}

func (f *fakeSync) GetTime(context.Context) (time.Duration, error) {
	f.mu.Lock()
	f.timeCalls++
	defer f.mu.Unlock()
	return f.offset, nil
}

func (f *fakeSync) GetRegistration(context.Context) (syncclient.Registration, error) {
	f.mu.Lock()
	f.registrations++
	f.mu.Unlock()
	return syncclient.Registration{SerialNumber: "SN-0042", SharedSecret: testSecret}, nil
}

func (f *fakeSync) PostStatus(_ context.Context, serialNumber, payload string) (model.Status, error) {
	plaintext, err := statuschan.Decrypt(testSecret, payload)
	if err != nil {
		return "", fmt.Errorf("server decrypt: %w", err)
	}
	parts := strings.SplitN(plaintext, "|", 2)
	if len(parts) != 2 {
		return "", errors.New("bad payload")
	}
	return model.Status(parts[1]), nil
}

func (f *fakeSync) GetMessage(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.message, nil
}

func (f *fakeSync) GetSettings(context.Context) (syncclient.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settings == nil {
		return syncclient.Settings{}, nil
	}
	return f.settings, nil
}

func (f *fakeSync) GetInfectionReports(context.Context) (model.InfectionReports, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reports, nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Beacon.RotationPeriod = 2 * time.Hour
	cfg.API.Enabled = false
	return cfg
}

func newTestDevice(cfg *config.Config, fs *fakeSync, port radio.Port) (*Device, *risk.Engine, *contactlog.Log) {
	mgr := config.NewStaticManager(cfg)
	log := contactlog.New(nil, nil)
	engine := risk.NewEngine(cfg, log, nil, nil)
	dev := New(mgr, registry.NewMemory(), fs, port, log, engine, nil)
	return dev, engine, log
}

func TestRegisterIdempotent(t *testing.T) {
	fs := &fakeSync{}
	dev, _, _ := newTestDevice(testConfig(), fs, radio.NewHub().NewPort())

	if err := dev.Register(context.Background()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := dev.Register(context.Background()); err != nil {
		t.Fatalf("second register: %v", err)
	}
	if fs.registrations != 1 {
		t.Fatalf("registration fetched %d times", fs.registrations)
	}
}

func TestReportStatusAppliesConfirmedValue(t *testing.T) {
	fs := &fakeSync{}
	dev, engine, _ := newTestDevice(testConfig(), fs, radio.NewHub().NewPort())
	if err := dev.Register(context.Background()); err != nil {
		t.Fatalf("register: %v", err)
	}

	confirmed, err := dev.ReportStatus(context.Background(), model.StatusSymptomatic)
	if err != nil {
		t.Fatalf("report status: %v", err)
	}
	if confirmed != model.StatusSymptomatic {
		t.Fatalf("confirmed %s", confirmed)
	}
	if engine.OwnStatus() != model.StatusSymptomatic {
		t.Fatalf("engine own status %s", engine.OwnStatus())
	}
}

func TestReportStatusUnregistered(t *testing.T) {
	fs := &fakeSync{}
	dev, _, _ := newTestDevice(testConfig(), fs, radio.NewHub().NewPort())
	if _, err := dev.ReportStatus(context.Background(), model.StatusHealthy); !errors.Is(err, model.ErrUnregistered) {
		t.Fatalf("expected ErrUnregistered, got %v", err)
	}
}

func TestStartDetectsAdvertisingPeer(t *testing.T) {
	cfg := testConfig()
	hub := radio.NewHub()
	devPort := hub.NewPort()
	peerPort := hub.NewPort()
	peerPort.SetSignalStrength(-52)

	// the "peer" is just a raw advertisement of a known seed's first code
	peerSeed := model.Seed(0xF00D)
	codes, err := beacon.CodesForDay(peerSeed, cfg.Beacon.CodesPerDay())
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	fs := &fakeSync{reports: model.InfectionReports{peerSeed: model.StatusConfirmed}}

	dev, engine, log := newTestDevice(cfg, fs, devPort)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := dev.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := peerPort.StartAdvertising(radio.ServiceID, radio.CharacteristicForCode(codes[0])); err != nil {
		t.Fatalf("peer advertise: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for log.Len() == 0 {
		select {
		case <-deadline:
			t.Fatalf("peer advertisement never detected")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	engine.Request()
	for {
		if res, ok := engine.Latest(); ok && res.Contacts > 0 {
			if res.Advice != model.AdviceSelfIsolation || res.ContactStatus != model.StatusConfirmed {
				t.Fatalf("got (%s, %s)", res.Advice, res.ContactStatus)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("risk analysis never matched the contact")
		default:
			time.Sleep(5 * time.Millisecond)
		}
		engine.Request()
	}
}

func TestApplyServerSettingsOverridesMatching(t *testing.T) {
	cfg := testConfig()
	next, changed := applyServerSettings(cfg, syncclient.Settings{
		"proximity_threshold_dbm": "-60",
		"exposure_threshold":      "5",
	})
	if !changed {
		t.Fatalf("valid settings reported no change")
	}
	if next.Matching.ProximityDBM != -60 || next.Matching.ExposureThreshold != 5 {
		t.Fatalf("overlay gave (%d, %d)", next.Matching.ProximityDBM, next.Matching.ExposureThreshold)
	}
	if cfg.Matching.ProximityDBM != -70 || cfg.Matching.ExposureThreshold != 1 {
		t.Fatalf("overlay mutated the base config")
	}
}

func TestApplyServerSettingsIgnoresBadValues(t *testing.T) {
	cfg := testConfig()
	for _, settings := range []syncclient.Settings{
		{"proximity_threshold_dbm": "sixty"},
		{"proximity_threshold_dbm": "60"}, // dBm must be negative
		{"exposure_threshold": "0"},
		{"unknown_key": "1"},
		{},
	} {
		if _, changed := applyServerSettings(cfg, settings); changed {
			t.Fatalf("settings %v were applied", settings)
		}
	}
}

func TestStartChecksClockAndPollsMessage(t *testing.T) {
	fs := &fakeSync{message: "service maintenance tonight"}
	dev, _, _ := newTestDevice(testConfig(), fs, radio.NewHub().NewPort())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := dev.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	fs.mu.Lock()
	timeCalls := fs.timeCalls
	fs.mu.Unlock()
	if timeCalls != 1 {
		t.Fatalf("server time checked %d times at start", timeCalls)
	}

	deadline := time.After(2 * time.Second)
	for dev.Message() != "service maintenance tonight" {
		select {
		case <-deadline:
			t.Fatalf("operator message never fetched: %q", dev.Message())
		default:
			time.Sleep(2 * time.Millisecond)
		}
	}
}

func TestPushDetectionEntersLog(t *testing.T) {
	fs := &fakeSync{}
	dev, _, log := newTestDevice(testConfig(), fs, radio.NewHub().NewPort())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := dev.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	payload := radio.EncodeDetection(model.BeaconCode(0xBEEF), -77)
	if err := dev.Broadcaster.HandleWrite(payload); err != nil {
		t.Fatalf("push write: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for log.Len() == 0 {
		select {
		case <-deadline:
			t.Fatalf("pushed detection never logged")
		default:
			time.Sleep(2 * time.Millisecond)
		}
	}
	c := log.Contacts()[0]
	if c.Code != 0xBEEF || c.SignalStrength != -77 {
		t.Fatalf("logged contact (%s, %d)", c.Code, c.SignalStrength)
	}
}
