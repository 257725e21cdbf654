package sync

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"beacontrace/internal/config"
	"beacontrace/internal/model"
)

// Registration is the credential pair issued by the server. The shared
// secret is immutable once registration succeeds.
type Registration struct {
	SerialNumber string
	SharedSecret []byte
}

type Settings map[string]string

// Client is the synchronization collaborator. Every call is idempotent and
// safely repeatable; none is ever invoked from the detection path.
type Client interface {
	GetTime(ctx context.Context) (time.Duration, error)
	GetRegistration(ctx context.Context) (Registration, error)
	PostStatus(ctx context.Context, serialNumber, payload string) (model.Status, error)
	GetMessage(ctx context.Context, serialNumber string) (string, error)
	GetSettings(ctx context.Context) (Settings, error)
	GetInfectionReports(ctx context.Context) (model.InfectionReports, error)
}

// HTTPClient talks JSON to the sync server. Each installation identifies
// itself with a locally generated UUID until registration assigns a serial.
type HTTPClient struct {
	base         string
	http         *http.Client
	installation string
	logger       *slog.Logger
}

func NewHTTPClient(cfg config.SyncConfig, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		base:         strings.TrimRight(cfg.BaseURL, "/"),
		http:         &http.Client{Timeout: cfg.Timeout},
		installation: uuid.NewString(),
		logger:       logger,
	}
}

// GetTime returns the offset of the server clock relative to local time.
func (c *HTTPClient) GetTime(ctx context.Context) (time.Duration, error) {
	var out struct {
		Time int64 `json:"time"`
	}
	if err := c.do(ctx, http.MethodGet, "/time", nil, &out); err != nil {
		return 0, err
	}
	return time.Unix(out.Time, 0).Sub(time.Now()), nil
}

func (c *HTTPClient) GetRegistration(ctx context.Context) (Registration, error) {
	var out struct {
		SerialNumber string `json:"serial_number"`
		SharedSecret string `json:"shared_secret"`
	}
	path := "/registration?installation=" + url.QueryEscape(c.installation)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return Registration{}, err
	}
	secret, err := base64.StdEncoding.DecodeString(out.SharedSecret)
	if err != nil {
		return Registration{}, fmt.Errorf("decode shared secret: %w", err)
	}
	if out.SerialNumber == "" || len(secret) == 0 {
		return Registration{}, fmt.Errorf("registration response incomplete: %w", model.ErrUnregistered)
	}
	return Registration{SerialNumber: out.SerialNumber, SharedSecret: secret}, nil
}

func (c *HTTPClient) PostStatus(ctx context.Context, serialNumber, payload string) (model.Status, error) {
	in := map[string]string{"serial_number": serialNumber, "payload": payload}
	var out struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodPost, "/status", in, &out); err != nil {
		return "", err
	}
	return model.Status(out.Status), nil
}

func (c *HTTPClient) GetMessage(ctx context.Context, serialNumber string) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	path := "/message?serial_number=" + url.QueryEscape(serialNumber)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

func (c *HTTPClient) GetSettings(ctx context.Context) (Settings, error) {
	out := Settings{}
	if err := c.do(ctx, http.MethodGet, "/settings", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) GetInfectionReports(ctx context.Context) (model.InfectionReports, error) {
	var out struct {
		Reports map[string]string `json:"reports"`
	}
	if err := c.do(ctx, http.MethodGet, "/infection-reports", nil, &out); err != nil {
		return nil, err
	}
	return DecodeReports(out.Reports, c.logger), nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sync %s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(out)
}

// DecodeReports turns a seed-hex to status wire map into the typed report
// set. Entries that fail to parse are dropped with a warning; a partial
// report set is still usable, stale data carries to the next cycle.
func DecodeReports(raw map[string]string, logger *slog.Logger) model.InfectionReports {
	reports := make(model.InfectionReports, len(raw))
	for seedHex, statusText := range raw {
		seed, err := model.ParseSeed(seedHex)
		if err != nil {
			if logger != nil {
				logger.Warn("dropping malformed report seed", "seed", seedHex, "err", err)
			}
			continue
		}
		status := model.Status(statusText)
		if !status.Valid() {
			if logger != nil {
				logger.Warn("dropping report with unknown status", "seed", seedHex, "status", statusText)
			}
			continue
		}
		reports[seed] = status
	}
	return reports
}
