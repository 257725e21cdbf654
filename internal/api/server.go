package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"beacontrace/internal/config"
	"beacontrace/internal/contactlog"
	"beacontrace/internal/device"
	"beacontrace/internal/model"
	"beacontrace/internal/risk"
)

// Diagnostics API bound to localhost by the host application. Exposes the
// component state a field engineer needs; it never exposes the shared
// secret or the device's own daily seeds.

type Server struct {
	cfg     *config.Manager
	log     *contactlog.Log
	engine  *risk.Engine
	device  *device.Device
	logger  *slog.Logger
	version string
}

type statusResponse struct {
	Status      string         `json:"status"`
	Time        string         `json:"time"`
	Version     string         `json:"version"`
	ConfigPath  string         `json:"config_path"`
	ScanState   string         `json:"scan_state"`
	Advertising bool           `json:"advertising"`
	Contacts    int            `json:"contacts"`
	OwnStatus   model.Status   `json:"own_status"`
	Message     string         `json:"message,omitempty"`
	Matching    matchingStatus `json:"matching"`
}

type matchingStatus struct {
	ProximityDBM      int    `json:"proximity_threshold_dbm"`
	ExposureThreshold int    `json:"exposure_threshold"`
	PeriodGranularity string `json:"period_granularity"`
	CodesPerDay       int    `json:"codes_per_day"`
}

func Start(ctx context.Context, cfg *config.Manager, log *contactlog.Log, engine *risk.Engine, dev *device.Device, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("diagnostics api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("diagnostics api enabled", "addr", current.Addr)
	}
	server := &Server{cfg: cfg, log: log, engine: engine, device: dev, logger: logger, version: version}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", server.handleStatus)
	mux.HandleFunc("/contacts", server.handleContacts)
	mux.HandleFunc("/advice", server.handleAdvice)
	mux.HandleFunc("/status/self", server.handleSelfReport)
	mux.HandleFunc("/admin/reset", server.handleReset)

	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("diagnostics api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Contacts:   s.log.Len(),
		OwnStatus:  s.engine.OwnStatus(),
		Matching: matchingStatus{
			ProximityDBM:      cfg.Matching.ProximityDBM,
			ExposureThreshold: cfg.Matching.ExposureThreshold,
			PeriodGranularity: cfg.Matching.PeriodGranularity.String(),
			CodesPerDay:       cfg.Beacon.CodesPerDay(),
		},
	}
	if s.device != nil {
		resp.Message = s.device.Message()
	}
	if s.device != nil && s.device.Scanner != nil {
		resp.ScanState = s.device.Scanner.State().String()
	}
	if s.device != nil && s.device.Broadcaster != nil {
		resp.Advertising = s.device.Broadcaster.Advertising()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleContacts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	contacts := s.log.Contacts()
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n < len(contacts) {
			contacts = contacts[len(contacts)-n:]
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"contacts": contacts,
		"count":    len(contacts),
	})
}

func (s *Server) handleAdvice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	result, ok := s.engine.Latest()
	if !ok {
		s.engine.Request()
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "pending"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSelfReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.device == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<16))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var in struct {
		Status model.Status `json:"status"`
	}
	if err := json.Unmarshal(body, &in); err != nil || !in.Status.Valid() {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	confirmed, err := s.device.ReportStatus(r.Context(), in.Status)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("self report failed", "err", err)
		}
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": confirmed})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.device != nil {
		s.device.Reset()
	} else {
		s.engine.Reset()
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
