package sync

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"beacontrace/internal/config"
	"beacontrace/internal/model"
)

// StartReportFeed consumes infection-report sets from a health-authority
// topic as an alternative to HTTP polling. Each message carries a complete
// seed-hex to status map and replaces the previous set wholesale.
func StartReportFeed(ctx context.Context, cfg config.KafkaConfig, onReports func(model.InfectionReports), logger *slog.Logger) {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("kafka report feed disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka report feed enabled", "brokers", cfg.Brokers, "topic", cfg.Topic, "group_id", cfg.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				continue
			}
			var raw map[string]string
			if err := json.Unmarshal(m.Value, &raw); err != nil {
				if logger != nil {
					logger.Warn("kafka report decode error", "err", err)
				}
				continue
			}
			reports := DecodeReports(raw, logger)
			if logger != nil {
				logger.Info("infection reports received", "source", "kafka", "count", len(reports))
			}
			onReports(reports)
		}
	}()
}
