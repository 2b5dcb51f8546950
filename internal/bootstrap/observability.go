package bootstrap

import (
	"log/slog"

	"github.com/agromarket/marketgate/config"
	"github.com/agromarket/marketgate/internal/observability/metrics"
	"github.com/agromarket/marketgate/internal/observability/statsd"
)

// ObservabilityContainer holds the metrics plumbing.
type ObservabilityContainer struct {
	Recorder *metrics.AccessRecorder
	// StatsD is nil when emission is disabled.
	StatsD *statsd.Client
}

// Close releases the StatsD socket.
func (o ObservabilityContainer) Close() error {
	if o.StatsD == nil {
		return nil
	}
	return o.StatsD.Close()
}

// BuildObservability configures the StatsD client and the Prometheus
// recorder. A StatsD failure is logged and emission disabled; the gateway
// never refuses to start over metrics.
func BuildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) (ObservabilityContainer, error) {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var out ObservabilityContainer
	var sink statsd.Sink
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled:    true,
			Address:    cfg.Metrics.StatsdAddress,
			Prefix:     cfg.Metrics.Prefix,
			GlobalTags: cfg.Metrics.GlobalTags,
			Logger:     obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			out.StatsD = client
			sink = client
		}
	}

	if !cfg.Prometheus.Enabled && sink == nil {
		return out, nil
	}

	rec, err := metrics.NewAccessRecorder(metrics.Options{
		Sink:      sink,
		Namespace: cfg.Prometheus.Namespace,
	})
	if err != nil {
		return out, err
	}
	out.Recorder = rec
	return out, nil
}
