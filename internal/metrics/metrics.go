// Package metrics exposes sync counters in the Prometheus format.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tgarchive"

// Metrics holds the collectors updated by the sync engine.
type Metrics struct {
	registry *prometheus.Registry

	MessagesArchived prometheus.Counter
	MediaArchived    prometheus.Counter
	MessagesSkipped  prometheus.Counter
	FloodWaits       prometheus.Counter
	FloodWaitSeconds prometheus.Counter
	SyncRuns         *prometheus.CounterVec
	SyncDuration     prometheus.Histogram
	LastMessageID    prometheus.Gauge
	LastSuccess      prometheus.Gauge
}

// New creates the collectors on a fresh registry that also carries the Go
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		MessagesArchived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_archived_total",
			Help:      "Messages written to the archive.",
		}),
		MediaArchived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_archived_total",
			Help:      "Media records written to the archive.",
		}),
		MessagesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_skipped_total",
			Help:      "Messages skipped because their sender could not be resolved.",
		}),
		FloodWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flood_waits_total",
			Help:      "Flood wait responses received while fetching history.",
		}),
		FloodWaitSeconds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flood_wait_seconds_total",
			Help:      "Time spent sleeping on flood waits.",
		}),
		SyncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Sync runs by mode and result.",
		}, []string{"mode", "result"}),
		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of sync runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200, 21600},
		}),
		LastMessageID: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_message_id",
			Help:      "Highest message id written by the last run.",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful sync run.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.MessagesArchived,
		m.MediaArchived,
		m.MessagesSkipped,
		m.FloodWaits,
		m.FloodWaitSeconds,
		m.SyncRuns,
		m.SyncDuration,
		m.LastMessageID,
		m.LastSuccess,
	)
	return m
}

// ObserveFloodWait records a flood wait of d.
func (m *Metrics) ObserveFloodWait(d time.Duration) {
	m.FloodWaits.Inc()
	m.FloodWaitSeconds.Add(d.Seconds())
}

// ObserveRun records the outcome of a sync run.
func (m *Metrics) ObserveRun(mode string, lastID int64, d time.Duration, err error) {
	result := "success"
	switch {
	case errors.Is(err, context.Canceled):
		result = "cancelled"
	case err != nil:
		result = "error"
	}
	m.SyncRuns.WithLabelValues(mode, result).Inc()
	m.SyncDuration.Observe(d.Seconds())
	if lastID > 0 {
		m.LastMessageID.Set(float64(lastID))
	}
	if err == nil {
		m.LastSuccess.SetToCurrentTime()
	}
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Metrics server started", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Metrics server shutdown failed", "error", err)
		}
		return nil
	}
}
