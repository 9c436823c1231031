package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons for PostDropped.
const (
	ReasonUnknownChannel = "unknown_channel"
	ReasonNoSubscribers  = "no_subscribers"
	ReasonAlreadySeen    = "already_seen"
	ReasonQueueClosed    = "queue_closed"
)

// Metrics holds relay counters. The zero value is not usable, use New.
type Metrics struct {
	registry *prometheus.Registry

	postsReceived  prometheus.Counter
	postsDropped   *prometheus.CounterVec
	deliveries     *prometheus.CounterVec
	fetchAttempts  *prometheus.CounterVec
	activeChannels prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		postsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_posts_received_total",
			Help: "Total number of posts accepted from the source",
		}),
		postsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_posts_dropped_total",
			Help: "Total number of posts dropped before delivery",
		}, []string{"reason"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_deliveries_total",
			Help: "Total number of per-subscriber deliveries",
		}, []string{"result"}),
		fetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_media_fetch_attempts_total",
			Help: "Total number of media download attempts",
		}, []string{"result"}),
		activeChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_channels",
			Help: "Number of channels with at least one subscriber",
		}),
	}

	m.registry.MustRegister(
		m.postsReceived,
		m.postsDropped,
		m.deliveries,
		m.fetchAttempts,
		m.activeChannels,
		collectors.NewGoCollector(),
	)

	return m
}

func (m *Metrics) PostReceived() {
	m.postsReceived.Inc()
}

func (m *Metrics) PostDropped(reason string) {
	m.postsDropped.WithLabelValues(reason).Inc()
}

// DeliveryDone records the outcome of a delivery to one subscriber.
func (m *Metrics) DeliveryDone(err error) {
	m.deliveries.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) ObserveFetchAttempt(err error) {
	m.fetchAttempts.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) SetActiveChannels(n int) {
	m.activeChannels.Set(float64(n))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serving metrics: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutting down metrics server: %w", err)
	}

	return nil
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
