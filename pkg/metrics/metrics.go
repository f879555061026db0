// Package metrics exposes run progress as prometheus collectors and a
// small HTTP status endpoint.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

const namespace = "edgesig"

// Outcome labels for EdgesTotal
const (
	OutcomeOK         = "ok"
	OutcomeDegenerate = "degenerate"
	OutcomeSkipped    = "skipped"
	OutcomeFailed     = "failed"
)

// Metrics groups the collectors of one run
type Metrics struct {
	Registry *prometheus.Registry

	EdgesTotal    *prometheus.CounterVec
	ChunksTotal   *prometheus.CounterVec
	ChunkDuration prometheus.Histogram
	ChunkEdges    prometheus.Histogram
	Rejected      prometheus.Gauge
	FinalRows     prometheus.Gauge
	InFlightChunk prometheus.Gauge

	Status *Status
}

// New registers the collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		Status:   &Status{},
		EdgesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edges_total",
			Help:      "Edges processed, by outcome.",
		}, []string{"outcome"}),
		ChunksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_total",
			Help:      "Chunks finished, by status (written, resumed, failed).",
		}, []string{"status"}),
		ChunkDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_duration_seconds",
			Help:      "Wall time to compute and persist one chunk.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		ChunkEdges: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_edges",
			Help:      "Edges per chunk.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
		Rejected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fdr_rejected",
			Help:      "Edges significant after Benjamini-Hochberg adjustment.",
		}),
		FinalRows: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "final_rows",
			Help:      "Rows in the final table.",
		}),
		InFlightChunk: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_chunk",
			Help:      "Index of the chunk being computed.",
		}),
	}
}

// Handler routes /metrics, /healthz and /status. Browser dashboards may
// poll it cross-origin with GET.
func (m *Metrics) Handler() http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.Status.Snapshot())
	}).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	})
	return c.Handler(r)
}

// Serve exposes Handler on addr until ctx is done
func (m *Metrics) Serve(ctx context.Context, addr string, log zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", addr).Msg("metrics endpoint listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
