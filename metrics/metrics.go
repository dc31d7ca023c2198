// Package metrics exposes Prometheus instrumentation for the benchmark
// pipeline: dispatch outcomes, context truncation, score distributions,
// and judge cache effectiveness.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	dispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "membench_dispatch_total",
		Help: "Dispatch outcomes by final status",
	}, []string{"status"})

	dispatchLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "membench_dispatch_latency_ms",
		Help:    "Latency of subject model calls in milliseconds",
		Buckets: []float64{100, 250, 500, 1000, 2000, 5000, 10000, 20000, 45000, 90000, 180000},
	}, []string{"tier"})

	dispatchRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "membench_dispatch_retries_total",
		Help: "Retry attempts across all dispatched questions",
	})

	promptTokens = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "membench_prompt_tokens",
		Help:    "Prompt size in tokens after the context policy is applied",
		Buckets: []float64{1000, 4000, 16000, 32000, 64000, 128000, 200000, 400000, 1000000},
	})

	truncatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "membench_context_truncated_total",
		Help: "Prompts whose conversation context was truncated to fit the window",
	})

	scoreTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "membench_score_total",
		Help: "Scoring outcomes by tier",
	}, []string{"tier", "outcome"})

	scoreValue = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "membench_score_value",
		Help:    "Score distribution by tier",
		Buckets: []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
	}, []string{"tier"})

	judgeCache = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "membench_judge_cache_total",
		Help: "Judge verdict cache lookups",
	}, []string{"result"})
)

func ensureRegistered() {
	once.Do(func() {
		prometheus.MustRegister(dispatchTotal, dispatchLatency, dispatchRetries, promptTokens, truncatedTotal, scoreTotal, scoreValue, judgeCache)
	})
}

// ObserveDispatch records the final status and latency of one
// dispatched question.
func ObserveDispatch(status, tier string, start time.Time) {
	ensureRegistered()
	dispatchTotal.WithLabelValues(status).Inc()
	dispatchLatency.WithLabelValues(tier).Observe(float64(time.Since(start).Milliseconds()))
}

// AddRetries records retry attempts spent on a question.
func AddRetries(n int) {
	ensureRegistered()
	if n > 0 {
		dispatchRetries.Add(float64(n))
	}
}

// ObservePrompt records the final prompt size and whether the context
// had to be truncated.
func ObservePrompt(tokens int, truncated bool) {
	ensureRegistered()
	promptTokens.Observe(float64(tokens))
	if truncated {
		truncatedTotal.Inc()
	}
}

// ObserveScore records a successfully scored response.
func ObserveScore(tier string, value float64) {
	ensureRegistered()
	scoreTotal.WithLabelValues(tier, "scored").Inc()
	scoreValue.WithLabelValues(tier).Observe(value)
}

// IncExcluded records a response excluded from scoring.
func IncExcluded(tier string) {
	ensureRegistered()
	scoreTotal.WithLabelValues(tier, "excluded").Inc()
}

// IncScoreError records an evaluator failure for a scoreable response.
func IncScoreError(tier string) {
	ensureRegistered()
	scoreTotal.WithLabelValues(tier, "error").Inc()
}

// IncJudgeCache records a judge verdict cache hit or miss.
func IncJudgeCache(hit bool) {
	ensureRegistered()
	result := "miss"
	if hit {
		result = "hit"
	}
	judgeCache.WithLabelValues(result).Inc()
}

// Collectors exposes all collectors for external registration with a custom registry.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		dispatchTotal, dispatchLatency, dispatchRetries, promptTokens, truncatedTotal, scoreTotal, scoreValue, judgeCache,
	}
}

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	ensureRegistered()
	return promhttp.Handler()
}

// Serve runs a /metrics listener on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
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
