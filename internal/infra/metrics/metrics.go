package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "transcriber_messages_total",
		Help: "Обработанные сообщения по итогу",
	}, []string{"outcome"})

	StageFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "transcriber_stage_failures_total",
		Help: "Ошибки конвейера по этапам",
	}, []string{"stage"})

	StageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "transcriber_stage_duration_seconds",
		Help:    "Длительность этапов конвейера",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1200},
	}, []string{"stage", "status"})

	LastRunTimestamp = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "transcriber_last_run_timestamp_seconds",
		Help: "Время завершения последнего запуска",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		MessagesTotal,
		StageFailures,
		StageDuration,
		LastRunTimestamp,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// NewRouter возвращает роутер с эндпоинтами /metrics и /healthz.
func NewRouter(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// StartServer запускает HTTP сервер метрик до отмены ctx.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	srv := &http.Server{
		Addr:         addr,
		Handler:      NewRouter(prometheus.DefaultGatherer),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := statusLabel(err)
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveStage записывает длительность этапа и считает ошибки.
func ObserveStage(stage string, start time.Time, err error) {
	StageDuration.WithLabelValues(stage, statusLabel(err)).Observe(time.Since(start).Seconds())
	if err != nil {
		StageFailures.WithLabelValues(stage).Inc()
	}
}

// IncOutcome увеличивает счётчик сообщений с указанным итогом.
func IncOutcome(outcome string) {
	MessagesTotal.WithLabelValues(outcome).Inc()
}

// MarkRunFinished выставляет время завершения запуска.
func MarkRunFinished(at time.Time) {
	LastRunTimestamp.Set(float64(at.Unix()))
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
