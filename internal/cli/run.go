package cli

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"tg-audio-transcriber/internal/adapters/backup"
	"tg-audio-transcriber/internal/adapters/ledger"
	"tg-audio-transcriber/internal/domain"
	"tg-audio-transcriber/internal/infra/config"
	applog "tg-audio-transcriber/internal/infra/log"
	"tg-audio-transcriber/internal/infra/metrics"
	"tg-audio-transcriber/internal/usecase/ingest"
)

// NewRunCmd запускает конвейер для канала из конфигурации.
func NewRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Обработать новые аудио канала",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.envFile)
			if err != nil {
				return &ExitError{Code: ExitNotStarted, Err: err}
			}
			if err := cfg.Validate(); err != nil {
				return &ExitError{Code: ExitNotStarted, Err: fmt.Errorf("конфигурация: %w", err)}
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cmd, cfg)
		},
	}
}

func run(ctx context.Context, cmd *cobra.Command, cfg config.AppConfig) error {
	runID := uuid.NewString()
	baseLogger, closeLog, err := applog.NewLogger(cfg.AppEnv, cfg.LogFile)
	if err != nil {
		return &ExitError{Code: ExitNotStarted, Err: err}
	}
	defer closeLog()
	logger := baseLogger.With().Str("run_id", runID).Logger()

	registerMetrics()
	if cfg.Metrics.Addr != "" {
		metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.Metrics.Addr)
	}

	store, err := ledger.Open(cfg.Channel.StateDir, logger)
	if err != nil {
		logger.Error().Err(err).Msg("run: не удалось открыть журнал")
		return &ExitError{Code: ExitNotStarted, Err: err}
	}
	defer store.Close()

	source, err := buildSource(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("run: источник недоступен")
		return &ExitError{Code: ExitNotStarted, Err: err}
	}
	defer source.Close()

	sink, err := buildSink(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("run: документ недоступен")
		return &ExitError{Code: ExitNotStarted, Err: err}
	}

	archiver, closeArchive, err := buildArchiver(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("run: архив недоступен")
		return &ExitError{Code: ExitNotStarted, Err: err}
	}
	defer closeArchive()

	svc := ingest.NewService(ingest.Config{
		RunID:          runID,
		ChannelRef:     cfg.Channel.ID,
		DisplayName:    cfg.Channel.DisplayName,
		LanguageHint:   cfg.Channel.LanguageHint,
		DownloadDir:    cfg.Channel.DownloadDir,
		KeepDuplicates: cfg.Channel.KeepDuplicates,
		MessageDelay:   cfg.Channel.MessageDelay,
	}, ingest.NewLedger(store), source, buildTranscriber(cfg, logger), sink, backup.NewCache(cfg.Channel.BackupDir), archiver, logger)

	logger.Info().Str("channel", cfg.Channel.ID).Str("source", cfg.Telegram.Source).Str("transcriber", cfg.Transcriber.Kind).Str("sink", cfg.Document.Sink).Msg("run: запуск")
	summary, err := svc.Run(ctx)
	metrics.MarkRunFinished(time.Now())
	printSummary(cmd, summary)

	if err != nil {
		logger.Error().Err(err).Msg("run: не удалось получить список сообщений")
		return &ExitError{Code: ExitNotStarted, Err: err}
	}
	logger.Info().
		Int("listed", summary.Listed).
		Int("skipped", summary.Skipped).
		Int("resumed", summary.Resumed).
		Int("ingested", summary.Ingested).
		Int("duplicates", summary.Duplicates).
		Int("failed", summary.Failed).
		Int("interrupted", summary.Interrupted).
		Msg("run: завершён")
	return summaryError(summary)
}

// summaryError превращает итог запуска в код завершения 1, если хоть одно сообщение не обработано.
func summaryError(s domain.RunSummary) error {
	switch {
	case s.Failed > 0:
		return &ExitError{Code: ExitMessageFailed, Err: fmt.Errorf("не обработано сообщений: %d", s.Failed)}
	case s.Interrupted > 0:
		return &ExitError{Code: ExitMessageFailed, Err: fmt.Errorf("запуск прерван, осталось сообщений: %d", s.Interrupted)}
	}
	return nil
}

func printSummary(cmd *cobra.Command, s domain.RunSummary) {
	fmt.Fprintf(cmd.OutOrStdout(), "run %s: listed=%d skipped=%d resumed=%d ingested=%d duplicates=%d failed=%d interrupted=%d\n",
		s.RunID, s.Listed, s.Skipped, s.Resumed, s.Ingested, s.Duplicates, s.Failed, s.Interrupted)
}

var registerOnce sync.Once

func registerMetrics() {
	registerOnce.Do(func() { metrics.MustRegister(prometheus.DefaultRegisterer) })
}
