package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"tg-audio-transcriber/internal/adapters/archive"
	"tg-audio-transcriber/internal/adapters/botapi"
	"tg-audio-transcriber/internal/adapters/gdocs"
	"tg-audio-transcriber/internal/adapters/mddoc"
	"tg-audio-transcriber/internal/adapters/mtproto"
	"tg-audio-transcriber/internal/adapters/transcriber"
	"tg-audio-transcriber/internal/domain"
	"tg-audio-transcriber/internal/infra/assemblyai"
	"tg-audio-transcriber/internal/infra/config"
)

const botDownloadTimeout = 5 * time.Minute

func buildSource(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (domain.ChannelSource, error) {
	switch cfg.Telegram.Source {
	case config.SourceBot:
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			return nil, fmt.Errorf("бот: %w", err)
		}
		return botapi.NewSource(bot, &http.Client{Timeout: botDownloadTimeout}, logger), nil
	default:
		src, err := mtproto.NewSource(mtproto.Options{
			AppID:       cfg.Telegram.APIID,
			AppHash:     cfg.Telegram.APIHash,
			SessionPath: cfg.MTProto.SessionFile,
			Phone:       cfg.Telegram.Phone,
			Password:    cfg.Telegram.Password,
		}, logger)
		if err != nil {
			return nil, err
		}
		if err := src.Connect(ctx); err != nil {
			return nil, err
		}
		return src, nil
	}
}

func buildTranscriber(cfg config.AppConfig, logger zerolog.Logger) domain.TranscriptionService {
	if cfg.Transcriber.Kind == config.TranscriberWhisper {
		return transcriber.NewWhisper(cfg.Transcriber.WhisperURL, transcriber.WithTimeout(cfg.Transcriber.Timeout))
	}
	client := assemblyai.NewClient(cfg.Transcriber.APIKey, cfg.Transcriber.BaseURL, cfg.Transcriber.Timeout)
	return transcriber.NewAssemblyAI(client, cfg.Transcriber.PollInterval, logger)
}

func buildSink(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (domain.DocumentSink, error) {
	if cfg.Document.Sink == config.SinkMarkdown {
		return mddoc.NewSink(cfg.Document.MarkdownDir), nil
	}
	return gdocs.NewSink(ctx, cfg.Document.FolderID, logger, option.WithCredentialsFile(cfg.Document.CredentialsFile))
}

// buildArchiver возвращает nil, если бакет не задан.
func buildArchiver(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (domain.Archiver, func() error, error) {
	if cfg.Archive.Bucket == "" {
		return nil, func() error { return nil }, nil
	}
	var opts []option.ClientOption
	if cfg.Document.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.Document.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("gcs: %w", err)
	}
	return archive.NewGCS(client.Bucket(cfg.Archive.Bucket), cfg.Archive.Prefix, logger), client.Close, nil
}
