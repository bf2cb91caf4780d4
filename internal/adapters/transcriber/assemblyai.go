package transcriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"tg-audio-transcriber/internal/domain"
	"tg-audio-transcriber/internal/infra/assemblyai"
)

// ErrTranscriptFailed возвращается, если AssemblyAI завершил расшифровку со статусом error.
var ErrTranscriptFailed = errors.New("assemblyai: расшифровка завершилась ошибкой")

type assemblyClient interface {
	Upload(ctx context.Context, audio io.Reader) (string, error)
	CreateTranscript(ctx context.Context, req assemblyai.TranscriptRequest) (assemblyai.Transcript, error)
	GetTranscript(ctx context.Context, id string) (assemblyai.Transcript, error)
}

// AssemblyAI реализует распознавание через загрузку файла и опрос статуса.
type AssemblyAI struct {
	client       assemblyClient
	pollInterval time.Duration
	log          zerolog.Logger
}

var _ domain.TranscriptionService = (*AssemblyAI)(nil)

// NewAssemblyAI создаёт сервис распознавания.
func NewAssemblyAI(client assemblyClient, pollInterval time.Duration, log zerolog.Logger) *AssemblyAI {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &AssemblyAI{client: client, pollInterval: pollInterval, log: log.With().Str("component", "assemblyai").Logger()}
}

// Transcribe загружает файл, создаёт расшифровку и ждёт её завершения.
func (a *AssemblyAI) Transcribe(ctx context.Context, audioPath, languageHint string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("открытие аудио: %w", err)
	}
	defer f.Close()

	uploadURL, err := a.client.Upload(ctx, f)
	if err != nil {
		return "", fmt.Errorf("загрузка аудио: %w", err)
	}
	tr, err := a.client.CreateTranscript(ctx, assemblyai.TranscriptRequest{AudioURL: uploadURL, LanguageCode: languageHint})
	if err != nil {
		return "", fmt.Errorf("создание расшифровки: %w", err)
	}
	a.log.Debug().Str("transcript_id", tr.ID).Msg("assemblyai: расшифровка в очереди")

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()
	for {
		switch tr.Status {
		case assemblyai.StatusCompleted:
			return tr.Text, nil
		case assemblyai.StatusError:
			return "", fmt.Errorf("%w: %s", ErrTranscriptFailed, tr.Error)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
		tr, err = a.client.GetTranscript(ctx, tr.ID)
		if err != nil {
			return "", fmt.Errorf("статус расшифровки: %w", err)
		}
	}
}
