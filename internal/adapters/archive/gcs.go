package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"

	"tg-audio-transcriber/internal/domain"
	"tg-audio-transcriber/internal/infra/metrics"
)

// GCS копирует принятые аудиофайлы в бакет. Объект пишется только если его ещё нет.
type GCS struct {
	bucket *storage.BucketHandle
	prefix string
	log    zerolog.Logger
}

var _ domain.Archiver = (*GCS)(nil)

// NewGCS создаёт архив поверх бакета.
func NewGCS(bucket *storage.BucketHandle, prefix string, log zerolog.Logger) *GCS {
	return &GCS{bucket: bucket, prefix: prefix, log: log.With().Str("component", "archive").Logger()}
}

// ObjectName возвращает имя объекта: {prefix}/{канал}/{файл}.
func (g *GCS) ObjectName(channel, localPath string) string {
	return path.Join(g.prefix, channel, filepath.Base(localPath))
}

// Archive загружает файл. Уже существующий объект считается успехом.
func (g *GCS) Archive(ctx context.Context, channel, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("archive: открытие %s: %w", localPath, err)
	}
	defer f.Close()

	name := g.ObjectName(channel, localPath)
	start := time.Now()
	w := g.bucket.Object(name).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	_, copyErr := io.Copy(w, f)
	closeErr := w.Close()

	err = errors.Join(copyErr, closeErr)
	if alreadyExists(err) {
		metrics.ObserveNetworkRequest("archive", "gcs_write", "gcs", start, nil)
		g.log.Debug().Str("object", name).Msg("archive: объект уже существует")
		return nil
	}
	metrics.ObserveNetworkRequest("archive", "gcs_write", "gcs", start, err)
	if err != nil {
		return fmt.Errorf("archive: запись %s: %w", name, err)
	}
	g.log.Info().Str("object", name).Msg("archive: файл сохранён")
	return nil
}

func alreadyExists(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
