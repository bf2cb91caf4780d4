package gdocs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/docs/v1"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"tg-audio-transcriber/internal/domain"
	"tg-audio-transcriber/internal/infra/metrics"
	"tg-audio-transcriber/internal/usecase/section"
)

const documentMimeType = "application/vnd.google-apps.document"

// ErrEmptyDocumentID возвращается, если Drive не вернул id созданного документа.
var ErrEmptyDocumentID = errors.New("gdocs: пустой id документа")

// Sink дописывает расшифровки в Google Docs канала.
type Sink struct {
	drive    *drive.Service
	docs     *docs.Service
	folderID string
	log      zerolog.Logger

	mu    sync.Mutex
	known map[string]domain.DocumentHandle
}

var _ domain.DocumentSink = (*Sink)(nil)

// NewSink создаёт клиентов Drive и Docs. Обычно opts содержит option.WithCredentialsFile.
func NewSink(ctx context.Context, folderID string, log zerolog.Logger, opts ...option.ClientOption) (*Sink, error) {
	driveSvc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gdocs: drive client: %w", err)
	}
	docsSvc, err := docs.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gdocs: docs client: %w", err)
	}
	return &Sink{
		drive:    driveSvc,
		docs:     docsSvc,
		folderID: folderID,
		log:      log.With().Str("component", "gdocs").Logger(),
		known:    make(map[string]domain.DocumentHandle),
	}, nil
}

// EnsureDocument ищет документ «{канал} Transcriptions» и создаёт его при отсутствии.
func (s *Sink) EnsureDocument(ctx context.Context, displayName string) (domain.DocumentHandle, error) {
	title := section.Title(displayName)

	s.mu.Lock()
	if doc, ok := s.known[title]; ok {
		s.mu.Unlock()
		return doc, nil
	}
	s.mu.Unlock()

	doc, found, err := s.find(ctx, title)
	if err != nil {
		return domain.DocumentHandle{}, err
	}
	if !found {
		doc, err = s.create(ctx, title)
		if err != nil {
			return domain.DocumentHandle{}, err
		}
		s.log.Info().Str("document", doc.ID).Str("title", title).Msg("gdocs: создан документ")
	}

	s.mu.Lock()
	s.known[title] = doc
	s.mu.Unlock()
	return doc, nil
}

func (s *Sink) find(ctx context.Context, title string) (domain.DocumentHandle, bool, error) {
	q := fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false", escapeQuery(title), documentMimeType)
	if s.folderID != "" {
		q += fmt.Sprintf(" and '%s' in parents", escapeQuery(s.folderID))
	}

	start := time.Now()
	list, err := s.drive.Files.List().
		Q(q).
		Fields("files(id, name)").
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		PageSize(10).
		Context(ctx).
		Do()
	metrics.ObserveNetworkRequest("gdocs", "drive_files_list", "drive", start, err)
	if err != nil {
		return domain.DocumentHandle{}, false, fmt.Errorf("gdocs: поиск документа %q: %w", title, err)
	}
	for _, f := range list.Files {
		if f.Name == title && f.Id != "" {
			return domain.DocumentHandle{ID: f.Id, Title: f.Name}, true, nil
		}
	}
	return domain.DocumentHandle{}, false, nil
}

func (s *Sink) create(ctx context.Context, title string) (domain.DocumentHandle, error) {
	file := &drive.File{Name: title, MimeType: documentMimeType}
	if s.folderID != "" {
		file.Parents = []string{s.folderID}
	}

	start := time.Now()
	created, err := s.drive.Files.Create(file).
		Fields("id, name").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	metrics.ObserveNetworkRequest("gdocs", "drive_files_create", "drive", start, err)
	if err != nil {
		return domain.DocumentHandle{}, fmt.Errorf("gdocs: создание документа %q: %w", title, err)
	}
	if created.Id == "" {
		return domain.DocumentHandle{}, ErrEmptyDocumentID
	}
	return domain.DocumentHandle{ID: created.Id, Title: title}, nil
}

// AppendSection дописывает раздел в конец тела документа.
func (s *Sink) AppendSection(ctx context.Context, doc domain.DocumentHandle, header domain.SectionHeader, body string) error {
	// Все части уходят одним batchUpdate, документ меняется целиком или никак.
	req := &docs.BatchUpdateDocumentRequest{}
	for _, chunk := range section.Chunks(section.Format(header, body), section.ChunkLimit) {
		req.Requests = append(req.Requests, &docs.Request{
			InsertText: &docs.InsertTextRequest{
				Text:                 chunk,
				EndOfSegmentLocation: &docs.EndOfSegmentLocation{},
			},
		})
	}

	start := time.Now()
	_, err := s.docs.Documents.BatchUpdate(doc.ID, req).Context(ctx).Do()
	metrics.ObserveNetworkRequest("gdocs", "documents_batch_update", "docs", start, err)
	if err != nil {
		return fmt.Errorf("gdocs: запись раздела %s: %w", header.CanonicalName, err)
	}
	return nil
}

func escapeQuery(v string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v)
}
