package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tg-audio-transcriber/internal/domain"
	"tg-audio-transcriber/internal/infra/metrics"
)

// ErrEmptyTranscript возвращается, если сервис распознавания вернул пустой текст.
var ErrEmptyTranscript = errors.New("сервис распознавания вернул пустой текст")

const duplicatesDir = "duplicates"

// Config содержит статичные параметры запуска.
type Config struct {
	RunID          string
	ChannelRef     string
	DisplayName    string
	LanguageHint   string
	DownloadDir    string
	KeepDuplicates bool
	MessageDelay   time.Duration
}

// Service проводит сообщения канала через конвейер
// загрузка → проверка дубликата → переименование → распознавание → документ → журнал.
type Service struct {
	cfg         Config
	ledger      *Ledger
	source      domain.ChannelSource
	transcriber domain.TranscriptionService
	sink        domain.DocumentSink
	cache       domain.TranscriptCache
	archiver    domain.Archiver
	fp          Fingerprinter
	log         zerolog.Logger

	docs map[string]domain.DocumentHandle
}

// NewService создаёт конвейер. archiver может быть nil.
func NewService(cfg Config, ledger *Ledger, source domain.ChannelSource, transcriber domain.TranscriptionService, sink domain.DocumentSink, cache domain.TranscriptCache, archiver domain.Archiver, log zerolog.Logger) *Service {
	return &Service{
		cfg:         cfg,
		ledger:      ledger,
		source:      source,
		transcriber: transcriber,
		sink:        sink,
		cache:       cache,
		archiver:    archiver,
		fp:          NewFingerprinter(),
		log:         log.With().Str("component", "ingest").Logger(),
		docs:        make(map[string]domain.DocumentHandle),
	}
}

type channelRun struct {
	id      string
	ref     string
	display string
}

type result int

const (
	resultSkipped result = iota
	resultIngested
	resultDuplicate
)

// Run обрабатывает новые сообщения канала строго по одному.
// Ошибка возвращается только если не удалось получить список сообщений.
func (s *Service) Run(ctx context.Context) (domain.RunSummary, error) {
	summary := domain.RunSummary{RunID: s.cfg.RunID}

	ch, err := s.resolve(ctx)
	if err != nil {
		return summary, domain.NewStageError(domain.StageListing, domain.ErrListing, err)
	}
	runLog := s.log.With().Str("channel", ch.id).Str("display_name", ch.display).Logger()

	if err := os.MkdirAll(s.cfg.DownloadDir, 0o755); err != nil {
		return summary, domain.NewStageError(domain.StageListing, domain.ErrIO, fmt.Errorf("каталог загрузок: %w", err))
	}

	state, err := s.ledger.State(ctx, ch.id)
	if err != nil {
		return summary, domain.NewStageError(domain.StageListing, domain.ErrIO, err)
	}

	start := time.Now()
	messages, err := s.source.ListNewAudioMessages(ctx, ch.ref, state.Cursor)
	metrics.ObserveStage(string(domain.StageListing), start, err)
	if err != nil {
		return summary, domain.NewStageError(domain.StageListing, domain.ErrListing, err)
	}
	sort.SliceStable(messages, func(i, j int) bool { return messages[i].ID < messages[j].ID })
	summary.Listed = len(messages)
	runLog.Info().Int64("cursor", state.Cursor).Int("messages", len(messages)).Int("next_ordinal", state.NextOrdinal).Msg("ingest: получен список аудиосообщений")

	cursor := state.Cursor
	blocked := false
	for i, msg := range messages {
		if err := ctx.Err(); err != nil {
			summary.Interrupted = len(messages) - i
			runLog.Warn().Err(err).Int("remaining", summary.Interrupted).Msg("ingest: запуск прерван")
			break
		}
		res, resumed, err := s.process(ctx, ch, msg)
		if resumed {
			summary.Resumed++
		}
		switch {
		case err != nil:
			summary.Failed++
			blocked = true
		case res == resultSkipped:
			summary.Skipped++
		case res == resultIngested:
			summary.Ingested++
		case res == resultDuplicate:
			summary.Duplicates++
		}
		if !blocked {
			cursor = msg.ID
		}
		if res != resultSkipped && i < len(messages)-1 {
			s.pause(ctx)
		}
	}

	// Курсор сохраняем и после отмены запуска.
	if err := s.ledger.AdvanceCursor(context.WithoutCancel(ctx), ch.id, cursor); err != nil {
		runLog.Error().Err(err).Msg("ingest: не удалось сохранить курсор")
	}
	return summary, nil
}

func (s *Service) resolve(ctx context.Context) (channelRun, error) {
	meta, err := s.source.ResolveChannel(ctx, s.cfg.ChannelRef)
	if err != nil {
		return channelRun{}, fmt.Errorf("резолв канала %s: %w", s.cfg.ChannelRef, err)
	}
	id := meta.Alias
	if id == "" {
		id = strconv.FormatInt(meta.ID, 10)
	}
	display := strings.TrimSpace(s.cfg.DisplayName)
	if display == "" {
		display = strings.TrimSpace(meta.Title)
	}
	if display == "" {
		display = id
	}
	display = CleanName(display)
	if err := s.ledger.RememberDisplayName(ctx, id, display); err != nil {
		return channelRun{}, err
	}
	return channelRun{id: id, ref: s.cfg.ChannelRef, display: display}, nil
}

func (s *Service) process(ctx context.Context, ch channelRun, msg domain.AudioMessage) (result, bool, error) {
	originalName := CleanName(msg.FileName)
	if originalName == "" {
		originalName = FallbackName(msg.ID)
	}
	msgLog := s.log.With().
		Str("run_id", s.cfg.RunID).
		Str("channel", ch.id).
		Int64("message_id", msg.ID).
		Str("file", originalName).
		Logger()

	seen, err := s.ledger.HasBeenSeen(ctx, ch.id, msg.ID)
	if err != nil {
		s.fail(msgLog, domain.NewStageError(domain.StageDiscovered, domain.ErrIO, err))
		return resultSkipped, false, err
	}
	if seen {
		msgLog.Debug().Str("stage", string(domain.StageRecorded)).Msg("ingest: сообщение уже обработано")
		return resultSkipped, false, nil
	}
	msgLog.Debug().Str("stage", string(domain.StageDiscovered)).Msg("ingest: новое сообщение")

	file, resumed, duplicate, err := s.acquire(ctx, ch, msg, originalName, msgLog)
	if err != nil {
		s.fail(msgLog, err)
		return resultSkipped, resumed, err
	}
	if duplicate {
		metrics.IncOutcome(string(domain.OutcomeDuplicate))
		return resultDuplicate, resumed, nil
	}
	msgLog = msgLog.With().Str("canonical", file.CanonicalName).Int("ordinal", file.Ordinal).Logger()

	for file.Stage != domain.StageAppended {
		var stageErr error
		switch file.Stage {
		case domain.StageRenamed:
			file, stageErr = s.transcribe(ctx, ch, file, msgLog)
		case domain.StageTranscribed:
			file, stageErr = s.appendSection(ctx, ch, file, msgLog)
		default:
			stageErr = domain.NewStageError(file.Stage, domain.ErrIO, fmt.Errorf("неизвестный этап %q", file.Stage))
		}
		if stageErr != nil {
			s.fail(msgLog, stageErr)
			return resultSkipped, resumed, stageErr
		}
	}

	s.archive(ctx, ch, file, msgLog)

	rec := domain.SeenRecord{
		MessageID:     msg.ID,
		Fingerprint:   file.Fingerprint,
		Outcome:       domain.OutcomeIngested,
		Ordinal:       file.Ordinal,
		CanonicalName: file.CanonicalName,
	}
	if err := s.ledger.RecordSeen(ctx, ch.id, rec); err != nil {
		err = domain.NewStageError(domain.StageRecorded, domain.ErrIO, err)
		s.fail(msgLog, err)
		return resultSkipped, resumed, err
	}
	metrics.IncOutcome(string(domain.OutcomeIngested))
	msgLog.Info().Str("stage", string(domain.StageRecorded)).Msg("ingest: файл принят")
	return resultIngested, resumed, nil
}

// acquire доводит сообщение до этапа renamed или признаёт его дубликатом.
func (s *Service) acquire(ctx context.Context, ch channelRun, msg domain.AudioMessage, originalName string, msgLog zerolog.Logger) (domain.IngestedFile, bool, bool, error) {
	pending, ok, err := s.ledger.Pending(ctx, ch.id, msg.ID)
	if err != nil {
		return domain.IngestedFile{}, false, false, domain.NewStageError(domain.StageDiscovered, domain.ErrIO, err)
	}
	if ok {
		msgLog.Info().Str("stage", string(pending.Stage)).Int("ordinal", pending.Ordinal).Msg("ingest: продолжаем незавершённое сообщение")
		if !needsBytes(pending) {
			return pending, true, false, nil
		}
		partial, fingerprint, err := s.download(ctx, msg, msgLog)
		if err != nil {
			return domain.IngestedFile{}, true, false, err
		}
		if fingerprint != pending.Fingerprint {
			msgLog.Warn().Str("was", pending.Fingerprint).Str("now", fingerprint).Msg("ingest: содержимое изменилось после выдачи номера")
		}
		file, err := s.rename(ctx, ch, pending, partial, msgLog)
		return file, true, false, err
	}

	partial, fingerprint, err := s.download(ctx, msg, msgLog)
	if err != nil {
		return domain.IngestedFile{}, false, false, err
	}

	alloc, err := s.ledger.CheckAndAllocate(ctx, ch.id, msg, originalName, fingerprint)
	if err != nil {
		_ = os.Remove(partial)
		return domain.IngestedFile{}, false, false, domain.NewStageError(domain.StageAllocated, domain.ErrIO, err)
	}
	if alloc.Duplicate {
		s.discardDuplicate(partial, msg, originalName, msgLog)
		rec := domain.SeenRecord{MessageID: msg.ID, Fingerprint: fingerprint, Outcome: domain.OutcomeDuplicate}
		if err := s.ledger.RecordSeen(ctx, ch.id, rec); err != nil {
			return domain.IngestedFile{}, false, false, domain.NewStageError(domain.StageRecorded, domain.ErrIO, err)
		}
		msgLog.Info().Str("stage", "duplicate").Int64("owner_message_id", alloc.Owner).Msg("ingest: дубликат содержимого")
		return domain.IngestedFile{}, false, true, nil
	}

	file, err := s.rename(ctx, ch, alloc.Pending, partial, msgLog)
	return file, false, false, err
}

func needsBytes(file domain.IngestedFile) bool {
	switch file.Stage {
	case domain.StageAllocated:
		return true
	case domain.StageRenamed:
		if file.LocalPath == "" {
			return true
		}
		_, err := os.Stat(file.LocalPath)
		return err != nil
	default:
		return false
	}
}

func (s *Service) download(ctx context.Context, msg domain.AudioMessage, msgLog zerolog.Logger) (string, string, error) {
	start := time.Now()
	partial := filepath.Join(s.cfg.DownloadDir, fmt.Sprintf(".partial-%d", msg.ID))
	f, err := os.OpenFile(partial, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		err = domain.NewStageError(domain.StageDownloaded, domain.ErrIO, fmt.Errorf("создание %s: %w", partial, err))
		metrics.ObserveStage(string(domain.StageDownloaded), start, err)
		return "", "", err
	}

	h := s.fp.Hasher()
	n, fetchErr := s.source.FetchAudio(ctx, msg, io.MultiWriter(f, h))
	if fetchErr == nil && msg.Size > 0 && n != msg.Size {
		fetchErr = fmt.Errorf("получено %d байт из %d", n, msg.Size)
	}
	syncErr := f.Sync()
	closeErr := f.Close()

	var stageErr error
	switch {
	case fetchErr != nil:
		stageErr = domain.NewStageError(domain.StageDownloaded, domain.ErrDownload, fetchErr)
	case syncErr != nil:
		stageErr = domain.NewStageError(domain.StageDownloaded, domain.ErrIO, syncErr)
	case closeErr != nil:
		stageErr = domain.NewStageError(domain.StageDownloaded, domain.ErrIO, closeErr)
	}
	metrics.ObserveStage(string(domain.StageDownloaded), start, stageErr)
	if stageErr != nil {
		_ = os.Remove(partial)
		return "", "", stageErr
	}

	fingerprint := s.fp.Format(h)
	msgLog.Info().Str("stage", string(domain.StageDownloaded)).Int64("bytes", n).Str("fingerprint", fingerprint).Msg("ingest: файл загружен")
	return partial, fingerprint, nil
}

func (s *Service) rename(ctx context.Context, ch channelRun, file domain.IngestedFile, partial string, msgLog zerolog.Logger) (domain.IngestedFile, error) {
	if file.CanonicalName == "" {
		file.CanonicalName = NextName(ch.display, file.Ordinal, file.OriginalName, file.CapturedAt)
	}
	file.LocalPath = filepath.Join(s.cfg.DownloadDir, file.CanonicalName)
	if err := os.Rename(partial, file.LocalPath); err != nil {
		_ = os.Remove(partial)
		return file, domain.NewStageError(domain.StageRenamed, domain.ErrIO, fmt.Errorf("переименование в %s: %w", file.CanonicalName, err))
	}
	file.Stage = domain.StageRenamed
	if err := s.ledger.SavePending(ctx, ch.id, file); err != nil {
		return file, domain.NewStageError(domain.StageRenamed, domain.ErrIO, err)
	}
	msgLog.Info().Str("stage", string(domain.StageRenamed)).Str("canonical", file.CanonicalName).Int("ordinal", file.Ordinal).Msg("ingest: файл переименован")
	return file, nil
}

func (s *Service) transcribe(ctx context.Context, ch channelRun, file domain.IngestedFile, msgLog zerolog.Logger) (domain.IngestedFile, error) {
	start := time.Now()
	msgLog.Info().Str("stage", string(domain.StageRenamed)).Str("language", s.cfg.LanguageHint).Msg("ingest: отправляем на распознавание")
	text, err := s.transcriber.Transcribe(ctx, file.LocalPath, s.cfg.LanguageHint)
	if err == nil && strings.TrimSpace(text) == "" {
		err = ErrEmptyTranscript
	}
	if err != nil {
		err = domain.NewStageError(domain.StageTranscribed, domain.ErrTranscription, err)
		metrics.ObserveStage(string(domain.StageTranscribed), start, err)
		return file, err
	}
	metrics.ObserveStage(string(domain.StageTranscribed), start, nil)

	path, err := s.cache.Save(ctx, file.CanonicalName, text)
	if err != nil {
		return file, domain.NewStageError(domain.StageTranscribed, domain.ErrIO, err)
	}
	file.Transcript = text
	file.TranscriptPath = path
	file.Stage = domain.StageTranscribed
	if err := s.ledger.SavePending(ctx, ch.id, file); err != nil {
		return file, domain.NewStageError(domain.StageTranscribed, domain.ErrIO, err)
	}
	msgLog.Info().Str("stage", string(domain.StageTranscribed)).Int("chars", len([]rune(text))).Str("backup", path).Msg("ingest: расшифровка получена")
	return file, nil
}

func (s *Service) appendSection(ctx context.Context, ch channelRun, file domain.IngestedFile, msgLog zerolog.Logger) (domain.IngestedFile, error) {
	text := file.Transcript
	if text == "" {
		cached, err := s.cache.Load(ctx, file.TranscriptPath)
		if err != nil {
			return file, domain.NewStageError(domain.StageAppended, domain.ErrIO, err)
		}
		text = cached
	}

	start := time.Now()
	doc, err := s.document(ctx, ch)
	if err == nil {
		header := domain.SectionHeader{
			CanonicalName: file.CanonicalName,
			OriginalName:  file.OriginalName,
			MessageID:     file.MessageID,
			Ordinal:       file.Ordinal,
			CapturedAt:    file.CapturedAt,
		}
		err = s.sink.AppendSection(ctx, doc, header, text)
	}
	if err != nil {
		err = domain.NewStageError(domain.StageAppended, domain.ErrDocumentAppend, err)
		metrics.ObserveStage(string(domain.StageAppended), start, err)
		return file, err
	}
	metrics.ObserveStage(string(domain.StageAppended), start, nil)

	file.Stage = domain.StageAppended
	if err := s.ledger.SavePending(ctx, ch.id, file); err != nil {
		return file, domain.NewStageError(domain.StageAppended, domain.ErrIO, err)
	}
	msgLog.Info().Str("stage", string(domain.StageAppended)).Str("document", doc.ID).Msg("ingest: расшифровка добавлена в документ")
	return file, nil
}

func (s *Service) document(ctx context.Context, ch channelRun) (domain.DocumentHandle, error) {
	if doc, ok := s.docs[ch.display]; ok {
		return doc, nil
	}
	doc, err := s.sink.EnsureDocument(ctx, ch.display)
	if err != nil {
		return domain.DocumentHandle{}, fmt.Errorf("документ канала %s: %w", ch.display, err)
	}
	s.docs[ch.display] = doc
	return doc, nil
}

func (s *Service) archive(ctx context.Context, ch channelRun, file domain.IngestedFile, msgLog zerolog.Logger) {
	if s.archiver == nil || file.LocalPath == "" {
		return
	}
	if _, err := os.Stat(file.LocalPath); err != nil {
		msgLog.Warn().Err(err).Msg("ingest: локальный файл недоступен для архива")
		return
	}
	if err := s.archiver.Archive(ctx, ch.id, file.LocalPath); err != nil {
		msgLog.Warn().Err(err).Msg("ingest: не удалось архивировать файл")
	}
}

func (s *Service) discardDuplicate(partial string, msg domain.AudioMessage, originalName string, msgLog zerolog.Logger) {
	if !s.cfg.KeepDuplicates {
		if err := os.Remove(partial); err != nil {
			msgLog.Warn().Err(err).Msg("ingest: не удалось удалить дубликат")
		}
		return
	}
	dir := filepath.Join(s.cfg.DownloadDir, duplicatesDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		msgLog.Warn().Err(err).Msg("ingest: не удалось создать каталог дубликатов")
		return
	}
	target := filepath.Join(dir, fmt.Sprintf("%d_%s", msg.ID, originalName))
	if err := os.Rename(partial, target); err != nil {
		msgLog.Warn().Err(err).Msg("ingest: не удалось сохранить дубликат")
	}
}

func (s *Service) fail(msgLog zerolog.Logger, err error) {
	stage, _ := domain.StageOf(err)
	msgLog.Error().Err(err).Str("stage", string(stage)).Msg("ingest: ошибка обработки сообщения, повторим при следующем запуске")
}

func (s *Service) pause(ctx context.Context) {
	if s.cfg.MessageDelay <= 0 {
		return
	}
	t := time.NewTimer(s.cfg.MessageDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
