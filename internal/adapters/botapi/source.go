package botapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-audio-transcriber/internal/domain"
	"tg-audio-transcriber/internal/infra/metrics"
	"tg-audio-transcriber/internal/usecase/channels"
)

// MaxDownloadSize задаёт предел getFile в Bot API.
const MaxDownloadSize = 20 << 20

const updatesLimit = 100

var (
	// ErrFileTooBig возвращается для файлов больше MaxDownloadSize.
	ErrFileTooBig = errors.New("botapi: файл больше 20 МБ, используйте CHANNEL_SOURCE=mtproto")
	// ErrUnknownMessage возвращается, если сообщение не встречалось в обновлениях.
	ErrUnknownMessage = errors.New("botapi: сообщение не найдено среди обновлений")
)

// Source читает посты канала, которые видит бот-администратор.
// Обновления не подтверждаются: повторы отсекает журнал.
type Source struct {
	bot  *tgbotapi.BotAPI
	http *http.Client
	log  zerolog.Logger

	mu    sync.Mutex
	chats map[string]int64
	files map[int64]string
}

var _ domain.ChannelSource = (*Source)(nil)

// NewSource создаёт источник поверх клиента Bot API.
func NewSource(bot *tgbotapi.BotAPI, httpClient *http.Client, log zerolog.Logger) *Source {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Source{
		bot:   bot,
		http:  httpClient,
		log:   log.With().Str("component", "botapi").Logger(),
		chats: make(map[string]int64),
		files: make(map[int64]string),
	}
}

// ResolveChannel получает канал через getChat.
func (s *Source) ResolveChannel(_ context.Context, ref string) (domain.ChannelMeta, error) {
	parsed, err := channels.ParseRef(ref)
	if err != nil {
		return domain.ChannelMeta{}, err
	}
	cfg := tgbotapi.ChatConfig{ChatID: parsed.ID}
	if parsed.Alias != "" {
		cfg = tgbotapi.ChatConfig{SuperGroupUsername: "@" + parsed.Alias}
	}

	start := time.Now()
	chat, err := s.bot.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: cfg})
	metrics.ObserveNetworkRequest("botapi", "get_chat", parsed.Key(), start, err)
	if err != nil {
		return domain.ChannelMeta{}, fmt.Errorf("botapi: getChat %s: %w", ref, err)
	}

	s.mu.Lock()
	s.chats[ref] = chat.ID
	s.mu.Unlock()
	return domain.ChannelMeta{
		ID:    chat.ID,
		Alias: strings.ToLower(chat.UserName),
		Title: chat.Title,
	}, nil
}

func (s *Source) chatID(ctx context.Context, ref string) (int64, error) {
	s.mu.Lock()
	id, ok := s.chats[ref]
	s.mu.Unlock()
	if ok {
		return id, nil
	}
	if _, err := s.ResolveChannel(ctx, ref); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chats[ref], nil
}

// ListNewAudioMessages читает неподтверждённые обновления и отбирает аудио канала.
func (s *Source) ListNewAudioMessages(ctx context.Context, ref string, sinceCursor int64) ([]domain.AudioMessage, error) {
	chatID, err := s.chatID(ctx, ref)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	updates, err := s.bot.GetUpdates(tgbotapi.UpdateConfig{
		Limit:          updatesLimit,
		AllowedUpdates: []string{"channel_post"},
	})
	metrics.ObserveNetworkRequest("botapi", "get_updates", strconv.FormatInt(chatID, 10), start, err)
	if err != nil {
		return nil, fmt.Errorf("botapi: getUpdates: %w", err)
	}

	channelKey := ref
	if parsed, err := channels.ParseRef(ref); err == nil {
		channelKey = parsed.Key()
	}

	seen := make(map[int64]bool)
	var out []domain.AudioMessage
	for _, upd := range updates {
		post := upd.ChannelPost
		if post == nil || post.Chat == nil || post.Chat.ID != chatID {
			continue
		}
		audio, fileID, ok := audioFromPost(post, channelKey)
		if !ok || audio.ID <= sinceCursor || seen[audio.ID] {
			continue
		}
		seen[audio.ID] = true
		s.mu.Lock()
		s.files[audio.ID] = fileID
		s.mu.Unlock()
		out = append(out, audio)
	}
	if len(updates) >= updatesLimit {
		// Обновления не подтверждаются, getUpdates отдаёт самые старые из очереди.
		s.log.Warn().Str("channel", channelKey).Int("limit", updatesLimit).
			Msg("botapi: очередь обновлений заполнена, более новые посты появятся только после истечения старых (около 24 часов)")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	s.log.Debug().Str("channel", channelKey).Int("updates", len(updates)).Int("audio", len(out)).Msg("botapi: обновления получены")
	return out, nil
}

// audioFromPost достаёт аудио из поста: audio, voice или документ с audio в mime.
func audioFromPost(post *tgbotapi.Message, channelKey string) (domain.AudioMessage, string, bool) {
	msg := domain.AudioMessage{
		ID:         int64(post.MessageID),
		ChannelID:  channelKey,
		CapturedAt: time.Unix(int64(post.Date), 0).UTC(),
	}
	var fileID string
	switch {
	case post.Audio != nil:
		fileID = post.Audio.FileID
		msg.FileName = post.Audio.FileName
		msg.MimeType = post.Audio.MimeType
		msg.Size = int64(post.Audio.FileSize)
	case post.Voice != nil:
		fileID = post.Voice.FileID
		msg.MimeType = post.Voice.MimeType
		msg.Size = int64(post.Voice.FileSize)
	case post.Document != nil && strings.Contains(post.Document.MimeType, "audio"):
		fileID = post.Document.FileID
		msg.FileName = post.Document.FileName
		msg.MimeType = post.Document.MimeType
		msg.Size = int64(post.Document.FileSize)
	default:
		return domain.AudioMessage{}, "", false
	}
	return msg, fileID, fileID != ""
}

// FetchAudio скачивает файл по прямой ссылке getFile.
func (s *Source) FetchAudio(ctx context.Context, msg domain.AudioMessage, w io.Writer) (int64, error) {
	if msg.Size > MaxDownloadSize {
		return 0, ErrFileTooBig
	}
	s.mu.Lock()
	fileID, ok := s.files[msg.ID]
	s.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownMessage, msg.ID)
	}

	start := time.Now()
	n, err := s.download(ctx, fileID, w)
	metrics.ObserveNetworkRequest("botapi", "download", msg.ChannelID, start, err)
	return n, err
}

func (s *Source) download(ctx context.Context, fileID string, w io.Writer) (int64, error) {
	link, err := s.bot.GetFileDirectURL(fileID)
	if err != nil {
		return 0, fmt.Errorf("botapi: getFile: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return 0, fmt.Errorf("botapi: build request: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("botapi: download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("botapi: download: unexpected status %d", resp.StatusCode)
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("botapi: download: %w", err)
	}
	return n, nil
}

// Close ничего не держит: запросы к Bot API не требуют соединения.
func (s *Source) Close() error {
	return nil
}
