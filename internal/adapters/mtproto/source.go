package mtproto

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/telegram/query"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"

	"tg-audio-transcriber/internal/domain"
	"tg-audio-transcriber/internal/infra/metrics"
	"tg-audio-transcriber/internal/usecase/channels"
)

const (
	historyPageSize = 100
	dialogsPageSize = 100
	// channelIDShift отделяет id канала от префикса -100 в идентификаторах Bot API.
	channelIDShift  = 1_000_000_000_000
)

var (
	// ErrNotAuthorized возвращается, если сессия не авторизована и телефон не задан.
	ErrNotAuthorized = errors.New("mtproto: сессия не авторизована, укажите TG_PHONE")
	// ErrChannelNotFound возвращается, если ссылка не указывает на доступный канал.
	ErrChannelNotFound = errors.New("mtproto: канал не найден")
	// ErrNotConnected возвращается до вызова Connect.
	ErrNotConnected = errors.New("mtproto: клиент не подключён")
)

// Options настраивает MTProto источник.
type Options struct {
	AppID       int
	AppHash     string
	SessionPath string
	Phone       string
	Password    string
	// CodePrompt читает код подтверждения. По умолчанию читает stdin.
	CodePrompt func(ctx context.Context) (string, error)
}

// Source выгружает аудио из канала через клиентский MTProto API.
type Source struct {
	opts   Options
	client *telegram.Client
	log    zerolog.Logger

	mu       sync.Mutex
	api      *tg.Client
	stop     context.CancelFunc
	done     chan error
	channels map[string]*tg.InputChannel
	docs     map[int64]*tg.InputDocumentFileLocation
}

var _ domain.ChannelSource = (*Source)(nil)

// NewSource создаёт источник. Сессия хранится в opts.SessionPath.
func NewSource(opts Options, log zerolog.Logger) (*Source, error) {
	if opts.AppID == 0 || opts.AppHash == "" {
		return nil, errors.New("mtproto: нужны TG_API_ID и TG_API_HASH")
	}
	if opts.SessionPath == "" {
		return nil, errors.New("mtproto: не задан путь к сессии")
	}
	if err := os.MkdirAll(filepath.Dir(opts.SessionPath), 0o700); err != nil {
		return nil, fmt.Errorf("mtproto: каталог сессии: %w", err)
	}
	if opts.CodePrompt == nil {
		opts.CodePrompt = stdinCode
	}
	client := telegram.NewClient(opts.AppID, opts.AppHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: opts.SessionPath},
	})
	return &Source{
		opts:     opts,
		client:   client,
		log:      log.With().Str("component", "mtproto").Logger(),
		channels: make(map[string]*tg.InputChannel),
		docs:     make(map[int64]*tg.InputDocumentFileLocation),
	}, nil
}

// Connect запускает клиент и проходит авторизацию. Клиент работает до Close или отмены ctx.
func (s *Source) Connect(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	ready := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- s.client.Run(runCtx, func(ctx context.Context) error {
			if err := s.authorize(ctx); err != nil {
				return err
			}
			s.mu.Lock()
			s.api = s.client.API()
			s.mu.Unlock()
			close(ready)
			<-ctx.Done()
			return nil
		})
	}()

	select {
	case <-ready:
		s.mu.Lock()
		s.stop = cancel
		s.done = done
		s.mu.Unlock()
		s.log.Info().Msg("mtproto: клиент подключён")
		return nil
	case err := <-done:
		cancel()
		if err == nil {
			err = ctx.Err()
		}
		return fmt.Errorf("mtproto: подключение: %w", err)
	}
}

func (s *Source) authorize(ctx context.Context) error {
	status, err := s.client.Auth().Status(ctx)
	if err != nil {
		return fmt.Errorf("статус авторизации: %w", err)
	}
	if status.Authorized {
		return nil
	}
	if s.opts.Phone == "" {
		return ErrNotAuthorized
	}
	s.log.Info().Msg("mtproto: требуется вход, отправляем код")
	codeAuth := auth.CodeAuthenticatorFunc(func(ctx context.Context, _ *tg.AuthSentCode) (string, error) {
		return s.opts.CodePrompt(ctx)
	})
	flow := auth.NewFlow(auth.Constant(s.opts.Phone, s.opts.Password, codeAuth), auth.SendCodeOptions{})
	if err := s.client.Auth().IfNecessary(ctx, flow); err != nil {
		return fmt.Errorf("вход: %w", err)
	}
	return nil
}

func stdinCode(_ context.Context) (string, error) {
	fmt.Fprint(os.Stderr, "Введите код из Telegram: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Close останавливает клиент.
func (s *Source) Close() error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done, s.api = nil, nil, nil
	s.mu.Unlock()
	if stop == nil {
		return nil
	}
	stop()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Source) tgAPI() (*tg.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.api == nil {
		return nil, ErrNotConnected
	}
	return s.api, nil
}

// ResolveChannel находит канал по алиасу или по числовому id.
// Числовой id ищется среди диалогов сессии, так как без access hash канал недоступен.
func (s *Source) ResolveChannel(ctx context.Context, ref string) (domain.ChannelMeta, error) {
	parsed, err := channels.ParseRef(ref)
	if err != nil {
		return domain.ChannelMeta{}, err
	}
	ch, err := s.resolve(ctx, parsed)
	if err != nil {
		return domain.ChannelMeta{}, err
	}
	if parsed.Alias == "" {
		return domain.ChannelMeta{ID: parsed.ID, Title: ch.Title}, nil
	}
	return domain.ChannelMeta{ID: ch.ID, Alias: parsed.Alias, Title: ch.Title}, nil
}

func (s *Source) resolve(ctx context.Context, ref channels.Ref) (*tg.Channel, error) {
	api, err := s.tgAPI()
	if err != nil {
		return nil, err
	}
	var ch *tg.Channel
	if ref.Alias != "" {
		ch, err = s.resolveAlias(ctx, api, ref.Alias)
	} else {
		ch, err = s.resolveID(ctx, api, ref.ID)
	}
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.channels[ref.Key()] = &tg.InputChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}
	s.mu.Unlock()
	return ch, nil
}

func (s *Source) resolveAlias(ctx context.Context, api *tg.Client, alias string) (*tg.Channel, error) {
	start := time.Now()
	resolved, err := api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: alias})
	metrics.ObserveNetworkRequest("mtproto", "resolve_username", alias, start, err)
	if err != nil {
		return nil, fmt.Errorf("mtproto: резолв %s: %w", alias, err)
	}
	if ch, ok := channelFromChats(resolved.Chats, 0); ok {
		return ch, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, alias)
}

func (s *Source) resolveID(ctx context.Context, api *tg.Client, id int64) (*tg.Channel, error) {
	bare := bareChannelID(id)
	target := strconv.FormatInt(id, 10)

	start := time.Now()
	var found *tg.InputChannel
	iter := query.GetDialogs(api).BatchSize(dialogsPageSize).Iter()
	for iter.Next(ctx) {
		if in, ok := dialogChannel(iter.Value().Peer, bare); ok {
			found = in
			break
		}
	}
	err := iter.Err()
	metrics.ObserveNetworkRequest("mtproto", "get_dialogs", target, start, err)
	if err != nil {
		return nil, fmt.Errorf("mtproto: диалоги сессии: %w", err)
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s нет среди диалогов сессии", ErrChannelNotFound, target)
	}

	start = time.Now()
	res, err := api.ChannelsGetChannels(ctx, []tg.InputChannelClass{found})
	metrics.ObserveNetworkRequest("mtproto", "get_channels", target, start, err)
	if err != nil {
		return nil, fmt.Errorf("mtproto: канал %s: %w", target, err)
	}
	if ch, ok := channelFromChats(res.GetChats(), bare); ok {
		return ch, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, target)
}

// bareChannelID убирает префикс -100, с которым id канала приходит из Bot API.
func bareChannelID(id int64) int64 {
	switch {
	case id <= -channelIDShift:
		return -id - channelIDShift
	case id < 0:
		return -id
	default:
		return id
	}
}

// channelFromChats возвращает канал с указанным id, при id == 0 первый канал в списке.
func channelFromChats(chats []tg.ChatClass, id int64) (*tg.Channel, bool) {
	for _, chat := range chats {
		if ch, ok := chat.(*tg.Channel); ok && (id == 0 || ch.ID == id) {
			return ch, true
		}
	}
	return nil, false
}

func dialogChannel(peer tg.InputPeerClass, id int64) (*tg.InputChannel, bool) {
	p, ok := peer.(*tg.InputPeerChannel)
	if !ok || p.ChannelID != id {
		return nil, false
	}
	return &tg.InputChannel{ChannelID: p.ChannelID, AccessHash: p.AccessHash}, true
}

func (s *Source) inputChannel(ctx context.Context, ref string) (*tg.InputChannel, error) {
	parsed, err := channels.ParseRef(ref)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	ch, ok := s.channels[parsed.Key()]
	s.mu.Unlock()
	if ok {
		return ch, nil
	}
	if _, err := s.resolve(ctx, parsed); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels[parsed.Key()], nil
}

// ListNewAudioMessages листает историю от новых к старым до sinceCursor
// и возвращает аудиосообщения по возрастанию id.
func (s *Source) ListNewAudioMessages(ctx context.Context, ref string, sinceCursor int64) ([]domain.AudioMessage, error) {
	api, err := s.tgAPI()
	if err != nil {
		return nil, err
	}
	channel, err := s.inputChannel(ctx, ref)
	if err != nil {
		return nil, err
	}
	peer := &tg.InputPeerChannel{ChannelID: channel.ChannelID, AccessHash: channel.AccessHash}
	channelKey := ref
	if parsed, err := channels.ParseRef(ref); err == nil {
		channelKey = parsed.Key()
	}

	var out []domain.AudioMessage
	offsetID := 0
	for {
		start := time.Now()
		res, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:     peer,
			OffsetID: offsetID,
			Limit:    historyPageSize,
			MinID:    int(sinceCursor),
		})
		metrics.ObserveNetworkRequest("mtproto", "get_history", channelKey, start, err)
		if err != nil {
			return nil, fmt.Errorf("mtproto: история канала: %w", err)
		}

		batch := historyMessages(res)
		if len(batch) == 0 {
			break
		}
		lowest := lowestID(batch, offsetID)
		for _, raw := range batch {
			msg, ok := raw.(*tg.Message)
			if !ok {
				continue
			}
			if int64(msg.ID) <= sinceCursor {
				continue
			}
			audio, loc, ok := audioFromMessage(msg, channelKey)
			if !ok {
				continue
			}
			s.mu.Lock()
			s.docs[audio.ID] = loc
			s.mu.Unlock()
			out = append(out, audio)
		}
		if lowest == offsetID || lowest <= int(sinceCursor)+1 || len(batch) < historyPageSize {
			break
		}
		offsetID = lowest
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	s.log.Debug().Str("channel", channelKey).Int64("since", sinceCursor).Int("audio", len(out)).Msg("mtproto: история получена")
	return out, nil
}

// lowestID возвращает наименьший id страницы с учётом служебных и пустых сообщений.
func lowestID(batch []tg.MessageClass, offsetID int) int {
	lowest := offsetID
	for _, m := range batch {
		if id := m.GetID(); lowest == 0 || id < lowest {
			lowest = id
		}
	}
	return lowest
}

func historyMessages(res tg.MessagesMessagesClass) []tg.MessageClass {
	switch v := res.(type) {
	case *tg.MessagesChannelMessages:
		return v.Messages
	case *tg.MessagesMessagesSlice:
		return v.Messages
	case *tg.MessagesMessages:
		return v.Messages
	default:
		return nil
	}
}

// audioFromMessage возвращает описание аудио, если сообщение содержит аудиодокумент.
func audioFromMessage(msg *tg.Message, channelKey string) (domain.AudioMessage, *tg.InputDocumentFileLocation, bool) {
	media, ok := msg.Media.(*tg.MessageMediaDocument)
	if !ok {
		return domain.AudioMessage{}, nil, false
	}
	doc, ok := media.Document.(*tg.Document)
	if !ok {
		return domain.AudioMessage{}, nil, false
	}

	var (
		fileName string
		isAudio  = strings.Contains(doc.MimeType, "audio")
	)
	for _, attr := range doc.Attributes {
		switch a := attr.(type) {
		case *tg.DocumentAttributeFilename:
			fileName = a.FileName
		case *tg.DocumentAttributeAudio:
			isAudio = true
		}
	}
	if !isAudio {
		return domain.AudioMessage{}, nil, false
	}

	audio := domain.AudioMessage{
		ID:         int64(msg.ID),
		ChannelID:  channelKey,
		FileName:   fileName,
		MimeType:   doc.MimeType,
		Size:       doc.Size,
		CapturedAt: time.Unix(int64(msg.Date), 0).UTC(),
	}
	loc := &tg.InputDocumentFileLocation{
		ID:            doc.ID,
		AccessHash:    doc.AccessHash,
		FileReference: doc.FileReference,
	}
	return audio, loc, true
}

// FetchAudio скачивает документ сообщения в w.
func (s *Source) FetchAudio(ctx context.Context, msg domain.AudioMessage, w io.Writer) (int64, error) {
	api, err := s.tgAPI()
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	loc, ok := s.docs[msg.ID]
	s.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("mtproto: сообщение %d не встречалось в истории", msg.ID)
	}

	start := time.Now()
	cw := &countingWriter{w: w}
	_, err = downloader.NewDownloader().Download(api, loc).Stream(ctx, cw)
	metrics.ObserveNetworkRequest("mtproto", "download", msg.ChannelID, start, err)
	if err != nil {
		return cw.n, fmt.Errorf("mtproto: загрузка сообщения %d: %w", msg.ID, err)
	}
	return cw.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
