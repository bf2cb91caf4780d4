package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Источники сообщений, сервисы распознавания и документы.
const (
	SourceMTProto = "mtproto"
	SourceBot     = "bot"

	TranscriberAssemblyAI = "assemblyai"
	TranscriberWhisper    = "whisper"

	SinkGoogleDocs = "gdocs"
	SinkMarkdown   = "markdown"
)

var (
	ErrChannelRequired     = errors.New("не задан CHANNEL_ID")
	ErrDownloadDirRequired = errors.New("не задан DOWNLOAD_DIR")
	ErrBackupDirRequired   = errors.New("не задан TRANSCRIPT_BACKUP_DIR")
	ErrStateDirRequired    = errors.New("не задан STATE_DIR")
	ErrTelegramAPIRequired = errors.New("для CHANNEL_SOURCE=mtproto нужны TG_API_ID и TG_API_HASH")
	ErrSessionRequired     = errors.New("для CHANNEL_SOURCE=mtproto нужен MTPROTO_SESSION_FILE")
	ErrBotTokenRequired    = errors.New("для CHANNEL_SOURCE=bot нужен TG_BOT_TOKEN")
	ErrAssemblyAIKey       = errors.New("для TRANSCRIBER=assemblyai нужен ASSEMBLYAI_API_KEY")
	ErrWhisperURL          = errors.New("для TRANSCRIBER=whisper нужен WHISPER_URL")
	ErrGoogleCredentials   = errors.New("для DOCUMENT_SINK=gdocs нужен GOOGLE_CREDENTIALS_FILE")
	ErrUnknownOption       = errors.New("неизвестное значение параметра")
)

// AppConfig описывает конфигурацию запуска.
type AppConfig struct {
	AppEnv  string `envconfig:"APP_ENV" default:"prod"`
	LogFile string `envconfig:"LOG_FILE" default:"transcriber.log"`

	Telegram struct {
		Source   string `envconfig:"CHANNEL_SOURCE" default:"mtproto"`
		Token    string `envconfig:"TG_BOT_TOKEN"`
		APIID    int    `envconfig:"TG_API_ID"`
		APIHash  string `envconfig:"TG_API_HASH"`
		Phone    string `envconfig:"TG_PHONE"`
		Password string `envconfig:"TG_PASSWORD"`
	} `envconfig:""`

	MTProto struct {
		SessionFile string `envconfig:"MTPROTO_SESSION_FILE" default:"./data/session.json"`
	} `envconfig:""`

	Channel struct {
		ID             string        `envconfig:"CHANNEL_ID"`
		DisplayName    string        `envconfig:"CHANNEL_DISPLAY_NAME"`
		LanguageHint   string        `envconfig:"LANGUAGE_HINT" default:"fr"`
		DownloadDir    string        `envconfig:"DOWNLOAD_DIR" default:"./downloads"`
		BackupDir      string        `envconfig:"TRANSCRIPT_BACKUP_DIR" default:"./transcriptions"`
		StateDir       string        `envconfig:"STATE_DIR" default:"./data/state"`
		KeepDuplicates bool          `envconfig:"KEEP_DUPLICATES" default:"false"`
		MessageDelay   time.Duration `envconfig:"MESSAGE_DELAY" default:"1s"`
	} `envconfig:""`

	Transcriber struct {
		Kind         string        `envconfig:"TRANSCRIBER" default:"assemblyai"`
		APIKey       string        `envconfig:"ASSEMBLYAI_API_KEY"`
		BaseURL      string        `envconfig:"ASSEMBLYAI_BASE_URL"`
		PollInterval time.Duration `envconfig:"ASSEMBLYAI_POLL_INTERVAL" default:"5s"`
		Timeout      time.Duration `envconfig:"TRANSCRIBER_TIMEOUT" default:"10m"`
		WhisperURL   string        `envconfig:"WHISPER_URL"`
	} `envconfig:""`

	Document struct {
		Sink            string `envconfig:"DOCUMENT_SINK" default:"gdocs"`
		CredentialsFile string `envconfig:"GOOGLE_CREDENTIALS_FILE"`
		FolderID        string `envconfig:"GOOGLE_DRIVE_FOLDER_ID"`
		MarkdownDir     string `envconfig:"MARKDOWN_DIR" default:"./documents"`
	} `envconfig:""`

	Archive struct {
		Bucket string `envconfig:"ARCHIVE_GCS_BUCKET"`
		Prefix string `envconfig:"ARCHIVE_GCS_PREFIX"`
	} `envconfig:""`

	Metrics struct {
		Addr string `envconfig:"METRICS_ADDR"`
	} `envconfig:""`
}

// Load подхватывает .env, если он есть, и читает конфиг из окружения.
// Переменные окружения имеют приоритет над .env.
func Load(envFiles ...string) (AppConfig, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return AppConfig{}, fmt.Errorf("чтение %s: %w", file, err)
		}
	}
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("не удалось загрузить конфиг: %w", err)
	}
	cfg.Telegram.Source = strings.ToLower(strings.TrimSpace(cfg.Telegram.Source))
	cfg.Transcriber.Kind = strings.ToLower(strings.TrimSpace(cfg.Transcriber.Kind))
	cfg.Document.Sink = strings.ToLower(strings.TrimSpace(cfg.Document.Sink))
	return cfg, nil
}

// Validate проверяет обязательные параметры для выбранных адаптеров.
func (c AppConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Channel.ID) == "" {
		errs = append(errs, ErrChannelRequired)
	}
	if c.Channel.DownloadDir == "" {
		errs = append(errs, ErrDownloadDirRequired)
	}
	if c.Channel.BackupDir == "" {
		errs = append(errs, ErrBackupDirRequired)
	}
	if c.Channel.StateDir == "" {
		errs = append(errs, ErrStateDirRequired)
	}

	switch c.Telegram.Source {
	case SourceMTProto:
		if c.Telegram.APIID == 0 || c.Telegram.APIHash == "" {
			errs = append(errs, ErrTelegramAPIRequired)
		}
		if c.MTProto.SessionFile == "" {
			errs = append(errs, ErrSessionRequired)
		}
	case SourceBot:
		if c.Telegram.Token == "" {
			errs = append(errs, ErrBotTokenRequired)
		}
	default:
		errs = append(errs, fmt.Errorf("%w: CHANNEL_SOURCE=%q", ErrUnknownOption, c.Telegram.Source))
	}

	switch c.Transcriber.Kind {
	case TranscriberAssemblyAI:
		if c.Transcriber.APIKey == "" {
			errs = append(errs, ErrAssemblyAIKey)
		}
	case TranscriberWhisper:
		if c.Transcriber.WhisperURL == "" {
			errs = append(errs, ErrWhisperURL)
		}
	default:
		errs = append(errs, fmt.Errorf("%w: TRANSCRIBER=%q", ErrUnknownOption, c.Transcriber.Kind))
	}

	switch c.Document.Sink {
	case SinkGoogleDocs:
		if c.Document.CredentialsFile == "" {
			errs = append(errs, ErrGoogleCredentials)
		}
	case SinkMarkdown:
	default:
		errs = append(errs, fmt.Errorf("%w: DOCUMENT_SINK=%q", ErrUnknownOption, c.Document.Sink))
	}

	return errors.Join(errs...)
}
