package assemblyai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	aai "github.com/AssemblyAI/assemblyai-go-sdk"

	"tg-audio-transcriber/internal/infra/metrics"
)

// Статусы расшифровки.
const (
	StatusQueued     = string(aai.TranscriptStatusQueued)
	StatusProcessing = string(aai.TranscriptStatusProcessing)
	StatusCompleted  = string(aai.TranscriptStatusCompleted)
	StatusError      = string(aai.TranscriptStatusError)
)

var errEmptyKey = errors.New("assemblyai: api key is empty")

// Client оборачивает SDK AssemblyAI и пишет метрики сетевых запросов.
type Client struct {
	sdk    *aai.Client
	apiKey string
}

// NewClient создаёт клиента AssemblyAI. Пустой baseURL означает боевой адрес API.
func NewClient(apiKey, baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	opts := []aai.ClientOption{
		aai.WithAPIKey(apiKey),
		aai.WithHTTPClient(&http.Client{Timeout: timeout}),
	}
	if baseURL = strings.TrimRight(baseURL, "/"); baseURL != "" {
		opts = append(opts, aai.WithBaseURL(baseURL))
	}
	return &Client{sdk: aai.NewClientWithOptions(opts...), apiKey: apiKey}
}

// TranscriptRequest описывает параметры новой расшифровки.
type TranscriptRequest struct {
	AudioURL     string
	LanguageCode string
}

// Transcript описывает состояние расшифровки.
type Transcript struct {
	ID     string
	Status string
	Text   string
	Error  string
}

func fromSDK(tr aai.Transcript) Transcript {
	return Transcript{
		ID:     aai.ToString(tr.ID),
		Status: string(tr.Status),
		Text:   aai.ToString(tr.Text),
		Error:  aai.ToString(tr.Error),
	}
}

// Upload загружает аудио и возвращает ссылку для запроса расшифровки.
func (c *Client) Upload(ctx context.Context, audio io.Reader) (string, error) {
	if c.apiKey == "" {
		return "", errEmptyKey
	}
	start := time.Now()
	link, err := c.sdk.Upload(ctx, audio)
	if err == nil && link == "" {
		err = errors.New("пустой upload_url")
	}
	metrics.ObserveNetworkRequest("assemblyai", "upload", "assemblyai", start, err)
	if err != nil {
		return "", fmt.Errorf("assemblyai: upload: %w", err)
	}
	return link, nil
}

// CreateTranscript ставит расшифровку в очередь.
func (c *Client) CreateTranscript(ctx context.Context, req TranscriptRequest) (Transcript, error) {
	if c.apiKey == "" {
		return Transcript{}, errEmptyKey
	}
	params := &aai.TranscriptOptionalParams{}
	if req.LanguageCode != "" {
		params.LanguageCode = aai.TranscriptLanguageCode(req.LanguageCode)
	}
	start := time.Now()
	tr, err := c.sdk.Transcripts.SubmitFromURL(ctx, req.AudioURL, params)
	metrics.ObserveNetworkRequest("assemblyai", "create_transcript", "assemblyai", start, err)
	if err != nil {
		return Transcript{}, fmt.Errorf("assemblyai: create transcript: %w", err)
	}
	return fromSDK(tr), nil
}

// GetTranscript возвращает текущее состояние расшифровки.
func (c *Client) GetTranscript(ctx context.Context, id string) (Transcript, error) {
	if c.apiKey == "" {
		return Transcript{}, errEmptyKey
	}
	start := time.Now()
	tr, err := c.sdk.Transcripts.Get(ctx, id)
	metrics.ObserveNetworkRequest("assemblyai", "get_transcript", "assemblyai", start, err)
	if err != nil {
		return Transcript{}, fmt.Errorf("assemblyai: get transcript: %w", err)
	}
	return fromSDK(tr), nil
}
