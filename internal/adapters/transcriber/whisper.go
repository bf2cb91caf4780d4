package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"tg-audio-transcriber/internal/domain"
	"tg-audio-transcriber/internal/infra/metrics"
)

// DefaultWhisperTimeout ограничивает запрос к whisper-asr-webservice.
const DefaultWhisperTimeout = 10 * time.Minute

// Whisper реализует распознавание через onerahmet/openai-whisper-asr-webservice.
type Whisper struct {
	baseURL    string
	httpClient *http.Client
}

var _ domain.TranscriptionService = (*Whisper)(nil)

// WhisperOption настраивает клиента.
type WhisperOption func(*Whisper)

// WithTimeout задаёт таймаут HTTP запроса.
func WithTimeout(d time.Duration) WhisperOption {
	return func(w *Whisper) {
		w.httpClient.Timeout = d
	}
}

// WithHTTPClient задаёт собственный HTTP клиент.
func WithHTTPClient(client *http.Client) WhisperOption {
	return func(w *Whisper) {
		w.httpClient = client
	}
}

// NewWhisper создаёт клиента whisper-asr-webservice.
func NewWhisper(baseURL string, opts ...WhisperOption) *Whisper {
	w := &Whisper{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: DefaultWhisperTimeout},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Transcribe отправляет файл потоком в multipart запросе.
func (w *Whisper) Transcribe(ctx context.Context, audioPath, languageHint string) (string, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("открытие аудио: %w", err)
	}
	defer file.Close()

	reqURL, err := w.buildURL(languageHint)
	if err != nil {
		return "", fmt.Errorf("whisper: build URL: %w", err)
	}

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		part, err := form.CreateFormFile("audio_file", filepath.Base(audioPath))
		if err == nil {
			_, err = io.Copy(part, file)
		}
		if err == nil {
			err = form.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, pr)
	if err != nil {
		_ = pr.Close()
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := w.httpClient.Do(req)
	if err != nil {
		_ = pr.Close()
		metrics.ObserveNetworkRequest("whisper", "asr", w.baseURL, start, err)
		return "", fmt.Errorf("whisper: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err = fmt.Errorf("whisper: status %d: %s", resp.StatusCode, string(body))
		metrics.ObserveNetworkRequest("whisper", "asr", w.baseURL, start, err)
		return "", err
	}

	var parsed struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		metrics.ObserveNetworkRequest("whisper", "asr", w.baseURL, start, err)
		return "", fmt.Errorf("whisper: parse response: %w", err)
	}
	metrics.ObserveNetworkRequest("whisper", "asr", w.baseURL, start, nil)
	return parsed.Text, nil
}

func (w *Whisper) buildURL(language string) (string, error) {
	u, err := url.Parse(w.baseURL)
	if err != nil {
		return "", err
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/asr"
	}
	q := u.Query()
	q.Set("output", "json")
	if language != "" && language != "auto" {
		q.Set("language", language)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
