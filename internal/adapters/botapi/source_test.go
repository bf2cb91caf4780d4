package botapi

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-audio-transcriber/internal/domain"
)

const testToken = "123:abc"

// rewriteTransport направляет все запросы на тестовый сервер.
type rewriteTransport struct {
	target *url.URL
}

func (t rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = t.target.Scheme
	req.URL.Host = t.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

const defaultUpdates = `{"ok":true,"result":[
		{"update_id":1,"channel_post":{"message_id":12,"date":1733011200,"chat":{"id":-1001234567890,"type":"channel"},"audio":{"file_id":"f12","file_unique_id":"u12","duration":3,"file_name":"b.mp3","mime_type":"audio/mpeg","file_size":5}}},
		{"update_id":2,"channel_post":{"message_id":10,"date":1733011200,"chat":{"id":-1001234567890,"type":"channel"},"document":{"file_id":"f10","file_unique_id":"u10","file_name":"a.m4a","mime_type":"audio/mp4","file_size":5}}},
		{"update_id":3,"channel_post":{"message_id":11,"date":1733011200,"chat":{"id":-1001234567890,"type":"channel"},"text":"hello"}},
		{"update_id":4,"channel_post":{"message_id":13,"date":1733011200,"chat":{"id":-1009,"type":"channel"},"voice":{"file_id":"f13","file_unique_id":"u13","duration":3}}},
		{"update_id":5,"channel_post":{"message_id":9,"date":1733011200,"chat":{"id":-1001234567890,"type":"channel"},"voice":{"file_id":"f9","file_unique_id":"u9","duration":3}}}
	]}`

func newTestSource(t *testing.T) *Source {
	t.Helper()
	return newTestSourceWith(t, defaultUpdates, zerolog.Nop())
}

func newTestSourceWith(t *testing.T, updates string, log zerolog.Logger) *Source {
	t.Helper()
	mux := http.NewServeMux()
	reply := func(path, body string) {
		mux.HandleFunc(path, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, body)
		})
	}
	reply("/bot"+testToken+"/getMe", `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"t","username":"tbot"}}`)
	reply("/bot"+testToken+"/getChat", `{"ok":true,"result":{"id":-1001234567890,"type":"channel","title":"Foo Cast","username":"FooCast"}}`)
	reply("/bot"+testToken+"/getUpdates", updates)
	reply("/bot"+testToken+"/getFile", `{"ok":true,"result":{"file_id":"f12","file_unique_id":"u12","file_path":"music/b.mp3"}}`)
	reply("/file/bot"+testToken+"/music/b.mp3", "audio")

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	target, err := url.Parse(srv.URL)
	require.NoError(t, err)

	client := &http.Client{Transport: rewriteTransport{target: target}}
	bot, err := tgbotapi.NewBotAPIWithClient(testToken, tgbotapi.APIEndpoint, client)
	require.NoError(t, err)
	return NewSource(bot, client, log)
}

func TestResolveChannel(t *testing.T) {
	src := newTestSource(t)
	meta, err := src.ResolveChannel(context.Background(), "https://t.me/FooCast")
	require.NoError(t, err)
	assert.Equal(t, "foocast", meta.Alias)
	assert.Equal(t, "Foo Cast", meta.Title)
	assert.Equal(t, int64(-1001234567890), meta.ID)
}

func TestListNewAudioMessagesFiltersAndSorts(t *testing.T) {
	src := newTestSource(t)
	msgs, err := src.ListNewAudioMessages(context.Background(), "@foocast", 9)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(10), msgs[0].ID)
	assert.Equal(t, "a.m4a", msgs[0].FileName)
	assert.Equal(t, int64(12), msgs[1].ID)
	assert.Equal(t, "foocast", msgs[1].ChannelID)
	assert.Equal(t, int64(5), msgs[1].Size)
}

func TestFetchAudio(t *testing.T) {
	src := newTestSource(t)
	msgs, err := src.ListNewAudioMessages(context.Background(), "@foocast", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var buf bytes.Buffer
	n, err := src.FetchAudio(context.Background(), msgs[0], &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, "audio", buf.String())
}

func TestFetchAudioRejectsBigAndUnknown(t *testing.T) {
	src := newTestSource(t)
	_, err := src.FetchAudio(context.Background(), domain.AudioMessage{ID: 1, Size: MaxDownloadSize + 1}, &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrFileTooBig)

	_, err = src.FetchAudio(context.Background(), domain.AudioMessage{ID: 99}, &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestListNewAudioMessagesWarnsOnFullBacklog(t *testing.T) {
	posts := make([]string, 0, updatesLimit)
	for i := 1; i <= updatesLimit; i++ {
		posts = append(posts, fmt.Sprintf(`{"update_id":%d,"channel_post":{"message_id":%d,"date":1733011200,"chat":{"id":-1001234567890,"type":"channel"},"text":"post"}}`, i, i))
	}
	var logs bytes.Buffer
	src := newTestSourceWith(t, `{"ok":true,"result":[`+strings.Join(posts, ",")+`]}`, zerolog.New(&logs))

	msgs, err := src.ListNewAudioMessages(context.Background(), "@foocast", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Contains(t, logs.String(), `"level":"warn"`)
	assert.Contains(t, logs.String(), `"limit":100`)
}

func TestListNewAudioMessagesQuietBelowLimit(t *testing.T) {
	var logs bytes.Buffer
	src := newTestSourceWith(t, defaultUpdates, zerolog.New(&logs))

	_, err := src.ListNewAudioMessages(context.Background(), "@foocast", 0)
	require.NoError(t, err)
	assert.NotContains(t, logs.String(), `"level":"warn"`)
}
