package mtproto

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/gotd/td/bin"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudioFromMessage(t *testing.T) {
	date := time.Date(2024, 12, 1, 8, 0, 0, 0, time.UTC)
	msg := &tg.Message{
		ID:   17,
		Date: int(date.Unix()),
		Media: &tg.MessageMediaDocument{Document: &tg.Document{
			ID:            100,
			AccessHash:    200,
			FileReference: []byte{1, 2},
			MimeType:      "audio/mpeg",
			Size:          2048,
			Attributes: []tg.DocumentAttributeClass{
				&tg.DocumentAttributeAudio{Duration: 60},
				&tg.DocumentAttributeFilename{FileName: "interview.mp3"},
			},
		}},
	}

	audio, loc, ok := audioFromMessage(msg, "foo")
	require.True(t, ok)
	assert.Equal(t, int64(17), audio.ID)
	assert.Equal(t, "foo", audio.ChannelID)
	assert.Equal(t, "interview.mp3", audio.FileName)
	assert.Equal(t, int64(2048), audio.Size)
	assert.True(t, audio.CapturedAt.Equal(date))
	assert.Equal(t, int64(100), loc.ID)
	assert.Equal(t, int64(200), loc.AccessHash)
}

func TestAudioFromMessageSkipsOtherMedia(t *testing.T) {
	video := &tg.Message{ID: 1, Media: &tg.MessageMediaDocument{Document: &tg.Document{MimeType: "video/mp4"}}}
	_, _, ok := audioFromMessage(video, "foo")
	assert.False(t, ok)

	text := &tg.Message{ID: 2, Message: "hello"}
	_, _, ok = audioFromMessage(text, "foo")
	assert.False(t, ok)

	photo := &tg.Message{ID: 3, Media: &tg.MessageMediaPhoto{}}
	_, _, ok = audioFromMessage(photo, "foo")
	assert.False(t, ok)
}

func TestAudioFromMessageAcceptsVoiceWithoutName(t *testing.T) {
	msg := &tg.Message{ID: 9, Media: &tg.MessageMediaDocument{Document: &tg.Document{
		MimeType:   "application/octet-stream",
		Attributes: []tg.DocumentAttributeClass{&tg.DocumentAttributeAudio{Voice: true}},
	}}}
	audio, _, ok := audioFromMessage(msg, "foo")
	require.True(t, ok)
	assert.Empty(t, audio.FileName)
}

func TestHistoryMessages(t *testing.T) {
	msgs := []tg.MessageClass{&tg.Message{ID: 1}, &tg.MessageService{ID: 2}}
	assert.Len(t, historyMessages(&tg.MessagesChannelMessages{Messages: msgs}), 2)
	assert.Len(t, historyMessages(&tg.MessagesMessagesSlice{Messages: msgs}), 2)
	assert.Nil(t, historyMessages(&tg.MessagesMessagesNotModified{}))
}

func TestCountingWriter(t *testing.T) {
	var buf bytes.Buffer
	cw := &countingWriter{w: &buf}
	_, _ = cw.Write([]byte("abc"))
	_, _ = cw.Write([]byte("de"))
	assert.Equal(t, int64(5), cw.n)
	assert.Equal(t, "abcde", buf.String())
}

func TestNewSourceValidates(t *testing.T) {
	_, err := NewSource(Options{}, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewSource(Options{AppID: 1, AppHash: "hash"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestSourceRequiresConnect(t *testing.T) {
	src, err := NewSource(Options{AppID: 1, AppHash: "hash", SessionPath: t.TempDir() + "/session.json"}, zerolog.Nop())
	require.NoError(t, err)
	_, err = src.ListNewAudioMessages(context.Background(), "@foochannel", 0)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NoError(t, src.Close())
}

func TestBareChannelID(t *testing.T) {
	assert.Equal(t, int64(1234567890), bareChannelID(-1001234567890))
	assert.Equal(t, int64(1234567890), bareChannelID(1234567890))
	assert.Equal(t, int64(42), bareChannelID(-42))
}

func TestChannelFromChats(t *testing.T) {
	chats := []tg.ChatClass{
		&tg.Chat{ID: 1234567890, Title: "group"},
		&tg.Channel{ID: 555, Title: "other"},
		&tg.Channel{ID: 1234567890, AccessHash: 77, Title: "Le Podcast"},
	}

	ch, ok := channelFromChats(chats, 1234567890)
	require.True(t, ok)
	assert.Equal(t, "Le Podcast", ch.Title)
	assert.Equal(t, int64(77), ch.AccessHash)

	first, ok := channelFromChats(chats, 0)
	require.True(t, ok)
	assert.Equal(t, int64(555), first.ID)

	_, ok = channelFromChats(chats, 9)
	assert.False(t, ok)
}

func TestDialogChannelMatchesNumericID(t *testing.T) {
	in, ok := dialogChannel(&tg.InputPeerChannel{ChannelID: 1234567890, AccessHash: 99}, bareChannelID(-1001234567890))
	require.True(t, ok)
	assert.Equal(t, int64(1234567890), in.ChannelID)
	assert.Equal(t, int64(99), in.AccessHash)

	_, ok = dialogChannel(&tg.InputPeerChannel{ChannelID: 1, AccessHash: 99}, 1234567890)
	assert.False(t, ok)
	_, ok = dialogChannel(&tg.InputPeerUser{UserID: 1234567890}, 1234567890)
	assert.False(t, ok)
}

func TestResolveNumericChannelNeedsConnection(t *testing.T) {
	src, err := NewSource(Options{AppID: 1, AppHash: "hash", SessionPath: t.TempDir() + "/session.json"}, zerolog.Nop())
	require.NoError(t, err)

	_, err = src.ResolveChannel(context.Background(), "-1001234567890")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestLowestIDCountsServiceMessages(t *testing.T) {
	batch := []tg.MessageClass{
		&tg.MessageService{ID: 90},
		&tg.MessageEmpty{ID: 80},
		&tg.MessageService{ID: 85},
	}
	assert.Equal(t, 80, lowestID(batch, 100))
	assert.Equal(t, 80, lowestID(batch, 0))
	assert.Equal(t, 50, lowestID(batch, 50))
}

type floodInvoker struct {
	calls int
}

func (f *floodInvoker) Invoke(context.Context, bin.Encoder, bin.Decoder) error {
	f.calls++
	return tgerr.New(420, "FLOOD_WAIT_3")
}

func TestFloodWaitFailsWithoutRetry(t *testing.T) {
	src, err := NewSource(Options{AppID: 1, AppHash: "hash", SessionPath: t.TempDir() + "/session.json"}, zerolog.Nop())
	require.NoError(t, err)
	inv := &floodInvoker{}
	src.api = tg.NewClient(inv)

	_, err = src.ResolveChannel(context.Background(), "@foocast")
	require.Error(t, err)
	_, isFlood := tgerr.AsFloodWait(err)
	assert.True(t, isFlood)
	assert.Equal(t, 1, inv.calls)
}
