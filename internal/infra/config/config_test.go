package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CHANNEL_ID", "@foocast")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "@foocast", cfg.Channel.ID)
	assert.Equal(t, "fr", cfg.Channel.LanguageHint)
	assert.Equal(t, "./downloads", cfg.Channel.DownloadDir)
	assert.Equal(t, "./transcriptions", cfg.Channel.BackupDir)
	assert.Equal(t, "./data/state", cfg.Channel.StateDir)
	assert.Equal(t, time.Second, cfg.Channel.MessageDelay)
	assert.Equal(t, 5*time.Second, cfg.Transcriber.PollInterval)
	assert.Equal(t, "transcriber.log", cfg.LogFile)
	assert.Equal(t, SourceMTProto, cfg.Telegram.Source)
	assert.Equal(t, TranscriberAssemblyAI, cfg.Transcriber.Kind)
	assert.Equal(t, SinkGoogleDocs, cfg.Document.Sink)
}

func TestLoadReadsDotEnv(t *testing.T) {
	env := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(env, []byte("LANGUAGE_HINT=en\nDOCUMENT_SINK=Markdown\n"), 0o644))
	for _, key := range []string{"LANGUAGE_HINT", "DOCUMENT_SINK"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg, err := Load(env)
	require.NoError(t, err)
	assert.Equal(t, "en", cfg.Channel.LanguageHint)
	assert.Equal(t, SinkMarkdown, cfg.Document.Sink)
}

func validConfig() AppConfig {
	var cfg AppConfig
	cfg.Channel.ID = "@foocast"
	cfg.Channel.DownloadDir = "d"
	cfg.Channel.BackupDir = "b"
	cfg.Channel.StateDir = "s"
	cfg.Telegram.Source = SourceMTProto
	cfg.Telegram.APIID = 1
	cfg.Telegram.APIHash = "hash"
	cfg.MTProto.SessionFile = "session.json"
	cfg.Transcriber.Kind = TranscriberAssemblyAI
	cfg.Transcriber.APIKey = "key"
	cfg.Document.Sink = SinkMarkdown
	return cfg
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	cfg := validConfig()
	cfg.Channel.ID = " "
	assert.ErrorIs(t, cfg.Validate(), ErrChannelRequired)

	cfg = validConfig()
	cfg.Telegram.APIHash = ""
	assert.ErrorIs(t, cfg.Validate(), ErrTelegramAPIRequired)

	cfg = validConfig()
	cfg.Telegram.Source = SourceBot
	assert.ErrorIs(t, cfg.Validate(), ErrBotTokenRequired)

	cfg = validConfig()
	cfg.Transcriber.Kind = TranscriberWhisper
	assert.ErrorIs(t, cfg.Validate(), ErrWhisperURL)

	cfg = validConfig()
	cfg.Document.Sink = SinkGoogleDocs
	assert.ErrorIs(t, cfg.Validate(), ErrGoogleCredentials)

	cfg = validConfig()
	cfg.Document.Sink = "notion"
	assert.ErrorIs(t, cfg.Validate(), ErrUnknownOption)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	var cfg AppConfig
	err := cfg.Validate()
	assert.ErrorIs(t, err, ErrChannelRequired)
	assert.ErrorIs(t, err, ErrDownloadDirRequired)
	assert.ErrorIs(t, err, ErrUnknownOption)
}
