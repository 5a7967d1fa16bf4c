package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"ewintr.nl/ytsum/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vals map[string]string) lookupFunc {
	return func(name string) (string, bool) {
		val, ok := vals[name]
		return val, ok
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(env(map[string]string{
		"YOUTUBE_API_KEY":     "yt",
		"OPENROUTER_API_KEY":  "or",
		"SUMMARY_MAX_LENGTH":  "300",
		"CHECK_INTERVAL":      "6h",
		"RUN_ON_START":        "false",
		"TELEGRAM_RECIPIENTS": "123, @news ,",
	}))
	require.NoError(t, err)
	assert.Equal(t, "yt", cfg.YoutubeAPIKey)
	assert.Equal(t, 300, cfg.SummaryMaxLength)
	assert.Equal(t, 6*time.Hour, cfg.CheckInterval)
	assert.False(t, cfg.RunOnStart)
	assert.Equal(t, []string{"123", "@news"}, cfg.TelegramRecipients)
	assert.Equal(t, 5, cfg.MaxKeyPoints)

	err = cfg.applyEnv(env(map[string]string{"MAX_KEY_POINTS": "many", "DRAIN_INTERVAL": "soon"}))
	assert.ErrorIs(t, err, model.ErrConfiguration)
	assert.ErrorContains(t, err, "MAX_KEY_POINTS")
	assert.ErrorContains(t, err, "DRAIN_INTERVAL")
	assert.Equal(t, 5, cfg.MaxKeyPoints)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	assert.ErrorIs(t, err, model.ErrConfiguration)
	assert.ErrorContains(t, err, "YOUTUBE_API_KEY")
	assert.ErrorContains(t, err, "OPENROUTER_API_KEY")

	cfg.YoutubeAPIKey = "yt"
	cfg.OpenRouterAPIKey = "or"
	assert.NoError(t, cfg.Validate())

	cfg.TelegramRecipients = []string{"1"}
	assert.ErrorContains(t, cfg.Validate(), "TELEGRAM_BOT_TOKEN")

	cfg = Default()
	cfg.OpenRouterAPIKey = "or"
	cfg.VideoSource = "miniflux"
	assert.ErrorContains(t, cfg.Validate(), "MINIFLUX_ENDPOINT")
	cfg.VideoSource = "rss"
	assert.ErrorContains(t, cfg.Validate(), "unknown video source")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ytsum.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
youtubeAPIKey: from-file
openrouterAPIKey: or
checkInterval: 12h
maxSummariesPerRun: 10
transcriptLanguages: [nl, en]
postgres:
  host: db
`), 0o600))
	t.Setenv("YOUTUBE_API_KEY", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.YoutubeAPIKey)
	assert.Equal(t, 12*time.Hour, cfg.CheckInterval)
	assert.Equal(t, 10, cfg.MaxSummariesPerRun)
	assert.Equal(t, []string{"nl", "en"}, cfg.TranscriptLanguages)
	assert.Equal(t, "db", cfg.Postgres.Host)
	assert.Equal(t, "5432", cfg.Postgres.Port)

	t.Setenv("VIDEO_SOURCE", "rss")
	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, model.ErrConfiguration)
	assert.ErrorContains(t, err, "unknown video source")
}
