package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"ewintr.nl/ytsum/model"
	"gopkg.in/yaml.v3"
)

type Postgres struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

type Config struct {
	LogLevel string `yaml:"logLevel"`
	APIPort  int    `yaml:"apiPort"`
	Owner    string `yaml:"owner"`
	UserID   string `yaml:"userID"`

	DatabaseDriver string   `yaml:"databaseDriver"`
	DatabasePath   string   `yaml:"databasePath"`
	Postgres       Postgres `yaml:"postgres"`

	VideoSource         string   `yaml:"videoSource"`
	YoutubeAPIKey       string   `yaml:"youtubeAPIKey"`
	MinifluxEndpoint    string   `yaml:"minifluxEndpoint"`
	MinifluxAPIKey      string   `yaml:"minifluxAPIKey"`
	TranscriptLanguages []string `yaml:"transcriptLanguages"`
	ProxyURL            string   `yaml:"proxyURL"`

	OpenRouterAPIKey  string `yaml:"openrouterAPIKey"`
	OpenRouterModel   string `yaml:"openrouterModel"`
	OpenRouterBaseURL string `yaml:"openrouterBaseURL"`
	RequestsPerMinute int    `yaml:"requestsPerMinute"`

	TelegramToken      string   `yaml:"telegramToken"`
	TelegramRecipients []string `yaml:"telegramRecipients"`
	SummaryURL         string   `yaml:"summaryURL"`

	WeaviateHost   string `yaml:"weaviateHost"`
	WeaviateAPIKey string `yaml:"weaviateAPIKey"`
	OpenAIAPIKey   string `yaml:"openaiAPIKey"`
	ResetIndex     bool   `yaml:"resetIndex"`

	CheckInterval         time.Duration `yaml:"checkInterval"`
	DrainInterval         time.Duration `yaml:"drainInterval"`
	RunOnStart            bool          `yaml:"runOnStart"`
	DaysToLookBack        int           `yaml:"daysToLookBack"`
	MaxVideosPerCheck     int           `yaml:"maxVideosPerCheck"`
	MaxTranscriptAttempts int           `yaml:"maxTranscriptAttempts"`
	MaxTranscriptsPerRun  int           `yaml:"maxTranscriptsPerRun"`
	MaxSummariesPerRun    int           `yaml:"maxSummariesPerRun"`
	SummaryMaxLength      int           `yaml:"summaryMaxLength"`
	MaxKeyPoints          int           `yaml:"maxKeyPoints"`
	RequestTimeout        time.Duration `yaml:"requestTimeout"`

	NotifyMaxRetries   int           `yaml:"notifyMaxRetries"`
	NotifyBatchSize    int           `yaml:"notifyBatchSize"`
	NotifySendInterval time.Duration `yaml:"notifySendInterval"`
	NotifyRetention    time.Duration `yaml:"notifyRetention"`
}

func Default() Config {
	return Config{
		LogLevel:              "info",
		APIPort:               8080,
		Owner:                 "ytsum",
		UserID:                "default",
		DatabaseDriver:        "sqlite",
		DatabasePath:          "ytsum.db",
		Postgres:              Postgres{Host: "localhost", Port: "5432", User: "ytsum", Password: "ytsum", Database: "ytsum"},
		VideoSource:           "youtube",
		TranscriptLanguages:   []string{"en"},
		OpenRouterModel:       "anthropic/claude-3.5-sonnet",
		OpenRouterBaseURL:     "https://openrouter.ai/api/v1",
		RequestsPerMinute:     20,
		CheckInterval:         24 * time.Hour,
		DrainInterval:         time.Minute,
		RunOnStart:            true,
		DaysToLookBack:        7,
		MaxVideosPerCheck:     50,
		MaxTranscriptAttempts: 10,
		MaxTranscriptsPerRun:  50,
		MaxSummariesPerRun:    30,
		SummaryMaxLength:      500,
		MaxKeyPoints:          5,
		RequestTimeout:        2 * time.Minute,
		NotifyMaxRetries:      3,
		NotifyBatchSize:       50,
		NotifySendInterval:    50 * time.Millisecond,
	}
}

// Load starts from the defaults, applies the YAML file at path if there is
// one and then the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w: %v", model.ErrConfiguration, err)
			}
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	p := params{lookup: lookup}
	p.str("LOG_LEVEL", &c.LogLevel)
	p.integer("API_PORT", &c.APIPort)
	p.str("APP_NAME", &c.Owner)
	p.str("YTSUM_USER", &c.UserID)

	p.str("DATABASE_DRIVER", &c.DatabaseDriver)
	p.str("DATABASE_PATH", &c.DatabasePath)
	p.str("POSTGRES_HOST", &c.Postgres.Host)
	p.str("POSTGRES_PORT", &c.Postgres.Port)
	p.str("POSTGRES_USER", &c.Postgres.User)
	p.str("POSTGRES_PASSWORD", &c.Postgres.Password)
	p.str("POSTGRES_DB", &c.Postgres.Database)

	p.str("VIDEO_SOURCE", &c.VideoSource)
	p.str("YOUTUBE_API_KEY", &c.YoutubeAPIKey)
	p.str("MINIFLUX_ENDPOINT", &c.MinifluxEndpoint)
	p.str("MINIFLUX_APIKEY", &c.MinifluxAPIKey)
	p.list("TRANSCRIPT_LANGUAGES", &c.TranscriptLanguages)
	p.str("PROXY_URL", &c.ProxyURL)

	p.str("OPENROUTER_API_KEY", &c.OpenRouterAPIKey)
	p.str("OPENROUTER_MODEL", &c.OpenRouterModel)
	p.str("OPENROUTER_BASE_URL", &c.OpenRouterBaseURL)
	p.integer("OPENROUTER_REQUESTS_PER_MINUTE", &c.RequestsPerMinute)

	p.str("TELEGRAM_BOT_TOKEN", &c.TelegramToken)
	p.list("TELEGRAM_RECIPIENTS", &c.TelegramRecipients)
	p.str("SUMMARY_URL", &c.SummaryURL)

	p.str("WEAVIATE_HOST", &c.WeaviateHost)
	p.str("WEAVIATE_API_KEY", &c.WeaviateAPIKey)
	p.str("OPENAI_API_KEY", &c.OpenAIAPIKey)
	p.boolean("WEAVIATE_RESET_SCHEMA", &c.ResetIndex)

	p.duration("CHECK_INTERVAL", &c.CheckInterval)
	p.duration("DRAIN_INTERVAL", &c.DrainInterval)
	p.boolean("RUN_ON_START", &c.RunOnStart)
	p.integer("DAYS_TO_LOOK_BACK", &c.DaysToLookBack)
	p.integer("MAX_VIDEOS_PER_CHECK", &c.MaxVideosPerCheck)
	p.integer("MAX_TRANSCRIPT_ATTEMPTS", &c.MaxTranscriptAttempts)
	p.integer("MAX_TRANSCRIPTS_PER_RUN", &c.MaxTranscriptsPerRun)
	p.integer("MAX_SUMMARIES_PER_RUN", &c.MaxSummariesPerRun)
	p.integer("SUMMARY_MAX_LENGTH", &c.SummaryMaxLength)
	p.integer("MAX_KEY_POINTS", &c.MaxKeyPoints)
	p.duration("REQUEST_TIMEOUT", &c.RequestTimeout)

	p.integer("NOTIFY_MAX_RETRIES", &c.NotifyMaxRetries)
	p.integer("NOTIFY_BATCH_SIZE", &c.NotifyBatchSize)
	p.duration("NOTIFY_SEND_INTERVAL", &c.NotifySendInterval)
	p.duration("NOTIFY_RETENTION", &c.NotifyRetention)

	return errors.Join(p.errs...)
}

// Validate reports everything that keeps the service from running. Missing
// credentials are configuration errors.
func (c Config) Validate() error {
	errs := []error{}
	missing := func(name string) {
		errs = append(errs, fmt.Errorf("%s is not set: %w", name, model.ErrConfiguration))
	}

	switch c.VideoSource {
	case "youtube":
		if c.YoutubeAPIKey == "" {
			missing("YOUTUBE_API_KEY")
		}
	case "miniflux":
		if c.MinifluxEndpoint == "" {
			missing("MINIFLUX_ENDPOINT")
		}
		if c.MinifluxAPIKey == "" {
			missing("MINIFLUX_APIKEY")
		}
	default:
		errs = append(errs, fmt.Errorf("unknown video source %q: %w", c.VideoSource, model.ErrConfiguration))
	}
	if c.OpenRouterAPIKey == "" {
		missing("OPENROUTER_API_KEY")
	}
	switch c.DatabaseDriver {
	case "sqlite":
		if c.DatabasePath == "" {
			missing("DATABASE_PATH")
		}
	case "postgres":
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q: %w", c.DatabaseDriver, model.ErrConfiguration))
	}
	if len(c.TelegramRecipients) > 0 && c.TelegramToken == "" {
		missing("TELEGRAM_BOT_TOKEN")
	}
	if c.WeaviateHost != "" && c.OpenAIAPIKey == "" {
		missing("OPENAI_API_KEY")
	}
	if c.CheckInterval <= 0 || c.DrainInterval <= 0 {
		errs = append(errs, fmt.Errorf("intervals must be positive: %w", model.ErrConfiguration))
	}
	if c.NotifyMaxRetries <= 0 || c.NotifyBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("notification limits must be positive: %w", model.ErrConfiguration))
	}

	return errors.Join(errs...)
}

type params struct {
	lookup lookupFunc
	errs   []error
}

func (p *params) str(name string, dst *string) {
	if val, ok := p.lookup(name); ok {
		*dst = val
	}
}

func (p *params) list(name string, dst *[]string) {
	val, ok := p.lookup(name)
	if !ok {
		return
	}
	out := []string{}
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (p *params) integer(name string, dst *int) {
	val, ok := p.lookup(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s %q: %w", name, val, model.ErrConfiguration))
		return
	}
	*dst = n
}

func (p *params) duration(name string, dst *time.Duration) {
	val, ok := p.lookup(name)
	if !ok {
		return
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s %q: %w", name, val, model.ErrConfiguration))
		return
	}
	*dst = d
}

func (p *params) boolean(name string, dst *bool) {
	val, ok := p.lookup(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s %q: %w", name, val, model.ErrConfiguration))
		return
	}
	*dst = b
}
