package config

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

type Config struct {
	Stream    StreamConfig
	Store     StoreConfig
	Chat      ChatConfig
	Analytics AnalyticsConfig
	AI        AIConfig
}

type StreamConfig struct {
	PlaybackURL   string
	StreamID      string
	ProbeSecs     int
	RetrySecs     int // delay before the automatic retry of a recoverable probe failure
	ProbeTimeoutS int
}

type StoreConfig struct {
	SQLitePath    string
	TTLDays       int
	PurgeEveryMin int
}

type ChatConfig struct {
	MaxMessageLen  int
	Window         int // rolling non-system message cap per session
	HistoryLimit   int
	DemoEnabled    bool
	DemoEveryMS    int
	DemoChance     float64 // probability a tick emits a message
	DemoSubChance  float64 // probability a demo message carries a sub badge
	NoticeClearSec int
}

type AnalyticsConfig struct {
	RefreshSecs   int
	FetchLimit    int
	PromptMsgCap  int
	StreamContext string
}

type AIConfig struct {
	APIKey      string
	KeyFile     string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float32
	MaxTokens   *int
}

const (
	defaultSQLitePath    = "gghub.db"
	defaultStreamID      = "global-gaming-live"
	defaultTTLDays       = 7
	defaultPurgeMin      = 60
	defaultProbeSecs     = 10
	defaultRetrySecs     = 3
	defaultProbeTimeout  = 8
	defaultMaxMessageLen = 500
	defaultWindow        = 49
	defaultHistoryLimit  = 50
	defaultDemoEveryMS   = 4000
	defaultNoticeClear   = 3
	defaultRefreshSecs   = 120
	defaultFetchLimit    = 100
	defaultPromptMsgCap  = 50
	defaultDemoChance    = 0.35
	defaultSubChance     = 0.15
	defaultAIModel       = "doubao-seed-1-6"
)

func Load() Config {
	cfg := Config{}

	cfg.Stream.PlaybackURL = strings.TrimSpace(os.Getenv("GGHUB_PLAYBACK_URL"))
	cfg.Stream.StreamID = strings.TrimSpace(os.Getenv("GGHUB_STREAM_ID"))
	if cfg.Stream.StreamID == "" {
		cfg.Stream.StreamID = defaultStreamID
	}
	cfg.Stream.ProbeSecs = readInt("GGHUB_PROBE_SECS", defaultProbeSecs)
	cfg.Stream.RetrySecs = readInt("GGHUB_PROBE_RETRY_SECS", defaultRetrySecs)
	cfg.Stream.ProbeTimeoutS = readInt("GGHUB_PROBE_TIMEOUT_SECS", defaultProbeTimeout)

	cfg.Store.SQLitePath = strings.TrimSpace(os.Getenv("GGHUB_SQLITE_PATH"))
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = defaultSQLitePath
	}
	cfg.Store.TTLDays = readInt("GGHUB_MESSAGE_TTL_DAYS", defaultTTLDays)
	cfg.Store.PurgeEveryMin = readInt("GGHUB_PURGE_EVERY_MINS", defaultPurgeMin)

	cfg.Chat.MaxMessageLen = readInt("GGHUB_CHAT_MAX_LEN", defaultMaxMessageLen)
	cfg.Chat.Window = readInt("GGHUB_CHAT_WINDOW", defaultWindow)
	cfg.Chat.HistoryLimit = readInt("GGHUB_CHAT_HISTORY_LIMIT", defaultHistoryLimit)
	cfg.Chat.DemoEnabled = readBool("GGHUB_CHAT_DEMO", true)
	cfg.Chat.DemoEveryMS = readInt("GGHUB_CHAT_DEMO_EVERY_MS", defaultDemoEveryMS)
	cfg.Chat.DemoChance = readFloat("GGHUB_CHAT_DEMO_CHANCE", defaultDemoChance)
	cfg.Chat.DemoSubChance = readFloat("GGHUB_CHAT_DEMO_SUB_CHANCE", defaultSubChance)
	cfg.Chat.NoticeClearSec = readInt("GGHUB_CHAT_NOTICE_CLEAR_SECS", defaultNoticeClear)

	cfg.Analytics.RefreshSecs = readInt("GGHUB_ANALYTICS_REFRESH_SECS", defaultRefreshSecs)
	cfg.Analytics.FetchLimit = readInt("GGHUB_ANALYTICS_FETCH_LIMIT", defaultFetchLimit)
	cfg.Analytics.PromptMsgCap = readInt("GGHUB_ANALYTICS_PROMPT_CAP", defaultPromptMsgCap)
	cfg.Analytics.StreamContext = strings.TrimSpace(os.Getenv("GGHUB_ANALYTICS_CONTEXT"))
	if cfg.Analytics.StreamContext == "" {
		cfg.Analytics.StreamContext = "GlobalGaming esports stream"
	}

	cfg.AI.APIKey = strings.TrimSpace(os.Getenv("GGHUB_AI_API_KEY"))
	cfg.AI.KeyFile = strings.TrimSpace(os.Getenv("GGHUB_AI_KEY_FILE"))
	cfg.AI.Model = strings.TrimSpace(os.Getenv("GGHUB_AI_MODEL"))
	if cfg.AI.Model == "" {
		cfg.AI.Model = defaultAIModel
	}
	cfg.AI.BaseURL = strings.TrimSpace(os.Getenv("GGHUB_AI_BASE_URL"))
	cfg.AI.Region = strings.TrimSpace(os.Getenv("GGHUB_AI_REGION"))
	if raw := strings.TrimSpace(os.Getenv("GGHUB_AI_TEMPERATURE")); raw != "" {
		if v, err := strconv.ParseFloat(raw, 32); err == nil {
			t := float32(v)
			cfg.AI.Temperature = &t
		}
	}
	if raw := strings.TrimSpace(os.Getenv("GGHUB_AI_MAX_TOKENS")); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			cfg.AI.MaxTokens = &v
		}
	}

	return cfg
}

func readInt(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n <= 0 {
		return def
	}
	return n
}

func readBool(name string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func readFloat(name string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	if v < 0 || v > 1 {
		return def
	}
	return v
}

// Enabled reports whether a usable model credential is configured.
func (a AIConfig) Enabled() bool {
	return a.APIKey != "" || a.KeyFile != ""
}

// NewChatModel builds the ark-backed chat model from this config.
func (a AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	cfg := &ark.ChatModelConfig{
		APIKey: a.APIKey,
		Model:  a.Model,
	}
	if a.BaseURL != "" {
		cfg.BaseURL = a.BaseURL
	}
	if a.Region != "" {
		cfg.Region = a.Region
	}
	if a.Temperature != nil {
		cfg.Temperature = a.Temperature
	}
	if a.MaxTokens != nil {
		cfg.MaxTokens = a.MaxTokens
	}
	return ark.NewChatModel(ctx, cfg)
}

func (c Config) ProbeInterval() time.Duration {
	return time.Duration(c.Stream.ProbeSecs) * time.Second
}

func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.Stream.RetrySecs) * time.Second
}

func (c Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Stream.ProbeTimeoutS) * time.Second
}

func (c Config) MessageTTL() time.Duration {
	return time.Duration(c.Store.TTLDays) * 24 * time.Hour
}

func (c Config) PurgeInterval() time.Duration {
	return time.Duration(c.Store.PurgeEveryMin) * time.Minute
}

func (c Config) DemoInterval() time.Duration {
	return time.Duration(c.Chat.DemoEveryMS) * time.Millisecond
}

func (c Config) NoticeClear() time.Duration {
	return time.Duration(c.Chat.NoticeClearSec) * time.Second
}

func (c Config) AnalyticsRefresh() time.Duration {
	return time.Duration(c.Analytics.RefreshSecs) * time.Second
}

type Summary struct {
	StreamID    string           `json:"stream_id"`
	PlaybackURL string           `json:"playback_url,omitempty"`
	SQLitePath  string           `json:"sqlite_path"`
	TTLDays     int              `json:"ttl_days"`
	Chat        ChatSummary      `json:"chat"`
	Analytics   AnalyticsSummary `json:"analytics"`
	AI          AISummary        `json:"ai"`
}

type ChatSummary struct {
	Window      int  `json:"window"`
	MaxLen      int  `json:"max_len"`
	DemoEnabled bool `json:"demo_enabled"`
}

type AnalyticsSummary struct {
	RefreshSecs int `json:"refresh_secs"`
	FetchLimit  int `json:"fetch_limit"`
}

type AISummary struct {
	Enabled bool   `json:"enabled"`
	Model   string `json:"model,omitempty"`
	APIKey  string `json:"api_key,omitempty"`
	KeyFile string `json:"key_file,omitempty"`
}

func (c Config) Summary() Summary {
	return Summary{
		StreamID:    c.Stream.StreamID,
		PlaybackURL: c.Stream.PlaybackURL,
		SQLitePath:  c.Store.SQLitePath,
		TTLDays:     c.Store.TTLDays,
		Chat: ChatSummary{
			Window:      c.Chat.Window,
			MaxLen:      c.Chat.MaxMessageLen,
			DemoEnabled: c.Chat.DemoEnabled,
		},
		Analytics: AnalyticsSummary{
			RefreshSecs: c.Analytics.RefreshSecs,
			FetchLimit:  c.Analytics.FetchLimit,
		},
		AI: AISummary{
			Enabled: c.AI.Enabled(),
			Model:   c.AI.Model,
			APIKey:  redactString(c.AI.APIKey),
			KeyFile: c.AI.KeyFile,
		},
	}
}

func (c Config) Redacted() map[string]any {
	return map[string]any{
		"stream": map[string]any{
			"stream_id":    c.Stream.StreamID,
			"playback_url": c.Stream.PlaybackURL,
			"probe_secs":   c.Stream.ProbeSecs,
			"retry_secs":   c.Stream.RetrySecs,
		},
		"store": map[string]any{
			"sqlite_path":     c.Store.SQLitePath,
			"ttl_days":        c.Store.TTLDays,
			"purge_every_min": c.Store.PurgeEveryMin,
		},
		"chat": map[string]any{
			"max_len":         c.Chat.MaxMessageLen,
			"window":          c.Chat.Window,
			"history_limit":   c.Chat.HistoryLimit,
			"demo_enabled":    c.Chat.DemoEnabled,
			"demo_every_ms":   c.Chat.DemoEveryMS,
			"demo_chance":     c.Chat.DemoChance,
			"demo_sub_chance": c.Chat.DemoSubChance,
		},
		"analytics": map[string]any{
			"refresh_secs":   c.Analytics.RefreshSecs,
			"fetch_limit":    c.Analytics.FetchLimit,
			"prompt_msg_cap": c.Analytics.PromptMsgCap,
		},
		"ai": map[string]any{
			"enabled":  c.AI.Enabled(),
			"model":    c.AI.Model,
			"api_key":  redactString(c.AI.APIKey),
			"key_file": c.AI.KeyFile,
			"base_url": c.AI.BaseURL,
			"region":   c.AI.Region,
		},
	}
}

func (c Config) RedactedJSON() []byte {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return data
}

func (c Config) SummaryJSON() []byte {
	summary := struct {
		Config Summary `json:"config_summary"`
	}{Config: c.Summary()}
	data, _ := json.Marshal(summary)
	return data
}

func redactString(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return "***REDACTED*** (len=" + strconv.Itoa(len(value)) + ")"
}
