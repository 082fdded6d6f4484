package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig     BasicConfig                `json:"basic_config"`
	Databases       map[string]DatabaseConfig  `json:"databases"`
	Redis           RedisConfig                `json:"redis"`
	ResumableStream ResumableStreamConfig      `json:"resumable_stream"`
	Providers       map[string]ProviderConfig  `json:"providers"`
	Models          ModelsConfig               `json:"models"`
	Entitlements    map[string]EntitlementRule `json:"entitlements"`
	Log             LogConfig                  `json:"log"`
	AMQP            AMQPConfig                 `json:"amqp"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

type BasicConfig struct {
	ServerAddress     string `json:"server_address"`
	MinWorkers        int    `json:"min_workers"`
	MaxWorkers        int    `json:"max_workers"`
	QueueSize         int    `json:"queue_size"`
	WorkerIdleTimeout int    `json:"worker_idle_timeout"` // minutes
	StreamTimeout     int    `json:"stream_timeout"`      // seconds
	TokenTTL          int    `json:"token_ttl"`           // hours
	TokenJanitorSpec  string `json:"token_janitor_spec"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"dbname"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// ResumableStreamConfig points at the store backing reconnectable streams.
// An empty URL disables the feature.
type ResumableStreamConfig struct {
	RedisURL string `json:"redis_url"`
	TTL      int    `json:"ttl"` // minutes
}

// ModelsConfig names the fallback chain used by the model resolver.
type ModelsConfig struct {
	DefaultProvider  string `json:"default_provider"`
	DefaultModel     string `json:"default_model"`
	DocumentProvider string `json:"document_provider"`
	DocumentModel    string `json:"document_model"`
	TitleModel       string `json:"title_model"`
}

type EntitlementRule struct {
	MaxMessagesPerDay int      `json:"max_messages_per_day"`
	AvailableModelIDs []string `json:"available_model_ids"`
}

type LogConfig struct {
	Path       string `json:"path"`
	Level      string `json:"level"`
	Production bool   `json:"production"`
}

type AMQPConfig struct {
	URL      string `json:"url"`
	Exchange string `json:"exchange"`
}

// Load reads configuration from the provided path (defaults to config.json).
// A .env file next to the working directory is loaded first; environment
// variables take precedence over secrets found in the file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	for name, db := range cfg.Databases {
		if isSQLite(name) && db.DSN != "" && db.DSN != ":memory:" && !strings.HasPrefix(db.DSN, "file:") && !filepath.IsAbs(db.DSN) {
			db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
			cfg.Databases[name] = db
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	for slug, env := range map[string]string{
		"openai":    "OPENAI_API_KEY",
		"anthropic": "ANTHROPIC_API_KEY",
		"google":    "GOOGLE_API_KEY",
		"xai":       "XAI_API_KEY",
	} {
		if key := os.Getenv(env); key != "" {
			p := c.Providers[slug]
			p.APIKey = key
			c.Providers[slug] = p
		}
	}
	if url, ok := os.LookupEnv("REDIS_URL"); ok {
		c.ResumableStream.RedisURL = url
	}
	if url := os.Getenv("AMQP_URL"); url != "" {
		c.AMQP.URL = url
	}
	if addr := os.Getenv("STREAMCHAT_ADDR"); addr != "" {
		c.BasicConfig.ServerAddress = addr
	}
	if v := os.Getenv("STREAMCHAT_MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.BasicConfig.MaxWorkers = n
		}
	}
}

func (c *Config) applyDefaults() {
	b := &c.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = ":8090"
	}
	if b.MinWorkers <= 0 {
		b.MinWorkers = 2
	}
	if b.MaxWorkers < b.MinWorkers {
		b.MaxWorkers = b.MinWorkers * 8
	}
	if b.QueueSize <= 0 {
		b.QueueSize = 64
	}
	if b.StreamTimeout <= 0 {
		b.StreamTimeout = 120
	}
	if b.TokenTTL <= 0 {
		b.TokenTTL = 24
	}
	if b.TokenJanitorSpec == "" {
		b.TokenJanitorSpec = "@every 1h"
	}
	if c.ResumableStream.TTL <= 0 {
		c.ResumableStream.TTL = 24 * 60
	}
	m := &c.Models
	if m.DefaultProvider == "" {
		m.DefaultProvider = "openai"
	}
	if m.DefaultModel == "" {
		m.DefaultModel = "gpt-4o-mini"
	}
	if m.DocumentProvider == "" {
		m.DocumentProvider = "anthropic"
	}
	if m.DocumentModel == "" {
		m.DocumentModel = "claude-3-5-sonnet-latest"
	}
	if len(c.Entitlements) == 0 {
		c.Entitlements = map[string]EntitlementRule{
			"guest":   {MaxMessagesPerDay: 20, AvailableModelIDs: []string{"chat-model", "chat-model-reasoning"}},
			"regular": {MaxMessagesPerDay: 100, AvailableModelIDs: []string{"*"}},
		}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.AMQP.Exchange == "" {
		c.AMQP.Exchange = "streamchat.events"
	}
}

func isSQLite(name string) bool {
	n := strings.ToLower(name)
	return n == "sqlite" || n == "sqlite3"
}
