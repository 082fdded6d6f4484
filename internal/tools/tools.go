package tools

import (
	"context"
	"net/http"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"go.uber.org/zap"
)

const (
	NameWeather            = "getWeather"
	NameCreateDocument     = "createDocument"
	NameUpdateDocument     = "updateDocument"
	NameRequestSuggestions = "requestSuggestions"
	NameWebSearch          = "webSearch"

	httpTimeout = 10 * time.Second
)

// Names lists the fixed toolset in registration order.
var Names = []string{NameWeather, NameCreateDocument, NameUpdateDocument, NameRequestSuggestions, NameWebSearch}

type Config struct {
	Documents            DocumentStore
	HTTPClient           *http.Client
	WeatherURL           string
	GoogleAPIKey         string
	GoogleSearchEngineID string
	Logger               *zap.Logger

	searchOverride    tool.InvokableTool
	allowPrivateHosts bool
}

// New builds the fixed toolset. Tools read their per-request state from the
// Session on the call context.
func New(ctx context.Context, cfg Config) []tool.InvokableTool {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("tools")
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: httpTimeout}
	}
	docs := &documentTools{store: cfg.Documents, log: log}
	return []tool.InvokableTool{
		newWeatherTool(cfg.HTTPClient, cfg.WeatherURL),
		docs.createTool(),
		docs.updateTool(),
		docs.suggestionsTool(),
		newWebSearchTool(ctx, cfg, log),
	}
}
