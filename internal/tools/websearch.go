package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

const (
	maxBodySize        = 512 * 1024
	webSearchRateLimit = 10
	webSearchWindow    = time.Minute
)

var errPrivateAddress = errors.New("refusing to fetch a private or local address")

type webSearchTool struct {
	google     tool.InvokableTool
	duck       tool.InvokableTool
	httpClient *http.Client
	limiter    *rateLimiter
	log        *zap.Logger
}

type webSearchParams struct {
	Query string `json:"query"`
}

func newWebSearchTool(ctx context.Context, cfg Config, log *zap.Logger) tool.InvokableTool {
	ws := &webSearchTool{
		google:     newGoogleSearch(ctx, cfg.GoogleAPIKey, cfg.GoogleSearchEngineID, log),
		duck:       newDuckDuckGo(ctx, log),
		httpClient: publicOnlyClient(httpTimeout),
		limiter:    newRateLimiter(webSearchRateLimit, webSearchWindow),
		log:        log,
	}
	if cfg.searchOverride != nil {
		ws.google, ws.duck = cfg.searchOverride, nil
	}
	if cfg.allowPrivateHosts {
		ws.httpClient = cfg.HTTPClient
	}
	info := &schema.ToolInfo{
		Name: NameWebSearch,
		Desc: "Search the web for up-to-date information; " +
			"falls back to another provider if needed; " +
			"fetches the page directly when given a URL.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Desc:     "Natural language query or URL to search",
				Type:     schema.String,
				Required: true,
			},
		}),
	}
	return utils.NewTool(info, ws.run)
}

func (w *webSearchTool) run(ctx context.Context, params *webSearchParams) (string, error) {
	if params == nil {
		return "", errors.New("missing search parameters")
	}
	query := strings.TrimSpace(params.Query)
	if query == "" {
		return "", errors.New("query must not be empty")
	}
	if s, ok := SessionFromContext(ctx); ok {
		if !w.limiter.Allow("user:" + strconv.FormatInt(s.UserID, 10)) {
			return "", errors.New("web search rate limit exceeded, please retry in a minute")
		}
	}

	if looksLikeURL(query) {
		content, err := w.fetchURL(ctx, query)
		if err == nil {
			return content, nil
		}
		w.log.Warn("web url fetch failed", zap.String("url", query), zap.Error(err))
	}

	payloadBytes, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return "", fmt.Errorf("marshal search params: %w", err)
	}
	payload := string(payloadBytes)

	if w.google != nil {
		result, err := w.google.InvokableRun(ctx, payload)
		if err == nil {
			return result, nil
		}
		w.log.Warn("google search failed", zap.Error(err))
	}
	if w.duck != nil {
		result, err := w.duck.InvokableRun(ctx, payload)
		if err == nil {
			return result, nil
		}
		w.log.Warn("duckduckgo search failed", zap.Error(err))
	}
	return "", errors.New("no search provider succeeded")
}

func (w *webSearchTool) fetchURL(ctx context.Context, target string) (string, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("unsupported url scheme")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "streamchat-websearch/1.0")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch url: %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// publicOnlyClient refuses to connect to loopback, private, link-local and
// other non-public addresses. The check runs on the resolved address, so
// redirects and DNS names pointing inward are caught as well.
func publicOnlyClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout: 10 * time.Second,
		Control: func(network, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			if ip := net.ParseIP(host); ip == nil || !isPublicIP(ip) {
				return fmt.Errorf("%w: %s", errPrivateAddress, host)
			}
			return nil
		},
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

func isPublicIP(ip net.IP) bool {
	return !ip.IsLoopback() &&
		!ip.IsPrivate() &&
		!ip.IsUnspecified() &&
		!ip.IsLinkLocalUnicast() &&
		!ip.IsLinkLocalMulticast() &&
		!ip.IsInterfaceLocalMulticast() &&
		!ip.IsMulticast()
}

func looksLikeURL(input string) bool {
	lower := strings.ToLower(input)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func newDuckDuckGo(ctx context.Context, log *zap.Logger) tool.InvokableTool {
	duckTool, err := duckduckgo.NewTextSearchTool(ctx, &duckduckgo.Config{
		ToolName:   "web_search_ddg",
		ToolDesc:   "DuckDuckGo Search Tool",
		MaxResults: 3,
		Region:     duckduckgo.RegionWT,
		Timeout:    10 * time.Second,
	})
	if err != nil {
		log.Warn("duckduckgo search disabled", zap.Error(err))
		return nil
	}
	return duckTool
}

func newGoogleSearch(ctx context.Context, apiKey, engineID string, log *zap.Logger) tool.InvokableTool {
	if apiKey == "" || engineID == "" {
		log.Info("google search disabled: missing api key or search engine id")
		return nil
	}
	googleTool, err := googlesearch.NewTool(ctx, &googlesearch.Config{
		ToolName:       "web_search_google",
		ToolDesc:       "Google Search Tool",
		APIKey:         apiKey,
		SearchEngineID: engineID,
		Lang:           "en",
		Num:            5,
	})
	if err != nil {
		log.Warn("google search disabled", zap.Error(err))
		return nil
	}
	return googleTool
}
