package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/time/rate"

	"pickofgods/internal/config"
	"pickofgods/internal/logger"
)

// SearchTools returns the tool set for the default-branch agent. An empty
// result disables the agent.
func SearchTools(cfg config.SearchConfig, l logger.Logger) []tool.BaseTool {
	if ws := NewWebSearch(cfg, l); ws != nil {
		return []tool.BaseTool{ws}
	}
	return nil
}

// NewWebSearch builds a web_search tool over Google CSE with DuckDuckGo fallback.
func NewWebSearch(cfg config.SearchConfig, l logger.Logger) tool.InvokableTool {
	ctx := context.Background()
	googleTool := newGoogleSearch(ctx, cfg, l)
	duckTool := newDDGSearch(ctx, l)
	if googleTool == nil && duckTool == nil {
		l.Warn(ctx, "web search tool disabled: no search providers available")
		return nil
	}

	ws := &webSearchTool{
		google:     googleTool,
		duck:       duckTool,
		httpClient: &http.Client{Timeout: WebSearchHTTPTimeout},
		limiter:    rate.NewLimiter(rate.Every(WebSearchInterval), WebSearchBurst),
		l:          l,
	}

	info := &schema.ToolInfo{
		Name: "web_search",
		Desc: "Search the web for information; " +
			"automatically fallbacks to another provider if needed;" +
			"can search URL if needed.",
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

type webSearchTool struct {
	google     tool.InvokableTool
	duck       tool.InvokableTool
	httpClient *http.Client
	limiter    *rate.Limiter
	l          logger.Logger
}

type webSearchParams struct {
	Query string `json:"query"`
}

func (w *webSearchTool) run(ctx context.Context, params *webSearchParams) (string, error) {
	if params == nil {
		return "", errors.New("missing search parameters")
	}
	query := strings.TrimSpace(params.Query)
	if query == "" {
		return "", errors.New("query must not be empty")
	}
	if !w.limiter.Allow() {
		return "", errors.New("web search rate limit exceeded, please retry later")
	}

	if looksLikeURL(query) {
		if content, err := w.fetchURL(ctx, query); err == nil {
			return content, nil
		} else {
			w.l.Warnf(ctx, "web url loader failed: %v", err)
		}
	}

	payloadBytes, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return "", fmt.Errorf("marshal search params: %w", err)
	}
	payload := string(payloadBytes)

	if w.google != nil {
		if result, err := w.google.InvokableRun(ctx, payload); err == nil {
			return result, nil
		} else {
			w.l.Warnf(ctx, "google search failed: %v", err)
		}
	}

	if w.duck != nil {
		if result, err := w.duck.InvokableRun(ctx, payload); err == nil {
			return result, nil
		} else {
			w.l.Warnf(ctx, "duckduckgo search failed: %v", err)
		}
	}

	return "", errors.New("no search provider succeeded")
}

func newDDGSearch(ctx context.Context, l logger.Logger) tool.InvokableTool {
	duckTool, err := duckduckgo.NewTextSearchTool(ctx, &duckduckgo.Config{
		ToolName:   "web_search_ddg",
		ToolDesc:   "DuckDuckGo Search Tool (no token required)",
		MaxResults: 3,
		Region:     duckduckgo.RegionWT,
		Timeout:    10 * time.Second,
	})
	if err != nil {
		l.Warnf(ctx, "duckduckgo search disabled: %v", err)
		return nil
	}
	return duckTool
}

func newGoogleSearch(ctx context.Context, cfg config.SearchConfig, l logger.Logger) tool.InvokableTool {
	if cfg.GoogleAPIKey == "" || cfg.GoogleSearchEngineID == "" {
		l.Info(ctx, "google search tool disabled: missing api key or search engine id")
		return nil
	}
	googleTool, err := googlesearch.NewTool(ctx, &googlesearch.Config{
		ToolName:       "web_search_google",
		ToolDesc:       "Google Search Tool",
		APIKey:         cfg.GoogleAPIKey,
		SearchEngineID: cfg.GoogleSearchEngineID,
		Lang:           "en",
		Num:            5,
	})
	if err != nil {
		l.Warnf(ctx, "google search disabled: %v", err)
		return nil
	}
	return googleTool
}
