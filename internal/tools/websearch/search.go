// Package websearch provides the built-in web_search tool: a query against
// a public search endpoint returning titled snippets.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/haasonsaas/beacon/pkg/models"
)

// Backend selects which search endpoint serves the query.
type Backend string

const (
	BackendDuckDuckGo Backend = "duckduckgo"
	BackendSearXNG    Backend = "searxng"

	// maxCacheSize bounds the response cache.
	maxCacheSize = 1000

	maxResultCount = 20
)

// Config controls the web_search tool.
type Config struct {
	// SearXNGURL points at a SearXNG instance. When set, SearXNG becomes
	// the default backend.
	SearXNGURL string `json:"searxng_url,omitempty"`

	DefaultBackend Backend `json:"default_backend,omitempty"`

	// DefaultResultCount is applied when the model omits result_count.
	DefaultResultCount int `json:"default_result_count,omitempty"`

	// CacheTTL is the response cache lifetime in seconds.
	CacheTTL int `json:"cache_ttl,omitempty"`
}

// Result is one titled snippet.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Response is the full tool output.
type Response struct {
	Query       string   `json:"query"`
	Results     []Result `json:"results"`
	ResultCount int      `json:"result_count"`
	Backend     Backend  `json:"backend"`
}

type searchParams struct {
	Query       string `json:"query"`
	ResultCount int    `json:"result_count,omitempty"`
}

type cacheEntry struct {
	response  *Response
	expiresAt time.Time
}

// Tool implements the built-in web_search tool with caching and a
// DuckDuckGo fallback when the primary backend fails.
type Tool struct {
	config     Config
	httpClient *http.Client
	cache      map[string]*cacheEntry
	cacheMu    sync.Mutex

	// instantAnswerURL is the DuckDuckGo endpoint, overridable in tests.
	instantAnswerURL string
}

// New creates the tool with defaults applied.
func New(config Config) *Tool {
	if config.DefaultResultCount == 0 {
		config.DefaultResultCount = 5
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = 300
	}
	if config.DefaultBackend == "" {
		if config.SearXNGURL != "" {
			config.DefaultBackend = BackendSearXNG
		} else {
			config.DefaultBackend = BackendDuckDuckGo
		}
	}
	return &Tool{
		config:           config,
		httpClient:       &http.Client{Timeout: 30 * time.Second},
		cache:            make(map[string]*cacheEntry),
		instantAnswerURL: "https://api.duckduckgo.com",
	}
}

func (t *Tool) Name() string { return "web_search" }

func (t *Tool) Description() string {
	return "Search the web for information and return titled result snippets."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "The search query"},
    "result_count": {"type": "integer", "description": "Number of results to return (default: 5, max: 20)"}
  },
  "required": ["query"]
}`)
}

// Execute runs the search, serving from cache when possible and falling
// back to DuckDuckGo if the primary backend fails.
func (t *Tool) Execute(ctx context.Context, args json.RawMessage) *models.ToolResult {
	var params searchParams
	if err := json.Unmarshal(args, &params); err != nil {
		return t.errorResult(fmt.Sprintf("invalid parameters: %v", err))
	}
	if params.Query == "" {
		return t.errorResult("query parameter is required")
	}
	if params.ResultCount <= 0 {
		params.ResultCount = t.config.DefaultResultCount
	}
	if params.ResultCount > maxResultCount {
		params.ResultCount = maxResultCount
	}

	cacheKey := fmt.Sprintf("%s:%d:%s", t.config.DefaultBackend, params.ResultCount, params.Query)
	if cached := t.fromCache(cacheKey); cached != nil {
		return t.formatResponse(cached)
	}

	response, err := t.search(ctx, &params, t.config.DefaultBackend)
	if err != nil && t.config.DefaultBackend != BackendDuckDuckGo {
		response, err = t.search(ctx, &params, BackendDuckDuckGo)
	}
	if err != nil {
		return t.errorResult(fmt.Sprintf("search failed: %v", err))
	}

	t.putCache(cacheKey, response)
	return t.formatResponse(response)
}

func (t *Tool) search(ctx context.Context, params *searchParams, backend Backend) (*Response, error) {
	switch backend {
	case BackendSearXNG:
		return t.searchSearXNG(ctx, params)
	case BackendDuckDuckGo:
		return t.searchDuckDuckGo(ctx, params)
	default:
		return nil, fmt.Errorf("unknown backend: %s", backend)
	}
}

func (t *Tool) errorResult(message string) *models.ToolResult {
	content, _ := json.Marshal(map[string]string{"error": message})
	return &models.ToolResult{Name: t.Name(), Content: string(content), IsError: true}
}

func (t *Tool) formatResponse(response *Response) *models.ToolResult {
	output, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		return t.errorResult(fmt.Sprintf("failed to format response: %v", err))
	}
	return &models.ToolResult{Name: t.Name(), Content: string(output)}
}

func (t *Tool) fromCache(key string) *Response {
	t.cacheMu.Lock()
	defer t.cacheMu.Unlock()
	entry, ok := t.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil
	}
	return entry.response
}

func (t *Tool) putCache(key string, response *Response) {
	t.cacheMu.Lock()
	defer t.cacheMu.Unlock()
	now := time.Now()
	for k, v := range t.cache {
		if now.After(v.expiresAt) {
			delete(t.cache, k)
		}
	}
	if len(t.cache) >= maxCacheSize {
		// Evict an arbitrary entry to stay bounded.
		for k := range t.cache {
			delete(t.cache, k)
			break
		}
	}
	t.cache[key] = &cacheEntry{
		response:  response,
		expiresAt: now.Add(time.Duration(t.config.CacheTTL) * time.Second),
	}
}

// searchSearXNG queries a SearXNG instance's JSON API.
func (t *Tool) searchSearXNG(ctx context.Context, params *searchParams) (*Response, error) {
	if t.config.SearXNGURL == "" {
		return nil, fmt.Errorf("searxng url not configured")
	}
	searchURL, err := url.Parse(t.config.SearXNGURL)
	if err != nil {
		return nil, fmt.Errorf("invalid searxng url: %w", err)
	}
	query := url.Values{}
	query.Set("q", params.Query)
	query.Set("format", "json")
	query.Set("pageno", "1")
	query.Set("categories", "general")
	searchURL.Path = "/search"
	searchURL.RawQuery = query.Encode()

	body, err := t.get(ctx, searchURL.String())
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	results := make([]Result, 0, params.ResultCount)
	for i := 0; i < len(parsed.Results) && i < params.ResultCount; i++ {
		r := parsed.Results[i]
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return &Response{
		Query:       params.Query,
		Results:     results,
		ResultCount: len(results),
		Backend:     BackendSearXNG,
	}, nil
}

// searchDuckDuckGo queries DuckDuckGo's Instant Answer API.
func (t *Tool) searchDuckDuckGo(ctx context.Context, params *searchParams) (*Response, error) {
	instantURL := fmt.Sprintf("%s/?q=%s&format=json&no_html=1", t.instantAnswerURL, url.QueryEscape(params.Query))
	body, err := t.get(ctx, instantURL)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		AbstractText  string `json:"AbstractText"`
		AbstractURL   string `json:"AbstractURL"`
		Heading       string `json:"Heading"`
		RelatedTopics []struct {
			FirstURL string `json:"FirstURL"`
			Text     string `json:"Text"`
		} `json:"RelatedTopics"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	results := make([]Result, 0)
	if parsed.AbstractText != "" && parsed.AbstractURL != "" {
		results = append(results, Result{
			Title:   parsed.Heading,
			URL:     parsed.AbstractURL,
			Snippet: parsed.AbstractText,
		})
	}
	for i := 0; i < len(parsed.RelatedTopics) && len(results) < params.ResultCount; i++ {
		topic := parsed.RelatedTopics[i]
		if topic.FirstURL == "" || topic.Text == "" {
			continue
		}
		title := topic.Text
		if len(title) > 100 {
			title = title[:100]
		}
		results = append(results, Result{Title: title, URL: topic.FirstURL, Snippet: topic.Text})
	}
	return &Response{
		Query:       params.Query,
		Results:     results,
		ResultCount: len(results),
		Backend:     BackendDuckDuckGo,
	}, nil
}

func (t *Tool) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; BeaconBot/1.0)")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search backend returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
