package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"medihelp/internal/config"
)

const (
	searchTimeout = 10 * time.Second
	maxPageBytes  = 512 << 10
	anonymousKey  = "anonymous"
)

var (
	ErrSearchRateLimited = errors.New("web search rate limit exceeded, please retry in a minute")
	errNoSearchBackend   = errors.New("no search backend answered")
)

type toolSessionKey struct{}

// WithToolSession tags ctx with the client session so tools can rate limit
// per session.
func WithToolSession(ctx context.Context, sessionKey string) context.Context {
	if sessionKey == "" {
		return ctx
	}
	return context.WithValue(ctx, toolSessionKey{}, sessionKey)
}

func ToolSessionFromContext(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(toolSessionKey{}).(string)
	return key, ok && key != ""
}

// sessionLimiter keeps one token bucket per chat session.
type sessionLimiter struct {
	mu       sync.Mutex
	every    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newSessionLimiter(perMinute int) *sessionLimiter {
	if perMinute <= 0 {
		perMinute = config.DefaultSearchLimit
	}
	return &sessionLimiter{
		every:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *sessionLimiter) Allow(session string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[session]
	if !ok {
		lim = rate.NewLimiter(l.every, l.burst)
		l.limiters[session] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

type searchBackend struct {
	name string
	tool tool.InvokableTool
}

// medicalSearch answers the agent's web_search calls. A URL query is read
// directly; anything else goes to the backends in order until one answers.
type medicalSearch struct {
	backends []searchBackend
	pages    *http.Client
	limiter  *sessionLimiter
	logger   *zap.Logger
}

type searchParams struct {
	Query string `json:"query"`
}

// NewSearchTools returns the tools offered to the chat agent, or nil when no
// search backend could be built.
func NewSearchTools(ctx context.Context, cfg config.SearchConfig, logger *zap.Logger) []tool.BaseTool {
	if logger == nil {
		logger = zap.NewNop()
	}
	var backends []searchBackend
	if b, ok := newGoogleBackend(ctx, cfg, logger); ok {
		backends = append(backends, b)
	}
	if b, ok := newDuckDuckGoBackend(ctx, logger); ok {
		backends = append(backends, b)
	}
	if len(backends) == 0 {
		logger.Warn("web search disabled: no search backend available")
		return nil
	}

	s := &medicalSearch{
		backends: backends,
		pages:    &http.Client{Timeout: searchTimeout},
		limiter:  newSessionLimiter(cfg.PerMinute),
		logger:   logger,
	}
	info := &schema.ToolInfo{
		Name: "web_search",
		Desc: "Search the web for up-to-date medical information such as reference ranges, " +
			"drug details or guidelines. Accepts a natural language query or a URL to read.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Desc:     "Natural language query or URL to read",
				Type:     schema.String,
				Required: true,
			},
		}),
	}
	return []tool.BaseTool{utils.NewTool(info, s.run)}
}

func newGoogleBackend(ctx context.Context, cfg config.SearchConfig, logger *zap.Logger) (searchBackend, bool) {
	if cfg.GoogleAPIKey == "" || cfg.GoogleEngineID == "" {
		logger.Info("google search disabled: no api key or engine id")
		return searchBackend{}, false
	}
	t, err := googlesearch.NewTool(ctx, &googlesearch.Config{
		ToolName:       "web_search_google",
		APIKey:         cfg.GoogleAPIKey,
		SearchEngineID: cfg.GoogleEngineID,
		Lang:           "en",
		Num:            5,
	})
	if err != nil {
		logger.Warn("google search disabled", zap.Error(err))
		return searchBackend{}, false
	}
	return searchBackend{name: "google", tool: t}, true
}

func newDuckDuckGoBackend(ctx context.Context, logger *zap.Logger) (searchBackend, bool) {
	t, err := duckduckgo.NewTextSearchTool(ctx, &duckduckgo.Config{
		ToolName:   "web_search_ddg",
		MaxResults: 3,
		Region:     duckduckgo.RegionWT,
		Timeout:    searchTimeout,
	})
	if err != nil {
		logger.Warn("duckduckgo search disabled", zap.Error(err))
		return searchBackend{}, false
	}
	return searchBackend{name: "duckduckgo", tool: t}, true
}

func (s *medicalSearch) run(ctx context.Context, params *searchParams) (string, error) {
	if params == nil || strings.TrimSpace(params.Query) == "" {
		return "", errors.New("query must not be empty")
	}
	query := strings.TrimSpace(params.Query)

	session, ok := ToolSessionFromContext(ctx)
	if !ok {
		session = anonymousKey
	}
	if !s.limiter.Allow(session) {
		return "", ErrSearchRateLimited
	}

	if u, ok := pageURL(query); ok {
		page, err := s.readPage(ctx, u)
		if err == nil {
			return page, nil
		}
		s.logger.Info("read page failed, searching instead", zap.String("url", query), zap.Error(err))
	}

	args, err := json.Marshal(searchParams{Query: query})
	if err != nil {
		return "", fmt.Errorf("marshal search params: %w", err)
	}
	for _, b := range s.backends {
		result, err := b.tool.InvokableRun(ctx, string(args))
		if err == nil {
			return result, nil
		}
		s.logger.Info("search backend failed", zap.String("backend", b.name), zap.Error(err))
	}
	return "", errNoSearchBackend
}

func (s *medicalSearch) readPage(ctx context.Context, u *url.URL) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "MediHelp-WebSearch/1.0")

	resp, err := s.pages.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("read page: %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// pageURL reports whether query is an http(s) URL the agent wants read.
func pageURL(query string) (*url.URL, bool) {
	if strings.ContainsAny(query, " \t\n") {
		return nil, false
	}
	u, err := url.Parse(query)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, false
	}
	return u, true
}
