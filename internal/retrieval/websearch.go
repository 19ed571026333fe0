package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	logx "github.com/personacast/server/pkg/logger"
)

const webSource = "web_search"

// Wire-facing status values recorded in result metadata so callers can
// distinguish real hits from placeholders.
const (
	searchStatusOK        = "ok"
	searchStatusNoResults = "no_results"
	searchStatusTimeout   = "timeout"
	searchStatusQuota     = "quota_exhausted"
	searchStatusConfig    = "misconfigured"
	searchStatusFailed    = "failed"
)

// WebSearchConfig holds web search parameters, sourced from environment
// variables. TrustedDomains is the comma-separated allow-list folded into
// every query; DateRestrict biases results to recent documents.
type WebSearchConfig struct {
	APIKey         string        `envconfig:"SEARCH_API_KEY"`
	EngineID       string        `envconfig:"SEARCH_ENGINE_ID"`
	Endpoint       string        `envconfig:"SEARCH_ENDPOINT" default:"https://www.googleapis.com/customsearch/v1"`
	MaxResults     int           `envconfig:"SEARCH_MAX_RESULTS" default:"5"`
	Timeout        time.Duration `envconfig:"SEARCH_TIMEOUT" default:"8s"`
	DateRestrict   string        `envconfig:"SEARCH_DATE_RESTRICT" default:"m6"`
	TrustedDomains string        `envconfig:"SEARCH_TRUSTED_DOMAINS" default:"reuters.com,apnews.com,bbc.com,bloomberg.com"`
}

// timeSensitiveTerms flags queries that likely need fresh information. Web
// search is the costlier, rate-limited backend, so the aggregator only
// invokes it when one of these appears in the query.
var timeSensitiveTerms = []string{
	"current", "latest", "today", "tonight", "yesterday", "this week",
	"this month", "this year", "recent", "news", "now", "update",
	"price", "stock", "weather", "forecast", "score", "happening",
	"2024", "2025", "2026",
}

// WebSearch issues a single bounded external search request per retrieval.
// Every failure mode maps to a distinct human-readable placeholder result
// instead of an error, so a broken search integration degrades the context
// rather than the turn.
type WebSearch struct {
	client         *http.Client
	apiKey         string
	engineID       string
	endpoint       string
	maxResults     int
	timeout        time.Duration
	dateRestrict   string
	trustedDomains []string
}

// NewWebSearch builds the backend from config. Missing credentials make the
// backend report itself unavailable; that is logged once here.
func NewWebSearch(cfg WebSearchConfig) *WebSearch {
	ws := &WebSearch{
		client:         &http.Client{},
		apiKey:         cfg.APIKey,
		engineID:       cfg.EngineID,
		endpoint:       cfg.Endpoint,
		maxResults:     cfg.MaxResults,
		timeout:        cfg.Timeout,
		dateRestrict:   cfg.DateRestrict,
		trustedDomains: splitBases(cfg.TrustedDomains),
	}
	if ws.maxResults <= 0 {
		ws.maxResults = 5
	}
	if ws.timeout <= 0 {
		ws.timeout = 8 * time.Second
	}
	if !ws.Available() {
		wlog := logx.Component(webSource)
		wlog.Warn().Msg("Web search not configured; backend disabled")
	}
	return ws
}

func (ws *WebSearch) Name() string { return webSource }

// Available reports whether API credentials are configured.
func (ws *WebSearch) Available() bool {
	return ws.apiKey != "" && ws.engineID != ""
}

// ShouldSearch reports whether the query's vocabulary suggests it needs
// fresh, time-sensitive information.
func (ws *WebSearch) ShouldSearch(query string) bool {
	q := strings.ToLower(query)
	for _, term := range timeSensitiveTerms {
		if strings.Contains(q, term) {
			return true
		}
	}
	return false
}

// searchResponse is the subset of the search API response we consume.
type searchResponse struct {
	Items []struct {
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
		Link    string `json:"link"`
	} `json:"items"`
}

// Retrieve performs the search. HTTP-level failures come back as placeholder
// results classified by cause; only request construction can return an error.
func (ws *WebSearch) Retrieve(ctx context.Context, q Query) ([]Result, error) {
	ctx, cancel := context.WithTimeout(ctx, ws.timeout)
	defer cancel()

	log := logx.Component(webSource)

	max := q.MaxResults
	if max <= 0 || max > ws.maxResults {
		max = ws.maxResults
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ws.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}

	params := url.Values{}
	params.Set("key", ws.apiKey)
	params.Set("cx", ws.engineID)
	params.Set("q", ws.scopedQuery(q.Text))
	params.Set("num", strconv.Itoa(max))
	if ws.dateRestrict != "" {
		params.Set("dateRestrict", ws.dateRestrict)
	}
	req.URL.RawQuery = params.Encode()

	resp, err := ws.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			log.Warn().Str("query", q.Text).Msg("Web search timed out")
			return placeholder(searchStatusTimeout, "Web search timed out before returning results."), nil
		}
		log.Warn().Err(err).Msg("Web search request failed")
		return placeholder(searchStatusFailed, "Web search is temporarily unavailable."), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return ws.classifyStatus(resp.StatusCode, log), nil
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		log.Warn().Err(err).Msg("Web search returned malformed response")
		return placeholder(searchStatusFailed, "Web search returned an unreadable response."), nil
	}

	if len(parsed.Items) == 0 {
		return placeholder(searchStatusNoResults, "Web search found no recent results for this query."), nil
	}

	results := make([]Result, 0, len(parsed.Items))
	for i, item := range parsed.Items {
		results = append(results, Result{
			Text:   fmt.Sprintf("%s — %s (%s)", item.Title, item.Snippet, item.Link),
			Score:  1.0 - float64(i)*0.1,
			Source: webSource,
			Metadata: map[string]string{
				"status": searchStatusOK,
				"title":  item.Title,
				"link":   item.Link,
			},
		})
	}
	return results, nil
}

// classifyStatus maps non-2xx responses to user-facing placeholders:
// quota/billing exhaustion, misconfiguration, or generic failure.
func (ws *WebSearch) classifyStatus(status int, log zerolog.Logger) []Result {
	switch {
	case status == http.StatusTooManyRequests || status == http.StatusForbidden:
		log.Warn().Int("status", status).Msg("Web search quota or billing exhausted")
		return placeholder(searchStatusQuota, "Web search quota is exhausted; results are unavailable for now.")
	case status == http.StatusBadRequest:
		log.Error().Int("status", status).Msg("Web search rejected request; check engine configuration")
		return placeholder(searchStatusConfig, "Web search is misconfigured; results are unavailable.")
	default:
		log.Warn().Int("status", status).Msg("Web search failed")
		return placeholder(searchStatusFailed, "Web search failed unexpectedly; results are unavailable.")
	}
}

// scopedQuery folds the trusted-domain allow-list into the query string.
func (ws *WebSearch) scopedQuery(text string) string {
	if len(ws.trustedDomains) == 0 {
		return text
	}
	sites := make([]string, 0, len(ws.trustedDomains))
	for _, d := range ws.trustedDomains {
		sites = append(sites, "site:"+d)
	}
	return text + " " + strings.Join(sites, " OR ")
}

func placeholder(status, text string) []Result {
	return []Result{{
		Text:     text,
		Source:   webSource,
		Metadata: map[string]string{"status": status},
	}}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var uerr *url.Error
	return errors.As(err, &uerr) && uerr.Timeout()
}
