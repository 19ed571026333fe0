package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	logx "github.com/personacast/server/pkg/logger"
)

const knowledgeSource = "knowledge_assistant"

// KnowledgeConfig holds knowledge assistant parameters, sourced from
// environment variables. Bases is the comma-separated default set of
// knowledge bases queried when a persona binds none of its own.
type KnowledgeConfig struct {
	BaseURL string        `envconfig:"KNOWLEDGE_BASE_URL" default:"https://api.personacast.ai"`
	APIKey  string        `envconfig:"KNOWLEDGE_API_KEY"`
	Bases   string        `envconfig:"KNOWLEDGE_BASES"`
	Timeout time.Duration `envconfig:"KNOWLEDGE_TIMEOUT" default:"10s"`
}

// KnowledgeAssistant queries one or more named remote knowledge bases
// concurrently and merges their answers into a single contribution. A
// failing sub-source is dropped; only when every sub-source fails does the
// backend report failure, so an empty success can never mask a total outage.
type KnowledgeAssistant struct {
	client  *http.Client
	baseURL string
	apiKey  string
	bases   []string
	timeout time.Duration
}

// knowledgeResponse is the wire shape of one assistant answer.
type knowledgeResponse struct {
	Answer    string  `json:"answer"`
	Score     float64 `json:"score"`
	Citations []struct {
		Source string `json:"source"`
		Title  string `json:"title"`
	} `json:"citations"`
}

// baseAnswer pairs a sub-source with its parsed answer for merging.
type baseAnswer struct {
	base string
	resp knowledgeResponse
}

// NewKnowledgeAssistant builds the backend from config. Missing credentials
// make the backend report itself unavailable; that is logged once here, not
// per request.
func NewKnowledgeAssistant(cfg KnowledgeConfig) *KnowledgeAssistant {
	ka := &KnowledgeAssistant{
		client:  &http.Client{},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		bases:   splitBases(cfg.Bases),
		timeout: cfg.Timeout,
	}
	if !ka.Available() {
		klog := logx.Component(knowledgeSource)
		klog.Warn().Msg("Knowledge assistant not configured; backend disabled")
	}
	return ka
}

func (ka *KnowledgeAssistant) Name() string { return knowledgeSource }

// Available reports whether credentials are configured. An unavailable
// backend is never called; it contributes nothing instead of erroring.
func (ka *KnowledgeAssistant) Available() bool {
	return ka.apiKey != ""
}

// Retrieve fans out to every bound knowledge base concurrently and merges
// the answers. Persona-bound bases in q override the configured defaults.
func (ka *KnowledgeAssistant) Retrieve(ctx context.Context, q Query) ([]Result, error) {
	bases := ka.bases
	if len(q.KnowledgeBases) > 0 {
		bases = q.KnowledgeBases
	}
	if len(bases) == 0 {
		return nil, fmt.Errorf("no knowledge bases bound")
	}

	ctx, cancel := context.WithTimeout(ctx, ka.timeout)
	defer cancel()

	log := logx.Component(knowledgeSource)

	var (
		mu      sync.Mutex
		answers []baseAnswer
	)
	var g errgroup.Group
	for _, base := range bases {
		base := base
		g.Go(func() error {
			resp, err := ka.queryBase(ctx, base, q.Text)
			if err != nil {
				// One failing sub-source is dropped, never fatal.
				log.Warn().Err(err).Str("knowledge_base", base).Msg("Knowledge base query failed; dropping contribution")
				return nil
			}
			mu.Lock()
			answers = append(answers, baseAnswer{base: base, resp: resp})
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	if len(answers) == 0 {
		return nil, fmt.Errorf("all %d knowledge bases failed", len(bases))
	}

	// Stable order regardless of which goroutine finished first.
	sort.Slice(answers, func(i, j int) bool { return answers[i].base < answers[j].base })
	return []Result{mergeAnswers(answers)}, nil
}

func (ka *KnowledgeAssistant) queryBase(ctx context.Context, base, query string) (knowledgeResponse, error) {
	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return knowledgeResponse{}, err
	}

	endpoint := fmt.Sprintf("%s/v1/knowledge/%s/query", ka.baseURL, url.PathEscape(base))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return knowledgeResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+ka.apiKey)

	resp, err := ka.client.Do(req)
	if err != nil {
		return knowledgeResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return knowledgeResponse{}, fmt.Errorf("knowledge base %q returned status %d", base, resp.StatusCode)
	}

	var parsed knowledgeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return knowledgeResponse{}, fmt.Errorf("decode knowledge answer: %w", err)
	}
	if strings.TrimSpace(parsed.Answer) == "" {
		return knowledgeResponse{}, fmt.Errorf("knowledge base %q returned empty answer", base)
	}
	return parsed, nil
}

// mergeAnswers combines the surviving sub-source answers into one Result.
// More than one answer yields a combined text whose metadata records every
// contributing source.
func mergeAnswers(answers []baseAnswer) Result {
	if len(answers) == 1 {
		a := answers[0]
		return Result{
			Text:   a.resp.Answer,
			Score:  a.resp.Score,
			Source: knowledgeSource,
			Metadata: map[string]string{
				"knowledge_base": a.base,
				"citations":      citationList(a.resp),
			},
		}
	}

	var (
		b     strings.Builder
		names []string
		score float64
	)
	for i, a := range answers {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(fmt.Sprintf("(%s) %s", a.base, a.resp.Answer))
		names = append(names, a.base)
		if a.resp.Score > score {
			score = a.resp.Score
		}
	}
	return Result{
		Text:   b.String(),
		Score:  score,
		Source: knowledgeSource,
		Metadata: map[string]string{
			"knowledge_bases": strings.Join(names, ","),
		},
	}
}

func citationList(resp knowledgeResponse) string {
	var sources []string
	for _, c := range resp.Citations {
		if c.Source != "" {
			sources = append(sources, c.Source)
		}
	}
	return strings.Join(sources, ",")
}

func splitBases(raw string) []string {
	var bases []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			bases = append(bases, trimmed)
		}
	}
	return bases
}
