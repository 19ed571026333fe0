package retrieval

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	errx "github.com/personacast/server/internal/core/error"
	logx "github.com/personacast/server/pkg/logger"
)

// Hints carries per-turn retrieval guidance resolved from the persona.
type Hints struct {
	KnowledgeBases []string
	MaxResults     int
}

// Aggregator fans out to the retrieval backends, absorbs partial failure,
// and composes the merged, source-labeled context for one turn. A backend
// being down, timing out, or returning nothing only shrinks the context;
// it never fails the turn.
type Aggregator struct {
	knowledge Backend
	web       Searcher
}

// NewAggregator wires the two backends. Either may be nil, which is treated
// as permanently unavailable; tests substitute fakes for both.
func NewAggregator(knowledge Backend, web Searcher) *Aggregator {
	return &Aggregator{knowledge: knowledge, web: web}
}

// Aggregate runs the applicable backends concurrently, waits for every call
// to settle, and concatenates non-empty contributions in fixed order:
// knowledge assistant first, then web search.
func (a *Aggregator) Aggregate(ctx context.Context, query string, hints Hints) AggregatedContext {
	log := logx.Component("aggregator")

	q := Query{
		Text:           query,
		MaxResults:     hints.MaxResults,
		KnowledgeBases: hints.KnowledgeBases,
	}

	var (
		knowledgeResults []Result
		webResults       []Result
	)

	// Closures always return nil: a failed backend must never cancel its
	// sibling, only surrender its contribution.
	var g errgroup.Group

	if a.knowledge != nil && a.knowledge.Available() {
		g.Go(func() error {
			results, err := a.knowledge.Retrieve(ctx, q)
			if err != nil {
				log.Warn().Err(errx.WrapRetrieval(err)).Str("backend", a.knowledge.Name()).Msg("Backend failed; continuing without its contribution")
				return nil
			}
			knowledgeResults = results
			return nil
		})
	}

	if a.web != nil && a.web.Available() && a.web.ShouldSearch(query) {
		g.Go(func() error {
			results, err := a.web.Retrieve(ctx, q)
			if err != nil {
				log.Warn().Err(errx.WrapRetrieval(err)).Str("backend", a.web.Name()).Msg("Backend failed; continuing without its contribution")
				return nil
			}
			webResults = results
			return nil
		})
	}

	g.Wait()

	var sections []Section
	if s, ok := toSection("Knowledge Assistant", knowledgeResults); ok {
		sections = append(sections, s)
	}
	if s, ok := toSection("Web Search", webResults); ok {
		sections = append(sections, s)
	}
	return AggregatedContext{Sections: sections}
}

// toSection collapses one backend's results into a single labeled block.
func toSection(label string, results []Result) (Section, bool) {
	var texts []string
	for _, r := range results {
		if strings.TrimSpace(r.Text) != "" {
			texts = append(texts, r.Text)
		}
	}
	if len(texts) == 0 {
		return Section{}, false
	}
	return Section{Source: label, Text: strings.Join(texts, "\n")}, true
}
