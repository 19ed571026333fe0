package retrieval

import (
	"context"
	"strings"
)

// Result is one contribution from a retrieval backend. Results are
// request-scoped: the aggregator consumes them immediately and nothing
// retains them afterwards.
type Result struct {
	Text     string
	Score    float64
	Source   string
	Metadata map[string]string
}

// Query carries everything a backend needs for one retrieval call. Backends
// ignore fields outside their concern (web search does not read
// KnowledgeBases).
type Query struct {
	Text       string
	MaxResults int

	// KnowledgeBases overrides the backend's configured knowledge bases
	// when non-empty, letting a persona bind its own namespaces.
	KnowledgeBases []string
}

// Backend is the common capability all retrieval backends implement.
// Implementations must be safe for concurrent use and honour ctx deadlines.
type Backend interface {
	Name() string
	Available() bool
	Retrieve(ctx context.Context, q Query) ([]Result, error)
}

// Searcher extends Backend with the cost heuristic the aggregator uses to
// decide whether a query warrants the rate-limited web search at all.
type Searcher interface {
	Backend
	ShouldSearch(query string) bool
}

// Section is one source-labeled block of an aggregated context.
type Section struct {
	Source string
	Text   string
}

// AggregatedContext is the merged, source-labeled output of one aggregation
// pass. An empty context is a valid outcome, not an error: the gateway
// proceeds with the base persona configuration alone.
type AggregatedContext struct {
	Sections []Section
}

// Empty reports whether no backend contributed anything.
func (c AggregatedContext) Empty() bool {
	return len(c.Sections) == 0
}

// Render flattens the sections into the single string handed to the
// language-model caller, each block prefixed with its origin so downstream
// consumers can attribute claims.
func (c AggregatedContext) Render() string {
	if c.Empty() {
		return ""
	}
	var b strings.Builder
	for i, s := range c.Sections {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("[" + s.Source + "]\n")
		b.WriteString(s.Text)
	}
	return b.String()
}
