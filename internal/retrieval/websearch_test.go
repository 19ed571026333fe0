package retrieval

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSearch(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *WebSearch {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewWebSearch(WebSearchConfig{
		APIKey:         "test-key",
		EngineID:       "test-engine",
		Endpoint:       srv.URL,
		MaxResults:     5,
		Timeout:        timeout,
		DateRestrict:   "m6",
		TrustedDomains: "reuters.com,bbc.com",
	})
}

func TestWebSearchUnavailableWithoutCredentials(t *testing.T) {
	ws := NewWebSearch(WebSearchConfig{EngineID: "engine-only"})
	assert.False(t, ws.Available())
}

func TestShouldSearchHeuristic(t *testing.T) {
	ws := NewWebSearch(WebSearchConfig{APIKey: "k", EngineID: "e"})

	tests := []struct {
		query string
		want  bool
	}{
		{"what is 2+2", false},
		{"tell me about ancient Rome", false},
		{"latest news on quantum computing", true},
		{"what is the current price of copper", true},
		{"weather in Lisbon", true},
		{"best albums of 2025", true},
		{"LATEST developments", true},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, ws.ShouldSearch(tt.query))
		})
	}
}

func TestWebSearchFormatsResults(t *testing.T) {
	ws := newTestSearch(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		assert.Equal(t, "m6", r.URL.Query().Get("dateRestrict"))
		assert.Contains(t, r.URL.Query().Get("q"), "site:reuters.com")

		w.Write([]byte(`{"items": [
			{"title": "Copper hits high", "snippet": "Prices rose 3%.", "link": "https://reuters.com/a"},
			{"title": "Analysts react", "snippet": "Mixed outlook.", "link": "https://bbc.com/b"}
		]}`))
	}, 2*time.Second)

	results, err := ws.Retrieve(context.Background(), Query{Text: "current copper price", MaxResults: 3})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "Copper hits high — Prices rose 3%. (https://reuters.com/a)", results[0].Text)
	assert.Equal(t, "web_search", results[0].Source)
	assert.Equal(t, "ok", results[0].Metadata["status"])
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestWebSearchEmptyResultsPlaceholder(t *testing.T) {
	ws := newTestSearch(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"items": []}`))
	}, 2*time.Second)

	results, err := ws.Retrieve(context.Background(), Query{Text: "latest obscure topic"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "no_results", results[0].Metadata["status"])
	assert.NotEmpty(t, results[0].Text)
}

func TestWebSearchQuotaExhaustionPlaceholder(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusForbidden} {
		ws := newTestSearch(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}, 2*time.Second)

		results, err := ws.Retrieve(context.Background(), Query{Text: "latest news"})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "quota_exhausted", results[0].Metadata["status"])
	}
}

func TestWebSearchMisconfigurationPlaceholder(t *testing.T) {
	ws := newTestSearch(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}, 2*time.Second)

	results, err := ws.Retrieve(context.Background(), Query{Text: "latest news"})
	require.NoError(t, err)
	assert.Equal(t, "misconfigured", results[0].Metadata["status"])
}

func TestWebSearchGenericFailurePlaceholder(t *testing.T) {
	ws := newTestSearch(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, 2*time.Second)

	results, err := ws.Retrieve(context.Background(), Query{Text: "latest news"})
	require.NoError(t, err)
	assert.Equal(t, "failed", results[0].Metadata["status"])
}

func TestWebSearchTimeoutPlaceholder(t *testing.T) {
	ws := newTestSearch(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.Write([]byte(`{"items": []}`))
	}, 50*time.Millisecond)

	results, err := ws.Retrieve(context.Background(), Query{Text: "latest news"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "timeout", results[0].Metadata["status"])
}

func TestWebSearchMalformedResponsePlaceholder(t *testing.T) {
	ws := newTestSearch(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json at all`))
	}, 2*time.Second)

	results, err := ws.Retrieve(context.Background(), Query{Text: "latest news"})
	require.NoError(t, err)
	assert.Equal(t, "failed", results[0].Metadata["status"])
}
