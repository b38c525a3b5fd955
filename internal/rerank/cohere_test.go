package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCohere_Rerank(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/rerank", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "rerank-english-v2.0", req.Model)
		assert.Equal(t, 5, req.TopN)
		assert.Len(t, req.Documents, 3)

		_, _ = w.Write([]byte(`{"results":[
			{"index":2,"relevance_score":0.91},
			{"relevance_score":0.80},
			{"index":0},
			{"index":7,"relevance_score":0.5},
			{"index":1,"relevance_score":0.12}
		]}`))
	}))
	defer srv.Close()

	c := NewCohere(srv.URL, "key", "rerank-english-v2.0", nil)
	got, err := c.Rerank(context.Background(), "query", []string{"a", "b", "c"}, 5)
	require.NoError(t, err)
	assert.Equal(t, []Result{{Index: 2, RelevanceScore: 0.91}, {Index: 1, RelevanceScore: 0.12}}, got)
}

func TestCohere_EmptyDocuments(t *testing.T) {
	c := NewCohere("http://unused.invalid", "key", "m", nil)
	got, err := c.Rerank(context.Background(), "q", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCohere_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid api token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewCohere(srv.URL, "bad", "m", nil).Rerank(context.Background(), "q", []string{"a"}, 1)
	assert.ErrorContains(t, err, "401")
}
