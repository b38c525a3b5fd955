package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/raphaelgruber/kintel/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

func TestIsFatalAPIError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"nil error", nil, false},
		{"generic error", errors.New("connection reset"), false},
		{"credit balance", errors.New("insufficient credit balance"), true},
		{"rate limit", errors.New("rate limit exceeded"), true},
		{"quota exceeded", errors.New("quota exceeded for model"), true},
		{"billing issue", errors.New("billing account inactive"), true},
		{"invalid api key", errors.New("invalid api key"), true},
		{"authentication failed", errors.New("authentication failed"), true},
		{"unauthorized", errors.New("unauthorized request"), true},
		{"401 status", errors.New("HTTP 401: not allowed"), true},
		{"403 status", errors.New("HTTP 403: forbidden"), true},
		{"wrapped error", fmt.Errorf("embed: %w", errors.New("credit balance too low")), true},
		{"404 not fatal", errors.New("HTTP 404: not found"), false},
		{"timeout not fatal", errors.New("context deadline exceeded"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isFatalAPIError(tt.err)
			if got != tt.fatal {
				t.Errorf("isFatalAPIError(%v) = %v, want %v", tt.err, got, tt.fatal)
			}
		})
	}
}

func TestWrapFatalError(t *testing.T) {
	t.Run("wraps fatal error", func(t *testing.T) {
		err := errors.New("invalid api key provided")
		wrapped := wrapFatalError(err)
		if !errors.Is(wrapped, ErrFatalAPI) {
			t.Errorf("expected wrapped error to match ErrFatalAPI")
		}
	})

	t.Run("passes through non-fatal error", func(t *testing.T) {
		err := errors.New("network timeout")
		result := wrapFatalError(err)
		if errors.Is(result, ErrFatalAPI) {
			t.Errorf("non-fatal error should not be wrapped with ErrFatalAPI")
		}
		if result != err {
			t.Errorf("expected original error returned, got %v", result)
		}
	})

	t.Run("nil error", func(t *testing.T) {
		result := wrapFatalError(nil)
		if result != nil {
			t.Errorf("expected nil, got %v", result)
		}
	})
}

func TestResponseFlatten(t *testing.T) {
	tests := []struct {
		name string
		resp Response
		want string
	}{
		{"text verbatim", TextResponse("alpha, beta"), "alpha, beta"},
		{"empty text", TextResponse(""), ""},
		{"list joins strings", ListResponse("alpha", "beta", "gamma"), "alpha, beta, gamma"},
		{"list drops non-strings", ListResponse("alpha", 42, map[string]any{"k": 1}, "beta"), "alpha, beta"},
		{"empty list", ListResponse(), ""},
		{"other stringified", OtherResponse(42), "42"},
		{"nil other", OtherResponse(nil), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.resp.Flatten())
		})
	}
}

func TestResponseFromContent(t *testing.T) {
	_, err := responseFromContent(&llms.ContentResponse{})
	assert.ErrorIs(t, err, errNoChoices)

	r, err := responseFromContent(&llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "one"}}})
	require.NoError(t, err)
	assert.Equal(t, KindText, r.Kind)
	assert.Equal(t, "one", r.Flatten())

	r, err = responseFromContent(&llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "a"}, {Content: "b"}}})
	require.NoError(t, err)
	assert.Equal(t, KindList, r.Kind)
	assert.Equal(t, "a, b", r.Flatten())

	r, err = responseFromContent(&llms.ContentResponse{Choices: []*llms.ContentChoice{{
		ToolCalls: []llms.ToolCall{{ID: "call-1", Type: "function"}},
	}}})
	require.NoError(t, err)
	assert.Equal(t, KindOther, r.Kind)
}

// cannedModel is an llms.Model that replays a fixed reply.
type cannedModel struct {
	resp    *llms.ContentResponse
	err     error
	prompts []string
}

func (c *cannedModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	for _, m := range messages {
		for _, p := range m.Parts {
			if tp, ok := p.(llms.TextContent); ok {
				c.prompts = append(c.prompts, tp.Text)
			}
		}
	}
	return c.resp, c.err
}

func (c *cannedModel) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, c, prompt, opts...)
}

func TestModelGenerateText(t *testing.T) {
	collector := metrics.NewCollector()
	canned := &cannedModel{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:        "topics: a, b",
		GenerationInfo: map[string]any{"PromptTokens": 11, "CompletionTokens": 3},
	}}}}
	m := NewModelFrom(canned, "test-model", collector)

	got, err := m.GenerateText(context.Background(), "list topics")
	require.NoError(t, err)
	assert.Equal(t, "topics: a, b", got)
	assert.Equal(t, []string{"list topics"}, canned.prompts)

	snap := collector.Snapshot().Operations[metrics.OpLLMGenerate]
	require.NotNil(t, snap)
	assert.Equal(t, int64(11), *snap.TotalInputTokens)
	assert.Equal(t, int64(3), *snap.TotalOutputTokens)
}

func TestModelGenerate_FatalErrorWrapped(t *testing.T) {
	m := NewModelFrom(&cannedModel{err: errors.New("HTTP 401: invalid api key")}, "test-model", nil)

	_, err := m.Generate(context.Background(), "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFatalAPI)
}

// staticEmbeddings is an embeddings.Embedder returning fixed-size vectors.
type staticEmbeddings struct {
	dim int
	err error
}

func (s staticEmbeddings) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, s.dim)
	}
	return out, nil
}

func (s staticEmbeddings) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := s.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func TestEmbedder(t *testing.T) {
	ctx := context.Background()

	t.Run("batch", func(t *testing.T) {
		e := &Embedder{model: staticEmbeddings{dim: 4}, dimension: 4, modelName: "static"}
		vecs, err := e.EmbedBatch(ctx, []string{"a", "b"})
		require.NoError(t, err)
		assert.Len(t, vecs, 2)

		empty, err := e.EmbedBatch(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		e := &Embedder{model: staticEmbeddings{dim: 3}, dimension: 4}
		_, err := e.Embed(ctx, "a")
		assert.ErrorContains(t, err, "dimension mismatch")
	})

	t.Run("unchecked dimension", func(t *testing.T) {
		e := &Embedder{model: staticEmbeddings{dim: 3}}
		v, err := e.Embed(ctx, "a")
		require.NoError(t, err)
		assert.Len(t, v, 3)
	})

	t.Run("provider error", func(t *testing.T) {
		collector := metrics.NewCollector()
		e := &Embedder{model: staticEmbeddings{err: errors.New("quota exceeded")}, metrics: collector}
		_, err := e.EmbedBatch(ctx, []string{"a"})
		assert.ErrorIs(t, err, ErrFatalAPI)
		assert.Equal(t, int64(1), collector.Snapshot().Operations[metrics.OpEmbedding].Errors)
	})
}
