package service

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/raphaelgruber/kintel/internal/llm"
	"github.com/raphaelgruber/kintel/internal/models"
	"github.com/raphaelgruber/kintel/internal/rerank"
)

// wordEmbedder embeds text as counts of a few marker words, so the nearest
// neighbour of a query is predictable.
type wordEmbedder struct {
	err error
}

var markerWords = []string{"refund", "shipping", "warranty", "topics"}

func (e *wordEmbedder) vector(text string) []float32 {
	lower := strings.ToLower(text)
	v := make([]float32, len(markerWords)+1)
	for i, w := range markerWords {
		v[i] = float32(strings.Count(lower, w))
	}
	v[len(markerWords)] = 0.01
	return v
}

func (e *wordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.vector(text), nil
}

func (e *wordEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

// cannedModel returns a fixed response and records prompts.
type cannedModel struct {
	mu      sync.Mutex
	resp    llm.Response
	err     error
	prompts []string
}

func (m *cannedModel) Generate(_ context.Context, prompt string) (llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	return m.resp, m.err
}

func (m *cannedModel) lastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return ""
	}
	return m.prompts[len(m.prompts)-1]
}

type staticExtractor struct {
	segments []string
	err      error
}

func (e *staticExtractor) Extract(context.Context, string) ([]string, error) {
	return e.segments, e.err
}

// paragraphChunker makes one chunk per segment.
type paragraphChunker struct {
	err error
}

func (c *paragraphChunker) Chunk(_ context.Context, segments []string) ([]models.Chunk, error) {
	if c.err != nil {
		return nil, c.err
	}
	out := make([]models.Chunk, len(segments))
	for i, s := range segments {
		out[i] = models.Chunk{Content: s, SequenceIndex: i + 1}
	}
	return out, nil
}

type stubReranker struct {
	results []rerank.Result
	err     error
	calls   int
}

func (r *stubReranker) Rerank(context.Context, string, []string, int) ([]rerank.Result, error) {
	r.calls++
	return r.results, r.err
}

// stubIngester returns canned documents, or panics with panicWith.
type stubIngester struct {
	docs      []models.DocumentInput
	err       error
	panicWith any
	calls     int
	last      models.TaskPayload
}

func (s *stubIngester) Process(_ context.Context, p models.TaskPayload) ([]models.DocumentInput, error) {
	s.calls++
	s.last = p
	if s.panicWith != nil {
		panic(s.panicWith)
	}
	return s.docs, s.err
}

// failingStore rejects inserts.
type failingStore struct {
	DocumentStore
}

var errStoreDown = errors.New("store unavailable")

func (failingStore) InsertDocuments(context.Context, []models.DocumentInput) error {
	return errStoreDown
}

func fixedIDs(ids ...string) func() string {
	i := 0
	return func() string {
		id := ids[i%len(ids)]
		i++
		return id
	}
}
