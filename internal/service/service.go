// Package service implements document ingestion, task orchestration, search,
// the question/answer knowledge base and chat on top of pluggable stores and
// model providers.
package service

import (
	"context"
	"errors"

	"github.com/raphaelgruber/kintel/internal/llm"
	"github.com/raphaelgruber/kintel/internal/models"
	"github.com/raphaelgruber/kintel/internal/rerank"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrTaskNotFound = errors.New("task not found")
)

// Embedder turns text into vectors. *llm.Embedder implements it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator produces a model reply for one prompt. *llm.Model implements it.
type Generator interface {
	Generate(ctx context.Context, prompt string) (llm.Response, error)
}

// Chunker groups raw segments into semantic chunks.
type Chunker interface {
	Chunk(ctx context.Context, segments []string) ([]models.Chunk, error)
}

// Reranker orders passages by relevance to a query.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]rerank.Result, error)
}

// DocumentStore persists embedded chunks. *db.Client and *db.Memory
// implement it.
type DocumentStore interface {
	InsertDocuments(ctx context.Context, docs []models.DocumentInput) error
	DeleteDocuments(ctx context.Context, organizationID, sourceDocumentID string) (int, error)
	SearchDocuments(ctx context.Context, organizationID string, embedding []float32, k int) ([]models.Document, error)
}

// QuestionStore persists question/answer pairs.
type QuestionStore interface {
	CreateQuestion(ctx context.Context, in models.QuestionAnswerInput) (*models.QuestionAnswer, error)
	SearchQuestions(ctx context.Context, organizationID string, embedding []float32, k int) ([]models.QuestionAnswer, error)
	DeleteQuestion(ctx context.Context, organizationID, id string) error
}

// Store is everything the HTTP surface needs from persistence.
type Store interface {
	DocumentStore
	QuestionStore
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
