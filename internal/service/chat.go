package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/raphaelgruber/kintel/internal/models"
)

const (
	chatCandidates     = 10
	rerankTopN         = 5
	rerankMinRelevance = 0.20
)

const answerPrompt = `You are an AI assistant. Use the following context to answer the user's question. If you cannot find a relevant answer in the context, say so politely.

Context:
%s

User's question: %s

Please provide a concise and relevant answer:`

// ChatService answers questions from an organization's documents and Q/A
// pairs.
type ChatService struct {
	documents DocumentStore
	questions *QuestionService
	embedder  Embedder
	reranker  Reranker
	model     Generator
}

// NewChatService creates a chat service. reranker may be nil, in which case
// search order is kept.
func NewChatService(documents DocumentStore, questions *QuestionService, embedder Embedder, reranker Reranker, model Generator) *ChatService {
	return &ChatService{
		documents: documents,
		questions: questions,
		embedder:  embedder,
		reranker:  reranker,
		model:     model,
	}
}

// Answer retrieves context for req and asks the model.
func (s *ChatService) Answer(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	if err := models.ValidateOrganizationName(req.OrganizationID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("%w: query required", ErrInvalidInput)
	}

	embedding, err := s.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	candidates, err := s.documents.SearchDocuments(ctx, req.OrganizationID, embedding, chatCandidates)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	docs := s.rerank(ctx, req.Query, candidates)

	qas, err := s.questions.Relevant(ctx, req.OrganizationID, req.Query, defaultRelevantQuestions)
	if err != nil {
		return nil, fmt.Errorf("relevant questions: %w", err)
	}

	docTexts := make([]string, len(docs))
	for i, d := range docs {
		docTexts[i] = d.Content
	}
	qaTexts := make([]string, len(qas))
	for i, q := range qas {
		qaTexts[i] = q.Text()
	}

	contextText := buildChatContext(qaTexts, docTexts)
	slog.Debug("chat context prepared", "organization_id", req.OrganizationID, "docs", len(docTexts), "questions", len(qaTexts))

	resp, err := s.model.Generate(ctx, fmt.Sprintf(answerPrompt, contextText, req.Query))
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	return &models.ChatResponse{
		Answer:            resp.Flatten(),
		RelevantDocs:      docTexts,
		RelevantQuestions: qaTexts,
	}, nil
}

// rerank keeps the top reranked documents scoring above the relevance
// floor. On reranker failure the candidates are returned unchanged.
func (s *ChatService) rerank(ctx context.Context, query string, docs []models.Document) []models.Document {
	if s.reranker == nil || len(docs) == 0 {
		return docs
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	results, err := s.reranker.Rerank(ctx, query, texts, rerankTopN)
	if err != nil {
		slog.Error("reranking failed, using search order", "error", err)
		return docs
	}

	kept := make([]models.Document, 0, len(results))
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(docs) {
			continue
		}
		if r.RelevanceScore > rerankMinRelevance {
			kept = append(kept, docs[r.Index])
		}
	}
	return kept
}

func buildChatContext(questions, docs []string) string {
	var b strings.Builder
	b.WriteString("Relevant questions and answers:\n")
	for _, q := range questions {
		b.WriteString(q)
		b.WriteString("\n\n")
	}
	b.WriteString("Relevant documents:\n")
	for i, d := range docs {
		fmt.Fprintf(&b, "%d. %s\n\n", i+1, d)
	}
	return b.String()
}
