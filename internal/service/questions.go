package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/raphaelgruber/kintel/internal/models"
)

const defaultRelevantQuestions = 3

// QuestionService manages the curated question/answer knowledge base.
type QuestionService struct {
	store    QuestionStore
	embedder Embedder
}

// NewQuestionService creates a new question service.
func NewQuestionService(store QuestionStore, embedder Embedder) *QuestionService {
	return &QuestionService{store: store, embedder: embedder}
}

// Add embeds and stores a question/answer pair.
func (s *QuestionService) Add(ctx context.Context, organizationID, question, answer string) (*models.QuestionAnswer, error) {
	if err := models.ValidateOrganizationName(organizationID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	question, answer = strings.TrimSpace(question), strings.TrimSpace(answer)
	if question == "" || answer == "" {
		return nil, fmt.Errorf("%w: question and answer required", ErrInvalidInput)
	}

	qa := models.QuestionAnswer{Question: question, Answer: answer}
	embedding, err := s.embedder.Embed(ctx, qa.Text())
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	return s.store.CreateQuestion(ctx, models.QuestionAnswerInput{
		ID:             uuid.NewString(),
		Question:       question,
		Answer:         answer,
		OrganizationID: organizationID,
		Embedding:      embedding,
	})
}

// Relevant returns up to k pairs closest to query. k <= 0 means 3.
func (s *QuestionService) Relevant(ctx context.Context, organizationID, query string, k int) ([]models.QuestionAnswer, error) {
	if err := models.ValidateOrganizationName(organizationID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query required", ErrInvalidInput)
	}
	if k <= 0 {
		k = defaultRelevantQuestions
	}
	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return s.store.SearchQuestions(ctx, organizationID, embedding, k)
}

// Delete removes one pair by id.
func (s *QuestionService) Delete(ctx context.Context, organizationID, id string) error {
	if err := models.ValidateOrganizationName(organizationID); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: id required", ErrInvalidInput)
	}
	return s.store.DeleteQuestion(ctx, organizationID, id)
}
