package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/kintel/internal/models"
)

// DocumentService serves reads and deletes over ingested documents.
type DocumentService struct {
	store    DocumentStore
	embedder Embedder
}

// NewDocumentService creates a new document service.
func NewDocumentService(store DocumentStore, embedder Embedder) *DocumentService {
	return &DocumentService{store: store, embedder: embedder}
}

// SearchOptions configures a document search.
type SearchOptions struct {
	OrganizationID string
	// Query is embedded for a similarity search; empty lists every
	// document of the organization.
	Query string
	Limit int
}

// Search returns the organization's documents, nearest first when a query
// is given.
func (s *DocumentService) Search(ctx context.Context, opts SearchOptions) ([]models.Document, error) {
	if err := models.ValidateOrganizationName(opts.OrganizationID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if opts.Limit < 0 {
		return nil, fmt.Errorf("%w: negative limit", ErrInvalidInput)
	}

	var embedding []float32
	if q := strings.TrimSpace(opts.Query); q != "" {
		var err error
		embedding, err = s.embedder.Embed(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
	}
	return s.store.SearchDocuments(ctx, opts.OrganizationID, embedding, opts.Limit)
}

// Delete removes every chunk of one ingested document and reports how many
// were removed.
func (s *DocumentService) Delete(ctx context.Context, organizationID, sourceDocumentID string) (int, error) {
	if err := models.ValidateOrganizationName(organizationID); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if strings.TrimSpace(sourceDocumentID) == "" {
		return 0, fmt.Errorf("%w: source document id required", ErrInvalidInput)
	}
	return s.store.DeleteDocuments(ctx, organizationID, sourceDocumentID)
}
