package db

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/kintel/internal/metrics"
	"github.com/raphaelgruber/kintel/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

const documentFields = `id, content, organization_id, source_file_name, source_file_path,
	source_document_id, part_number`

// InsertDocuments writes a batch of embedded chunks in one statement.
func (c *Client) InsertDocuments(ctx context.Context, docs []models.DocumentInput) error {
	if len(docs) == 0 {
		return nil
	}
	if err := c.ensureSchema(ctx); err != nil {
		return err
	}

	start := time.Now()
	_, err := surrealdb.Query[any](ctx, c.db, `INSERT INTO document $docs RETURN NONE`, map[string]any{
		"docs": docs,
	})
	c.metrics.RecordTiming(metrics.OpDBInsert, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("insert documents: %w", wrapQueryError(err))
	}
	return nil
}

// DeleteDocuments removes every chunk of one ingested source document within
// the organization and reports how many were removed.
func (c *Client) DeleteDocuments(ctx context.Context, organizationID, sourceDocumentID string) (int, error) {
	results, err := surrealdb.Query[[]models.Document](ctx, c.db, `
		DELETE document
		WHERE organization_id = $org AND source_document_id = $sid
		RETURN BEFORE
	`, map[string]any{"org": organizationID, "sid": sourceDocumentID})
	if err != nil {
		return 0, fmt.Errorf("delete documents: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return 0, nil
	}
	return len((*results)[0].Result), nil
}

// SearchDocuments returns the organization's chunks. With an embedding it
// runs a KNN search for the k nearest; without one it lists chunks in
// source order, capped at k when k > 0.
func (c *Client) SearchDocuments(ctx context.Context, organizationID string, embedding []float32, k int) ([]models.Document, error) {
	var sql string
	vars := map[string]any{"org": organizationID}

	if len(embedding) > 0 {
		if k <= 0 {
			k = 10
		}
		// HNSW with ef=40
		sql = fmt.Sprintf(`
			SELECT %s, vector::distance::knn() AS distance
			FROM document
			WHERE organization_id = $org AND embedding <|%d,40|> $emb
			ORDER BY distance
		`, documentFields, k)
		vars["emb"] = embedding
	} else {
		limit := ""
		if k > 0 {
			limit = "LIMIT $limit"
			vars["limit"] = k
		}
		sql = fmt.Sprintf(`
			SELECT %s FROM document
			WHERE organization_id = $org
			ORDER BY source_document_id, part_number
			%s
		`, documentFields, limit)
	}

	start := time.Now()
	results, err := surrealdb.Query[[]models.Document](ctx, c.db, sql, vars)
	c.metrics.RecordTiming(metrics.OpDBSearch, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", wrapQueryError(err))
	}

	if results != nil && len(*results) > 0 {
		return (*results)[0].Result, nil
	}
	return []models.Document{}, nil
}

// CreateQuestion stores a question/answer pair under in.ID.
func (c *Client) CreateQuestion(ctx context.Context, in models.QuestionAnswerInput) (*models.QuestionAnswer, error) {
	if err := c.ensureSchema(ctx); err != nil {
		return nil, err
	}

	results, err := surrealdb.Query[[]models.QuestionAnswer](ctx, c.db, `
		CREATE type::record("question_answer", $id) CONTENT {
			question: $question,
			answer: $answer,
			organization_id: $org,
			embedding: $emb
		} RETURN id, question, answer, organization_id
	`, map[string]any{
		"id":       in.ID,
		"question": in.Question,
		"answer":   in.Answer,
		"org":      in.OrganizationID,
		"emb":      in.Embedding,
	})
	if err != nil {
		return nil, fmt.Errorf("create question: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("create question: no record returned")
	}
	return &(*results)[0].Result[0], nil
}

// SearchQuestions returns the k pairs nearest to embedding.
func (c *Client) SearchQuestions(ctx context.Context, organizationID string, embedding []float32, k int) ([]models.QuestionAnswer, error) {
	if k <= 0 {
		k = 3
	}
	sql := fmt.Sprintf(`
		SELECT id, question, answer, organization_id, vector::distance::knn() AS distance
		FROM question_answer
		WHERE organization_id = $org AND embedding <|%d,40|> $emb
		ORDER BY distance
	`, k)

	start := time.Now()
	results, err := surrealdb.Query[[]models.QuestionAnswer](ctx, c.db, sql, map[string]any{
		"org": organizationID,
		"emb": embedding,
	})
	c.metrics.RecordTiming(metrics.OpDBSearch, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("search questions: %w", wrapQueryError(err))
	}
	if results != nil && len(*results) > 0 {
		return (*results)[0].Result, nil
	}
	return []models.QuestionAnswer{}, nil
}

// DeleteQuestion removes one pair. Returns ErrNotFound when no pair with id
// exists in the organization.
func (c *Client) DeleteQuestion(ctx context.Context, organizationID, id string) error {
	results, err := surrealdb.Query[[]models.QuestionAnswer](ctx, c.db, `
		DELETE type::record("question_answer", $id)
		WHERE organization_id = $org
		RETURN BEFORE
	`, map[string]any{"id": id, "org": organizationID})
	if err != nil {
		return fmt.Errorf("delete question: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return fmt.Errorf("question %s: %w", id, ErrNotFound)
	}
	return nil
}
