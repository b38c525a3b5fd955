package db

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/raphaelgruber/kintel/internal/models"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

type memoryDocument struct {
	id  string
	doc models.DocumentInput
}

// Memory is an in-process store with brute-force cosine search. It backs
// local runs and tests when no SurrealDB is reachable.
type Memory struct {
	mu        sync.RWMutex
	dimension int
	documents []memoryDocument
	questions map[string]models.QuestionAnswerInput
}

// NewMemory returns an empty store. A positive dimension is enforced on
// every write.
func NewMemory(dimension int) *Memory {
	return &Memory{dimension: dimension, questions: map[string]models.QuestionAnswerInput{}}
}

func (m *Memory) checkDimension(v []float32) error {
	if m.dimension > 0 && len(v) != m.dimension {
		return fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(v), m.dimension)
	}
	return nil
}

func (m *Memory) InsertDocuments(_ context.Context, docs []models.DocumentInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range docs {
		if err := m.checkDimension(d.Embedding); err != nil {
			return fmt.Errorf("insert documents: %w", err)
		}
	}
	for _, d := range docs {
		d.Embedding = slices.Clone(d.Embedding)
		m.documents = append(m.documents, memoryDocument{id: uuid.NewString(), doc: d})
	}
	return nil
}

func (m *Memory) DeleteDocuments(_ context.Context, organizationID, sourceDocumentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	before := len(m.documents)
	m.documents = slices.DeleteFunc(m.documents, func(d memoryDocument) bool {
		return d.doc.OrganizationID == organizationID && d.doc.SourceDocumentID == sourceDocumentID
	})
	return before - len(m.documents), nil
}

func (m *Memory) SearchDocuments(_ context.Context, organizationID string, embedding []float32, k int) ([]models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Document
	for _, d := range m.documents {
		if d.doc.OrganizationID != organizationID {
			continue
		}
		doc := models.Document{
			ID:               surrealmodels.NewRecordID("document", d.id),
			Content:          d.doc.Content,
			OrganizationID:   d.doc.OrganizationID,
			SourceFileName:   d.doc.SourceFileName,
			SourceFilePath:   d.doc.SourceFilePath,
			SourceDocumentID: d.doc.SourceDocumentID,
			PartNumber:       d.doc.PartNumber,
		}
		if len(embedding) > 0 {
			dist := cosineDistance(d.doc.Embedding, embedding)
			doc.Distance = &dist
		}
		out = append(out, doc)
	}

	if len(embedding) > 0 {
		if k <= 0 {
			k = 10
		}
		sort.SliceStable(out, func(i, j int) bool { return *out[i].Distance < *out[j].Distance })
	} else {
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].SourceDocumentID != out[j].SourceDocumentID {
				return out[i].SourceDocumentID < out[j].SourceDocumentID
			}
			return out[i].PartNumber < out[j].PartNumber
		})
	}
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	if out == nil {
		out = []models.Document{}
	}
	return out, nil
}

func (m *Memory) CreateQuestion(_ context.Context, in models.QuestionAnswerInput) (*models.QuestionAnswer, error) {
	if err := m.checkDimension(in.Embedding); err != nil {
		return nil, fmt.Errorf("create question: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if _, ok := m.questions[in.ID]; ok {
		return nil, fmt.Errorf("question %s: %w", in.ID, ErrAlreadyExists)
	}
	in.Embedding = slices.Clone(in.Embedding)
	m.questions[in.ID] = in
	qa := toQuestionAnswer(in)
	return &qa, nil
}

func (m *Memory) SearchQuestions(_ context.Context, organizationID string, embedding []float32, k int) ([]models.QuestionAnswer, error) {
	if k <= 0 {
		k = 3
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []models.QuestionAnswer{}
	for _, q := range m.questions {
		if q.OrganizationID != organizationID {
			continue
		}
		qa := toQuestionAnswer(q)
		dist := cosineDistance(q.Embedding, embedding)
		qa.Distance = &dist
		out = append(out, qa)
	}
	sort.Slice(out, func(i, j int) bool {
		if *out[i].Distance != *out[j].Distance {
			return *out[i].Distance < *out[j].Distance
		}
		return out[i].Question < out[j].Question
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (m *Memory) DeleteQuestion(_ context.Context, organizationID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.questions[id]
	if !ok || q.OrganizationID != organizationID {
		return fmt.Errorf("question %s: %w", id, ErrNotFound)
	}
	delete(m.questions, id)
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close(context.Context) error { return nil }

func toQuestionAnswer(in models.QuestionAnswerInput) models.QuestionAnswer {
	return models.QuestionAnswer{
		ID:             surrealmodels.NewRecordID("question_answer", in.ID),
		Question:       in.Question,
		Answer:         in.Answer,
		OrganizationID: in.OrganizationID,
	}
}

// cosineDistance matches SurrealDB's COSINE metric: 1 - similarity.
func cosineDistance(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
