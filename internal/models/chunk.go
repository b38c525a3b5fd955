package models

import (
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Chunk is a semantically coherent run of sentences produced by the chunker.
// SequenceIndex is 1-based and follows source order across all segments.
type Chunk struct {
	Content       string `json:"content"`
	SequenceIndex int    `json:"sequence_index"`
}

// DocumentInput is one embedded chunk ready to be written to the vector store.
// All inputs produced from one ingestion share SourceDocumentID.
type DocumentInput struct {
	Content          string    `json:"content"`
	Embedding        []float32 `json:"embedding"`
	OrganizationID   string    `json:"organization_id"`
	SourceFileName   string    `json:"source_file_name"`
	SourceFilePath   string    `json:"source_file_path"`
	SourceDocumentID string    `json:"source_document_id"`
	PartNumber       int       `json:"part_number"`
}

// Document is a stored chunk as read back from the vector store.
type Document struct {
	ID               surrealmodels.RecordID `json:"id"`
	Content          string                 `json:"content"`
	OrganizationID   string                 `json:"organization_id"`
	SourceFileName   string                 `json:"source_file_name"`
	SourceFilePath   string                 `json:"source_file_path"`
	SourceDocumentID string                 `json:"source_document_id"`
	PartNumber       int                    `json:"part_number"`

	// Distance is only set by similarity queries.
	Distance *float64 `json:"distance,omitempty"`
}
