package service

import (
	"github.com/google/uuid"
	"github.com/raphaelgruber/kintel/internal/models"
)

// Assemble builds the storable documents for one ingestion. Every document
// shares a fresh source document id; embeddings are left empty.
func Assemble(chunks []models.Chunk, summary, organizationID, fileName, filePath string) []models.DocumentInput {
	return AssembleWith(uuid.NewString, chunks, summary, organizationID, fileName, filePath)
}

// AssembleWith is Assemble with an explicit id source.
func AssembleWith(newID func() string, chunks []models.Chunk, summary, organizationID, fileName, filePath string) []models.DocumentInput {
	sourceID := newID()

	docs := make([]models.DocumentInput, len(chunks))
	for i, c := range chunks {
		docs[i] = models.DocumentInput{
			Content:          "Relevant Topics Covered: " + summary + "\nContent: " + c.Content,
			OrganizationID:   organizationID,
			SourceFileName:   fileName,
			SourceFilePath:   filePath,
			SourceDocumentID: sourceID,
			PartNumber:       c.SequenceIndex,
		}
	}
	return docs
}
