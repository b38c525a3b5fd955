package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/kintel/internal/extract"
	"github.com/raphaelgruber/kintel/internal/metrics"
	"github.com/raphaelgruber/kintel/internal/models"
	"github.com/raphaelgruber/kintel/internal/parser"
)

// IngestService turns one uploaded file into embedded documents.
type IngestService struct {
	extractor  extract.Extractor
	chunker    Chunker
	summarizer *Summarizer
	embedder   Embedder
	newID      func() string
	metrics    *metrics.Collector
	log        *slog.Logger
}

// NewIngestService creates a new ingest service.
func NewIngestService(extractor extract.Extractor, chunker Chunker, summarizer *Summarizer, embedder Embedder, collector *metrics.Collector) *IngestService {
	return &IngestService{
		extractor:  extractor,
		chunker:    chunker,
		summarizer: summarizer,
		embedder:   embedder,
		metrics:    collector,
		log:        slog.Default().With("component", "ingest"),
	}
}

// Process extracts, chunks, summarizes, assembles and embeds the payload's
// file. The returned documents are ready for insertion; nothing is written.
func (s *IngestService) Process(ctx context.Context, p models.TaskPayload) ([]models.DocumentInput, error) {
	filePath, organizationID := p.FilePath, p.OrganizationID
	log := s.log.With("task_id", p.TaskID, "file", filePath, "organization_id", organizationID)

	start := time.Now()
	segments, err := s.extractor.Extract(ctx, filePath)
	s.metrics.RecordTiming(metrics.OpExtract, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	log.Debug("extracted", "segments", len(segments))

	chunks, err := s.chunker.Chunk(ctx, segments)
	if err != nil {
		return nil, fmt.Errorf("chunk: %w", err)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("chunk %s: %w", filePath, parser.ErrEmptyDocument)
	}

	contents := make([]string, len(chunks))
	for i, c := range chunks {
		contents[i] = c.Content
	}
	summary, err := s.summarizer.Summarize(ctx, joinChunks(contents))
	if err != nil {
		return nil, err
	}

	newID := s.newID
	if newID == nil {
		newID = uuid.NewString
	}
	docs := AssembleWith(newID, chunks, summary, organizationID, p.SourceFileName(), filePath)

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed documents: %w", err)
	}
	if len(vectors) != len(docs) {
		return nil, fmt.Errorf("embed documents: got %d vectors for %d documents", len(vectors), len(docs))
	}
	for i := range docs {
		docs[i].Embedding = vectors[i]
	}

	log.Info("document processed", "chunks", len(docs), "source_document_id", docs[0].SourceDocumentID)
	return docs, nil
}
