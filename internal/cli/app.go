package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/kintel/internal/config"
	"github.com/raphaelgruber/kintel/internal/db"
	"github.com/raphaelgruber/kintel/internal/extract"
	"github.com/raphaelgruber/kintel/internal/llm"
	"github.com/raphaelgruber/kintel/internal/metrics"
	"github.com/raphaelgruber/kintel/internal/parser"
	"github.com/raphaelgruber/kintel/internal/queue"
	"github.com/raphaelgruber/kintel/internal/rerank"
	"github.com/raphaelgruber/kintel/internal/server"
	"github.com/raphaelgruber/kintel/internal/service"
)

// app holds every long-lived dependency of the serve and worker commands.
type app struct {
	cfg     config.Config
	log     *slog.Logger
	metrics *metrics.Collector

	store   service.Store
	broker  queue.Broker
	backend queue.Backend

	tasks     *service.TaskManager
	documents *service.DocumentService
	questions *service.QuestionService
	chat      *service.ChatService
}

// newApp connects to the configured store and broker and wires the
// services on top of them.
func newApp(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	collector := metrics.NewCollector()

	embedder, err := llm.NewEmbedder(ctx, cfg, collector)
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	model, err := llm.NewModel(ctx, cfg, collector)
	if err != nil {
		return nil, fmt.Errorf("init model: %w", err)
	}

	store, err := openStore(ctx, cfg, log, collector)
	if err != nil {
		return nil, err
	}

	broker, backend, err := queue.New(ctx, cfg, log)
	if err != nil {
		_ = store.Close(ctx)
		return nil, fmt.Errorf("init queue: %w", err)
	}

	var reranker service.Reranker
	if cfg.CohereAPIKey != "" {
		reranker = rerank.NewCohere(cfg.CohereEndpoint, cfg.CohereAPIKey, cfg.CohereModel, collector)
	} else {
		log.Info("COHERE_API_KEY not set, chat uses vector search order")
	}

	chunker := parser.NewSemanticChunker(embedder, parser.DefaultChunkConfig())
	ingest := service.NewIngestService(extract.New(cfg), chunker, service.NewSummarizer(model), embedder, collector)
	questions := service.NewQuestionService(store, embedder)
	documents := service.NewDocumentService(store, embedder)

	return &app{
		cfg:       cfg,
		log:       log,
		metrics:   collector,
		store:     store,
		broker:    broker,
		backend:   backend,
		tasks:     service.NewTaskManager(broker, backend, ingest, store, cfg.StatusProbe, collector),
		documents: documents,
		questions: questions,
		chat:      service.NewChatService(store, questions, embedder, reranker, model),
	}, nil
}

func openStore(ctx context.Context, cfg config.Config, log *slog.Logger, collector *metrics.Collector) (service.Store, error) {
	switch cfg.VectorStore {
	case config.StoreMemory:
		log.Warn("using in-memory vector store, documents are lost on exit")
		return db.NewMemory(cfg.EmbedDimension), nil
	case config.StoreSurrealDB:
		c, err := db.NewClient(ctx, db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
			Dimension: cfg.EmbedDimension,
		}, log, collector)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := c.InitSchema(ctx); err != nil {
			_ = c.Close(ctx)
			return nil, fmt.Errorf("initialize schema: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported vector store: %s", cfg.VectorStore)
	}
}

// healthChecks lists the dependencies /health pings.
func (a *app) healthChecks() map[string]server.Pinger {
	checks := map[string]server.Pinger{"vector_store": a.store}
	if p, ok := a.backend.(server.Pinger); ok {
		checks["result_backend"] = p
	}
	return checks
}

// Close releases the broker, backend and store.
func (a *app) Close(ctx context.Context) error {
	return errors.Join(
		a.broker.Close(),
		a.backend.Close(),
		a.store.Close(ctx),
	)
}
