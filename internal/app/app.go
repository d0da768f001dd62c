package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mnemo/internal/common"
	"github.com/ternarybob/mnemo/internal/handlers"
	"github.com/ternarybob/mnemo/internal/httpclient"
	"github.com/ternarybob/mnemo/internal/interfaces"
	"github.com/ternarybob/mnemo/internal/pipeline"
	"github.com/ternarybob/mnemo/internal/pipeline/decoders"
	pipehandlers "github.com/ternarybob/mnemo/internal/pipeline/handlers"
	"github.com/ternarybob/mnemo/internal/queue"
	"github.com/ternarybob/mnemo/internal/search"
	"github.com/ternarybob/mnemo/internal/services/embeddings"
	"github.com/ternarybob/mnemo/internal/services/llm"
	"github.com/ternarybob/mnemo/internal/services/maintenance"
	"github.com/ternarybob/mnemo/internal/services/tokenizer"
	"github.com/ternarybob/mnemo/internal/storage"
	"github.com/timshannon/badgerhold/v4"
)

const fetchTimeout = 30 * time.Second

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Ingestion pipeline
	QueueProvider interfaces.QueueProvider
	Orchestrator  *pipeline.Orchestrator

	// Model services
	Embedder  interfaces.EmbeddingGenerator
	Generator interfaces.TextGenerator

	// Retrieval
	Engine *search.Engine

	// Maintenance
	Janitor *maintenance.Janitor

	// HTTP handlers
	APIHandler       *handlers.APIHandler
	DocumentHandler  *handlers.DocumentHandler
	SearchHandler    *handlers.SearchHandler
	AskStreamHandler *handlers.AskStreamHandler
	IndexHandler     *handlers.IndexHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Initialize storage layer
	if err := app.initStorage(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	// Initialize pipeline and retrieval services
	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	// Initialize handlers
	app.initHandlers()

	// Start the pipeline workers AFTER all step handlers are registered
	if err := app.Orchestrator.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to start pipeline orchestrator: %w", err)
	}

	if app.Janitor != nil {
		if err := app.Janitor.Start(); err != nil {
			return nil, fmt.Errorf("failed to start maintenance janitor: %w", err)
		}
	}

	logger.Info().
		Str("queue_mode", cfg.Queue.Mode).
		Str("embeddings", cfg.Embeddings.Provider).
		Str("textgen", cfg.TextGen.Provider).
		Msg("Application initialization complete")

	return app, nil
}

// initStorage initializes the storage layer (filesystem blobs + Badger records)
func (a *App) initStorage() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	return nil
}

// initServices initializes the pipeline and retrieval services in dependency order.
//
// INGESTION ARCHITECTURE:
// 1. QueueProvider (in-process or Badger-backed) - one queue per pipeline step
// 2. Orchestrator - owns pipeline state and dispatches steps to queues
// 3. Step handlers - extract, partition, gen_embeddings, save_records,
//    summarize, delete_document, delete_index
//
// RETRIEVAL ARCHITECTURE:
// 1. EmbeddingGenerator - embeds queries with the same model the pipeline used
// 2. Engine - similarity search with citations plus grounded answers
func (a *App) initServices() error {
	var err error

	// Model services are shared by the pipeline handlers and the engine
	a.Embedder, err = embeddings.NewEmbeddingGenerator(a.Config, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize embedding generator: %w", err)
	}

	a.Generator, err = llm.NewTextGenerator(a.Config, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize text generator: %w", err)
	}

	visibility, err := a.Config.VisibilityTimeout()
	if err != nil {
		return err
	}

	// Queue provider selection. The durable mode shares the storage manager's
	// Badger database, so it is unavailable on the volatile profile.
	switch a.Config.Queue.Mode {
	case common.QueueModeBadger:
		store, ok := a.StorageManager.DB().(*badgerhold.Store)
		if !ok {
			return fmt.Errorf("queue mode %q requires badger-backed storage (got %T)", a.Config.Queue.Mode, a.StorageManager.DB())
		}
		a.QueueProvider, err = queue.NewBadgerProvider(store.Badger(), visibility, a.Config.Queue.MaxReceive, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize durable queue provider: %w", err)
		}
	case common.QueueModeInProcess:
		a.QueueProvider = queue.NewMemoryProvider(visibility, a.Config.Queue.MaxReceive, a.Logger)
	default:
		return fmt.Errorf("unknown queue mode %q", a.Config.Queue.Mode)
	}
	a.Logger.Debug().Str("mode", a.Config.Queue.Mode).Msg("Queue provider initialized")

	a.Orchestrator, err = pipeline.NewOrchestrator(a.Config, a.StorageManager.DocumentStore(), a.QueueProvider, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline orchestrator: %w", err)
	}

	// Register the step handlers. Embedding and record targets carry the
	// provider name so records land in the store that matches their vectors.
	counter := tokenizer.New()
	stores := []interfaces.MemoryDb{a.StorageManager.MemoryDb()}
	targets := []pipehandlers.EmbeddingTarget{
		{Provider: a.Config.Embeddings.Provider, Generator: a.Embedder, Stores: stores},
	}
	contentDecoders := []interfaces.ContentDecoder{
		decoders.NewTextDecoder(),
		decoders.NewMarkdownDecoder(a.Logger),
		decoders.NewHTMLDecoder(a.Logger),
		decoders.NewPDFDecoder(a.Logger),
	}
	chunking := pipehandlers.ChunkOptions{
		MaxTokensPerParagraph: a.Config.Partitioning.MaxTokensPerParagraph,
		OverlappingTokens:     a.Config.Partitioning.OverlappingTokens,
		MaxTokensPerLine:      a.Config.Partitioning.MaxTokensPerLine,
	}

	stepHandlers := []interfaces.StepHandler{
		pipehandlers.NewExtractHandler(a.Orchestrator, contentDecoders, httpclient.NewFetcher(fetchTimeout), a.Logger),
		pipehandlers.NewPartitionHandler(a.Orchestrator, counter, chunking, a.Logger),
		pipehandlers.NewGenerateEmbeddingsHandler(a.Orchestrator, targets, a.Logger),
		pipehandlers.NewSaveRecordsHandler(a.Orchestrator, targets, a.Logger),
		pipehandlers.NewSummarizeHandler(a.Orchestrator, a.Generator, counter, a.Config.Summarize.TargetTokens, a.Logger),
		pipehandlers.NewDeleteDocumentHandler(a.StorageManager.DocumentStore(), stores, a.Logger),
		pipehandlers.NewDeleteIndexHandler(a.StorageManager.DocumentStore(), stores, a.Config.Memory.DefaultIndex, a.Logger),
	}
	for _, handler := range stepHandlers {
		if err := a.Orchestrator.AddHandler(handler); err != nil {
			return fmt.Errorf("failed to register step handler: %w", err)
		}
	}
	a.Logger.Debug().Int("handlers", len(stepHandlers)).Msg("Pipeline step handlers registered")

	a.Engine = search.NewEngine(a.Config, a.StorageManager.MemoryDb(), a.Embedder, a.Generator, a.Logger)

	if a.Config.Maintenance.Enabled {
		a.Janitor = maintenance.NewJanitor(a.Config, a.Orchestrator, a.StorageManager.DocumentStore(), a.QueueProvider, a.Logger)
	} else {
		a.Logger.Debug().Msg("Maintenance janitor disabled")
	}

	return nil
}

// initHandlers initializes all HTTP handlers
func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.Config, a.Logger)
	a.DocumentHandler = handlers.NewDocumentHandler(a.Config, a.Orchestrator, a.Logger)
	a.SearchHandler = handlers.NewSearchHandler(a.Engine, a.Logger)
	a.AskStreamHandler = handlers.NewAskStreamHandler(a.Engine, a.Logger)
	a.IndexHandler = handlers.NewIndexHandler(a.Orchestrator, []interfaces.MemoryDb{a.StorageManager.MemoryDb()}, a.Logger)
}

// Close closes all application resources
func (a *App) Close() error {
	// Stop the janitor first so no sweep races the draining workers
	if a.Janitor != nil {
		a.Janitor.Stop()
	}

	// Stop pipeline workers
	if a.Orchestrator != nil {
		if err := a.Orchestrator.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop pipeline orchestrator")
		} else {
			a.Logger.Info().Msg("Pipeline orchestrator stopped")
		}
	}

	// Close queue provider
	if a.QueueProvider != nil {
		if err := a.QueueProvider.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close queue provider")
		}
	}

	// Close storage
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
