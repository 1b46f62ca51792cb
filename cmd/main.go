package main

import (
	"context"
	"fmt"
	"os"

	"github.com/auditgraph/auditgraph-backend/internal/clients/redis"
	"github.com/auditgraph/auditgraph-backend/internal/data/graph"
	"github.com/auditgraph/auditgraph-backend/internal/handlers"
	"github.com/auditgraph/auditgraph-backend/internal/ingestion/extractor"
	"github.com/auditgraph/auditgraph-backend/internal/platform/envutil"
	"github.com/auditgraph/auditgraph-backend/internal/platform/logger"
	"github.com/auditgraph/auditgraph-backend/internal/platform/neo4jdb"
	"github.com/auditgraph/auditgraph-backend/internal/platform/openai"
	"github.com/auditgraph/auditgraph-backend/internal/platform/qdrant"
	"github.com/auditgraph/auditgraph-backend/internal/query"
	"github.com/auditgraph/auditgraph-backend/internal/reconcile"
	"github.com/auditgraph/auditgraph-backend/internal/server"
	"github.com/auditgraph/auditgraph-backend/internal/services"
	"github.com/auditgraph/auditgraph-backend/internal/vector"
)

func main() {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()

	// Graph store
	neo, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		log.Error("Could not init Neo4j client", "error", err)
		os.Exit(1)
	}
	if neo == nil {
		log.Error("NEO4J_URI is required")
		os.Exit(1)
	}
	defer neo.Close(ctx)

	graphStore, err := graph.NewStore(neo, log)
	if err != nil {
		log.Error("Could not init graph store", "error", err)
		os.Exit(1)
	}
	graphStore.EnsureSchema(ctx)

	// Extraction + embedding provider
	llm, err := openai.NewClient(log)
	if err != nil {
		log.Error("Could not init OpenAI client", "error", err)
		os.Exit(1)
	}

	// Vector store: qdrant when configured, in-memory otherwise. The
	// in-memory fallback doubles as the migration standby.
	var active, standby vector.Store
	qcfg, configured, err := qdrant.ResolveConfigFromEnv()
	if err != nil {
		log.Error("Invalid qdrant config", "error", err)
		os.Exit(1)
	}
	if configured {
		active, err = qdrant.NewVectorStore(log, qcfg)
		if err != nil {
			log.Error("Could not init qdrant vector store", "error", err)
			os.Exit(1)
		}
		standby = vector.NewMemStore()
	} else {
		log.Warn("QDRANT_URL not set; using in-memory vector store")
		active = vector.NewMemStore()
	}

	indexer, err := vector.NewIndexer(log, llm, active, envutil.Int("VECTOR_INDEX_BATCH", 64))
	if err != nil {
		log.Error("Could not init vector indexer", "error", err)
		os.Exit(1)
	}

	// Pipeline services
	adapter, err := extractor.NewAdapter(log, llm)
	if err != nil {
		log.Error("Could not init extraction adapter", "error", err)
		os.Exit(1)
	}
	reconciler, err := reconcile.NewEngine(log, graphStore, envutil.Float("RECONCILE_MERGE_THRESHOLD", 0.7))
	if err != nil {
		log.Error("Could not init reconciliation engine", "error", err)
		os.Exit(1)
	}
	lock, err := redis.NewIngestLock(log)
	if err != nil {
		log.Error("Could not init ingest lock", "error", err)
		os.Exit(1)
	}
	defer lock.Close()

	ingestionService, err := services.NewIngestionService(log, graphStore, adapter, reconciler, indexer, active, lock)
	if err != nil {
		log.Error("Could not init ingestion service", "error", err)
		os.Exit(1)
	}
	cleanupService, err := services.NewCleanupService(log, graphStore, active)
	if err != nil {
		log.Error("Could not init cleanup service", "error", err)
		os.Exit(1)
	}
	cleanupService.RunAtStartup(ctx)

	queryEngine, err := query.NewEngine(log, graphStore, active, llm)
	if err != nil {
		log.Error("Could not init query engine", "error", err)
		os.Exit(1)
	}

	// Router
	router := server.NewRouter(server.RouterConfig{
		DocumentHandler: handlers.NewDocumentHandler(ingestionService),
		QueryHandler:    handlers.NewQueryHandler(queryEngine),
		AdminHandler:    handlers.NewAdminHandler(log, cleanupService, active, standby),
	})

	port := envutil.Str("PORT", "8080")
	log.Info("Server listening", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server failed", "error", err)
	}
}
