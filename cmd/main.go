package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/atlasbio/provenance-backend/internal/constraints"
	"github.com/atlasbio/provenance-backend/internal/handlers"
	"github.com/atlasbio/provenance-backend/internal/middleware"
	"github.com/atlasbio/provenance-backend/internal/observability"
	"github.com/atlasbio/provenance-backend/internal/ontology"
	"github.com/atlasbio/provenance-backend/internal/platform/envutil"
	"github.com/atlasbio/provenance-backend/internal/platform/logger"
	"github.com/atlasbio/provenance-backend/internal/platform/neo4jdb"
	"github.com/atlasbio/provenance-backend/internal/platform/rediscache"
	"github.com/atlasbio/provenance-backend/internal/provenance"
	"github.com/atlasbio/provenance-backend/internal/server"
)

func main() {
	// Logger
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

	// Tracing
	shutdownOtel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "provenance-backend",
		Environment: envutil.Str("DEPLOY_ENV", "development"),
		Version:     envutil.Str("SERVICE_VERSION", "dev"),
	})
	if shutdownOtel != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownOtel(shutdownCtx)
		}()
	}

	// Cache (optional)
	log.Info("Setting up cache from main...")
	cache, err := rediscache.NewFromEnv(log)
	if err != nil {
		log.Error("Could not init redis cache", "error", err)
		os.Exit(1)
	}
	if cache == nil {
		log.Warn("REDIS_ADDR not set, caching disabled")
	}

	// Vocabularies load once and the process must not come up without them
	log.Info("Loading ontology vocabularies from main...")
	registry, err := ontology.Load(ctx, log, cache)
	if err != nil {
		log.Error("Could not load ontology vocabularies", "error", err)
		os.Exit(1)
	}

	// Graph store
	log.Info("Setting up Neo4j client from main...")
	graph, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		log.Error("Could not init Neo4j client", "error", err)
		os.Exit(1)
	}
	defer graph.Close(ctx)

	// Services
	log.Info("Setting up Services from main...")
	engine := constraints.NewEngine(registry)
	traversal := provenance.NewTraversalService(graph, registry, cache, log)
	mutation := provenance.NewMutationService(graph, registry, cache, log)

	// Handlers
	log.Info("Setting up Handlers from main...")
	entityHandler := handlers.NewEntityHandler(traversal)
	linkageHandler := handlers.NewLinkageHandler(mutation, traversal, engine, log)
	constraintHandler := handlers.NewConstraintHandler(engine)
	authMiddleware := middleware.NewAuthMiddleware(log, envutil.Str("JWT_SECRET_KEY", "defaultsecret"))

	var origins []string
	if raw := envutil.Str("CORS_ALLOW_ORIGINS", ""); raw != "" {
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
	}

	router := server.NewRouter(server.RouterConfig{
		EntityHandler:     entityHandler,
		LinkageHandler:    linkageHandler,
		ConstraintHandler: constraintHandler,
		AuthMiddleware:    authMiddleware,
		AllowOrigins:      origins,
	})

	addr := ":" + envutil.Str("PORT", "8080")
	log.Info("Starting server", "addr", addr)
	if err := router.Run(addr); err != nil {
		log.Error("Server exited", "error", err)
		os.Exit(1)
	}
}
