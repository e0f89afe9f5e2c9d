package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/atlasbio/provenance-backend/internal/handlers"
	"github.com/atlasbio/provenance-backend/internal/middleware"
)

type RouterConfig struct {
	EntityHandler     *handlers.EntityHandler
	LinkageHandler    *handlers.LinkageHandler
	ConstraintHandler *handlers.ConstraintHandler
	AuthMiddleware    *middleware.AuthMiddleware
	AllowOrigins      []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware("provenance-backend"))

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:5174"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	// Read paths
	router.GET("/entities/:uuid", cfg.EntityHandler.GetEntity)
	router.GET("/entities/type/:type", cfg.EntityHandler.ListEntitiesByType)
	router.GET("/entities/:uuid/activity", cfg.EntityHandler.GetActivity)
	router.GET("/entities/:uuid/ancestors", cfg.EntityHandler.GetAncestors)
	router.GET("/entities/:uuid/descendants", cfg.EntityHandler.GetDescendants)
	router.GET("/entities/:uuid/descendant-datasets", cfg.EntityHandler.GetDescendantDatasets)
	router.GET("/entities/:uuid/origin-samples", cfg.EntityHandler.GetOriginSamples)
	router.GET("/entities/:uuid/organ-source-summary", cfg.EntityHandler.GetOrganSourceSummary)
	router.GET("/entities/:uuid/siblings", cfg.EntityHandler.GetSiblings)
	router.GET("/entities/:uuid/tuplets", cfg.EntityHandler.GetTuplets)
	router.GET("/entities/:uuid/revisions", cfg.EntityHandler.GetRevisions)
	router.GET("/entities/:uuid/published-descendant-count", cfg.EntityHandler.GetPublishedDescendantCount)
	router.GET("/entities/:uuid/rui-registration", cfg.EntityHandler.GetRUIRegistration)
	router.GET("/entities/:uuid/collections", cfg.EntityHandler.GetCollections)
	router.GET("/entities/:uuid/upload", cfg.EntityHandler.GetUpload)
	router.GET("/collections/:uuid/entities", cfg.EntityHandler.GetCollectionMembers)
	router.GET("/uploads/:uuid/datasets", cfg.EntityHandler.GetUploadDatasets)

	// Constraint checks are read-only over authored rules
	router.POST("/constraints/validate", cfg.ConstraintHandler.Validate)

	// Mutations require an authenticated actor
	protected := router.Group("/")
	protected.Use(cfg.AuthMiddleware.RequireAuth())
	protected.POST("/entities", cfg.LinkageHandler.CreateEntity)
	protected.PUT("/entities/:uuid", cfg.LinkageHandler.UpdateEntity)
	protected.PUT("/entities/:uuid/ancestry", cfg.LinkageHandler.ReplaceAncestry)
	protected.PUT("/entities/:uuid/derivation", cfg.LinkageHandler.ReplaceDerivation)
	protected.PUT("/entities/:uuid/agents", cfg.LinkageHandler.ReplaceAgents)
	protected.PUT("/entities/:uuid/previous-revision", cfg.LinkageHandler.SetPreviousRevision)
	protected.POST("/entities/:uuid/derived", cfg.LinkageHandler.CreateDerivedEntities)
	protected.PUT("/collections/:uuid/entities", cfg.LinkageHandler.ReplaceCollectionMembers)
	protected.POST("/collections/:uuid/entities", cfg.LinkageHandler.AddCollectionMembers)
	protected.PUT("/uploads/:uuid/datasets", cfg.LinkageHandler.LinkUploadDatasets)
	protected.DELETE("/uploads/:uuid/datasets", cfg.LinkageHandler.UnlinkUploadDatasets)
	protected.PUT("/publications/:uuid/collections", cfg.LinkageHandler.ReplacePublicationCollections)
	protected.PUT("/datasets/:uuid/data-access-level", cfg.LinkageHandler.SetDataAccessLevel)

	return router
}
