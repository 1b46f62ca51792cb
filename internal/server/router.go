package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/auditgraph/auditgraph-backend/internal/handlers"
	"github.com/auditgraph/auditgraph-backend/internal/platform/envutil"
)

type RouterConfig struct {
	DocumentHandler *handlers.DocumentHandler
	QueryHandler    *handlers.QueryHandler
	AdminHandler    *handlers.AdminHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	origins := strings.Split(envutil.Str("CORS_ALLOW_ORIGINS", "http://localhost:3000"), ",")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		api.POST("/documents/ingest", cfg.DocumentHandler.Ingest)

		api.POST("/query/semantic", cfg.QueryHandler.SemanticSearch)
		api.POST("/query/pattern", cfg.QueryHandler.PatternQuery)
		api.GET("/entities/:id/context", cfg.QueryHandler.EntityContext)
		api.GET("/analytics/ontology", cfg.QueryHandler.OntologyAnalytics)
		api.GET("/coverage/:name", cfg.QueryHandler.Coverage)

		admin := api.Group("/admin")
		admin.POST("/cleanup", cfg.AdminHandler.Cleanup)
		admin.POST("/vector-migrate", cfg.AdminHandler.VectorMigrate)
	}

	return router
}
