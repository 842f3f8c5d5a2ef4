package app

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"etfdiscovery/internal/config"
	"etfdiscovery/internal/handlers"
	"etfdiscovery/internal/middleware"
	"etfdiscovery/internal/services"

	_ "etfdiscovery/internal/docs" // Import swagger docs
)

// Services bundles the services the router exposes.
type Services struct {
	Discovery   services.DiscoveryServicer
	Instruments services.InstrumentServicer
	RuleSets    services.RuleSetServicer
	Maintenance services.MaintenanceServicer
	Audit       services.AuditServicer
}

// NewRouter builds the Gin engine with middleware and routes.
func NewRouter(svc Services, cfg *config.Config) *gin.Engine {
	discoveryHandler := handlers.NewDiscoveryHandler(svc.Discovery, cfg.RequestTimeout)
	instrumentHandler := handlers.NewInstrumentHandler(svc.Instruments)
	ruleSetHandler := handlers.NewRuleSetHandler(svc.RuleSets, svc.Audit)
	adminHandler := handlers.NewAdminHandler(svc.Maintenance, svc.Audit)

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogging())
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.CORS(cfg.AllowedOrigins))

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health check endpoint
	router.GET("/api/health", adminHandler.Health)

	// API v1 group
	v1 := router.Group("/api/v1")
	v1.Use(middleware.NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst).Middleware())
	v1.GET("/health", adminHandler.Health)

	v1.POST("/discover", discoveryHandler.Discover)

	instruments := v1.Group("/instruments")
	instruments.GET("", instrumentHandler.ListInstruments)
	instruments.GET("/:ticker", instrumentHandler.GetInstrument)

	rulesets := v1.Group("/rulesets")
	rulesets.GET("", ruleSetHandler.ListRuleSets)
	rulesets.GET("/:jurisdiction/:accountType", ruleSetHandler.GetRuleSet)

	// Admin routes
	admin := v1.Group("/admin")
	admin.Use(middleware.AdminAuthMiddleware(cfg.AdminAPIKey))
	admin.POST("/refresh", adminHandler.Refresh)
	admin.POST("/rulesets", ruleSetHandler.PublishRuleSet)
	admin.GET("/audit-logs", adminHandler.ListAuditLogs)

	return router
}
