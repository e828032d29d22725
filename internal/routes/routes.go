package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	handler "payroll-closing-backend/internal/handlers"
	service "payroll-closing-backend/internal/services/reconciliation"
)

func RegisterRoutes(r *gin.Engine, reconService *service.ReconciliationService, logger *logrus.Logger) {
	reconHandler := handler.NewReconciliationHandler(reconService, logger)

	api := r.Group("/api")

	// Health check
	api.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Closing period routes
	periods := api.Group("/periods")
	periods.POST("", reconHandler.CreatePeriod)
	periods.GET("/:periodId", reconHandler.GetPeriod)
	periods.GET("/:periodId/status", reconHandler.GetClosingStatus)
	periods.POST("/:periodId/advance", reconHandler.AdvancePeriod)
	periods.GET("/:periodId/summary", reconHandler.GetSummary)
	periods.GET("/:periodId/compliance", reconHandler.Compliance)

	// Source ingestion
	periods.POST("/:periodId/sources/:source", reconHandler.IngestSource)
	periods.POST("/:periodId/sources/:source/upload", reconHandler.Upload)
	api.GET("/uploads/:uploadId", reconHandler.GetUploadProgress)

	// Detection runs
	periods.POST("/:periodId/comparisons", reconHandler.RunComparison)
	periods.GET("/:periodId/discrepancies", reconHandler.ListDiscrepancies)
	periods.POST("/:periodId/variance", reconHandler.RunVariance)
	periods.GET("/:periodId/incidences", reconHandler.ListIncidences)

	// Incidence-level routes
	incidences := api.Group("/incidences")
	incidences.POST("/:incidenceId/resolutions", reconHandler.AddResolution)
	incidences.GET("/:incidenceId/resolutions", reconHandler.ListResolutions)

	// Concept classification routes
	clients := api.Group("/clients")
	{
		clients.GET("/:clientId/classifications", reconHandler.ListClassifications)
		clients.PUT("/:clientId/classifications", reconHandler.UpsertClassification)
	}
}
