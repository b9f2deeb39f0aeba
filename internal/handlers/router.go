// Package handlers exposes the invoice service over HTTP.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouterConfig groups dependencies for the HTTP layer.
type RouterConfig struct {
	Invoices       InvoiceService
	Logger         *zap.Logger
	RequestTimeout time.Duration
}

// NewRouter builds the gin engine with middleware, health check, invoice
// routes and the JSON 404 fallback.
func NewRouter(cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(requestIDMiddleware())
	r.Use(loggingMiddleware(logger))
	r.Use(gin.CustomRecovery(recoveryHandler(logger)))
	r.Use(corsMiddleware())
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	api := r.Group("/api")
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	RegisterInvoiceRoutes(api, cfg.Invoices, logger)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"message": "Path not found: " + c.Request.URL.Path})
	})

	return r
}
