package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthHandler reports liveness plus the state of each backing service
type HealthHandler struct {
	logger      *slog.Logger
	checks      map[string]Check
	service     ConversionService
	serviceName string
	version     string
}

// NewHealthHandler creates a new HealthHandler instance
func NewHealthHandler(deps *Dependencies) *HealthHandler {
	return &HealthHandler{
		logger:      deps.Logger,
		checks:      deps.Checks,
		service:     deps.Service,
		serviceName: deps.ServiceName,
		version:     deps.Version,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.Warn("Health check failed",
				slog.String("check", name),
				slog.Any("error", err),
			)
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}

	body := gin.H{
		"status":  overall,
		"service": h.serviceName,
		"version": h.version,
		"checks":  results,
	}
	if h.service != nil {
		body["enhancement_available"] = h.service.EnhancementAvailable()
	}

	c.JSON(status, body)
}
