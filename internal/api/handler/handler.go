package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/doc-converter/internal/domain"
	"github.com/cuongbtq/doc-converter/internal/intake"
)

// ConversionService is the orchestration contract the HTTP layer talks to
type ConversionService interface {
	SubmitOrHit(ctx context.Context, u intake.Upload, opts domain.Options) (domain.Outcome, error)
	Poll(ctx context.Context, handle domain.JobHandle) (domain.Outcome, error)
	QueueDepth(ctx context.Context) (int, error)
	Lookup(ctx context.Context, key domain.CacheKey) (*domain.ResultRecord, error)
	EnhancementAvailable() bool
}

// Check reports the health of one backing service
type Check func(ctx context.Context) error

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	Service     ConversionService
	Checks      map[string]Check
	ServiceName string
	Version     string
}

// ConversionHandler handles conversion and job HTTP requests
type ConversionHandler struct {
	logger  *slog.Logger
	service ConversionService
}

// NewConversionHandler creates a new ConversionHandler instance
func NewConversionHandler(deps *Dependencies) *ConversionHandler {
	return &ConversionHandler{
		logger:  deps.Logger,
		service: deps.Service,
	}
}
