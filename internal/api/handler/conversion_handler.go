package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/doc-converter/internal/api/dto"
	"github.com/cuongbtq/doc-converter/internal/domain"
	"github.com/cuongbtq/doc-converter/internal/intake"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SubmitConversion handles POST /api/v1/conversions
// Accepts a multipart "file" plus option fields. Responds 200 with a stored
// result or 202 with a job handle to poll.
func (h *ConversionHandler) SubmitConversion(c *gin.Context) {
	var req dto.ConversionOptionsRequest
	if err := c.ShouldBind(&req); err != nil {
		h.logger.Warn("Invalid conversion options", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid conversion options"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "A file is required in the \"file\" field"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.logger.Error("Failed to open uploaded file", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to read uploaded file"})
		return
	}
	defer file.Close()

	outcome, err := h.service.SubmitOrHit(c.Request.Context(), intake.Upload{
		Filename:     fileHeader.Filename,
		DeclaredSize: fileHeader.Size,
		Body:         file,
	}, req.Options())
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.writeOutcome(c, outcome)
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *ConversionHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "job_id must be a valid UUID"})
		return
	}

	outcome, err := h.service.Poll(c.Request.Context(), domain.JobHandle(jobID))
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.writeOutcome(c, outcome)
}

// QueueStatus handles GET /api/v1/queue/status
func (h *ConversionHandler) QueueStatus(c *gin.Context) {
	depth, err := h.service.QueueDepth(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.QueueStatusResponse{PendingTasks: depth})
}

// GetConversion handles GET /api/v1/conversions/:content_hash
// Options come from the query string and default like a submission.
func (h *ConversionHandler) GetConversion(c *gin.Context) {
	var req dto.ConversionOptionsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid conversion options"})
		return
	}

	key, err := domain.NewCacheKey(c.Param("content_hash"), req.Options())
	if err != nil {
		h.writeError(c, err)
		return
	}

	record, err := h.service.Lookup(c.Request.Context(), key)
	if err != nil {
		h.writeError(c, err)
		return
	}

	if !record.Completed() {
		c.JSON(http.StatusConflict, dto.NewRecordResponse(record))
		return
	}

	c.JSON(http.StatusOK, dto.ConversionResultResponse{
		Status:       dto.StatusCompleted,
		ContentHash:  record.ContentHash,
		Options:      record.Options,
		OriginalName: record.OriginalName,
		Markdown:     *record.Payload,
		AssetPaths:   nonNil(record.AssetPaths),
		Cached:       true,
	})
}

func (h *ConversionHandler) writeOutcome(c *gin.Context, outcome domain.Outcome) {
	switch o := outcome.(type) {
	case domain.Success:
		resp := dto.ConversionResultResponse{
			Status:      dto.StatusCompleted,
			ContentHash: o.Key.ContentHash,
			Options:     o.Key.Options,
			Markdown:    o.Payload,
			AssetPaths:  nonNil(o.AssetPaths),
			Cached:      o.Cached,
		}
		if o.Record != nil {
			resp.OriginalName = o.Record.OriginalName
		}
		c.JSON(http.StatusOK, resp)

	case domain.InProgress:
		c.JSON(http.StatusAccepted, dto.JobAcceptedResponse{
			Status:       dto.StatusProcessing,
			JobID:        string(o.Handle),
			State:        string(o.State),
			ContentHash:  o.Key.ContentHash,
			Deduplicated: o.Deduplicated,
		})

	case domain.Failure:
		c.JSON(http.StatusInternalServerError, dto.JobFailedResponse{
			Status:      dto.StatusFailed,
			JobID:       string(o.Handle),
			ContentHash: o.Key.ContentHash,
			Error:       o.Reason,
		})

	default:
		h.writeError(c, fmt.Errorf("unexpected outcome %T", outcome))
	}
}

// writeError maps domain errors onto HTTP statuses
func (h *ConversionHandler) writeError(c *gin.Context, err error) {
	status, message := http.StatusInternalServerError, "Internal server error"

	switch {
	case errors.Is(err, domain.ErrFileTooLarge):
		status, message = http.StatusRequestEntityTooLarge, err.Error()
	case errors.Is(err, domain.ErrValidation):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrJobNotFound):
		status, message = http.StatusNotFound, "Job not found"
	case errors.Is(err, domain.ErrRecordNotFound):
		status, message = http.StatusNotFound, "Conversion not found"
	case errors.Is(err, domain.ErrConsistency):
		// the worker reported success without writing the record
		status, message = http.StatusBadGateway, "Job finished but its result is missing"
	case errors.Is(err, domain.ErrEnqueue):
		status, message = http.StatusServiceUnavailable, "Conversion queue unavailable, retry later"
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			slog.String("path", c.FullPath()),
			slog.Any("error", err),
		)
	}
	_ = c.Error(err)

	c.JSON(status, dto.ErrorResponse{Error: message})
}

func nonNil(paths []string) []string {
	if paths == nil {
		return []string{}
	}
	return paths
}
