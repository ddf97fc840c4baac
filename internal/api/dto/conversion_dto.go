package dto

import (
	"time"

	"github.com/cuongbtq/doc-converter/internal/domain"
)

// ConversionOptionsRequest binds the option fields of a submission (multipart form)
// or a lookup (query string). Omitted fields take the service defaults.
type ConversionOptionsRequest struct {
	UseEnhancement     *bool `form:"use_enhancement"`
	Paginate           *bool `form:"paginate"`
	ExtractAssets      *bool `form:"extract_assets"`
	ForceFullReprocess *bool `form:"force_full_reprocess"`
}

// Options resolves the request against domain.DefaultOptions
func (r *ConversionOptionsRequest) Options() domain.Options {
	opts := domain.DefaultOptions()
	if r.UseEnhancement != nil {
		opts.UseEnhancement = *r.UseEnhancement
	}
	if r.Paginate != nil {
		opts.Paginate = *r.Paginate
	}
	if r.ExtractAssets != nil {
		opts.ExtractAssets = *r.ExtractAssets
	}
	if r.ForceFullReprocess != nil {
		opts.ForceFullReprocess = *r.ForceFullReprocess
	}
	return opts
}

// Response statuses
const (
	StatusCompleted  = "completed"
	StatusProcessing = "processing"
	StatusFailed     = "failed"
)

// ConversionResultResponse is returned when a result is available
type ConversionResultResponse struct {
	Status       string         `json:"status"`
	ContentHash  string         `json:"content_hash"`
	Options      domain.Options `json:"options"`
	OriginalName string         `json:"original_name,omitempty"`
	Markdown     string         `json:"markdown"`
	AssetPaths   []string       `json:"asset_paths"`
	Cached       bool           `json:"cached"`
}

// JobAcceptedResponse is returned while a job is queued or running
type JobAcceptedResponse struct {
	Status       string `json:"status"`
	JobID        string `json:"job_id"`
	State        string `json:"state"`
	ContentHash  string `json:"content_hash"`
	Deduplicated bool   `json:"deduplicated"`
}

// JobFailedResponse is returned when the worker reported a failure
type JobFailedResponse struct {
	Status      string `json:"status"`
	JobID       string `json:"job_id"`
	ContentHash string `json:"content_hash,omitempty"`
	Error       string `json:"error"`
}

// RecordResponse describes a stored record that has no usable payload yet
type RecordResponse struct {
	Status         string         `json:"status"`
	ContentHash    string         `json:"content_hash"`
	Options        domain.Options `json:"options"`
	OriginalName   string         `json:"original_name"`
	Error          string         `json:"error,omitempty"`
	CreatedAt      string         `json:"created_at"`
	LastAccessedAt string         `json:"last_accessed_at"`
	AccessCount    int64          `json:"access_count"`
}

// NewRecordResponse maps a record for the lookup endpoint
func NewRecordResponse(rec *domain.ResultRecord) RecordResponse {
	resp := RecordResponse{
		Status:         rec.Status,
		ContentHash:    rec.ContentHash,
		Options:        rec.Options,
		OriginalName:   rec.OriginalName,
		CreatedAt:      rec.CreatedAt.Format(time.RFC3339),
		LastAccessedAt: rec.LastAccessedAt.Format(time.RFC3339),
		AccessCount:    rec.AccessCount,
	}
	if rec.ErrorMessage != nil {
		resp.Error = *rec.ErrorMessage
	}
	return resp
}

// QueueStatusResponse reports how many records wait on a worker
type QueueStatusResponse struct {
	PendingTasks int `json:"pending_tasks"`
}

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error string `json:"error"`
}
