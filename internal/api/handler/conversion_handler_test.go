package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cuongbtq/doc-converter/internal/api/dto"
	"github.com/cuongbtq/doc-converter/internal/api/handler"
	"github.com/cuongbtq/doc-converter/internal/api/router"
	"github.com/cuongbtq/doc-converter/internal/domain"
	"github.com/cuongbtq/doc-converter/internal/intake"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	submitOutcome domain.Outcome
	submitErr     error
	pollOutcome   domain.Outcome
	pollErr       error
	depth         int
	record        *domain.ResultRecord
	lookupErr     error

	gotUpload  []byte
	gotName    string
	gotOptions domain.Options
	gotKey     domain.CacheKey
}

func (f *fakeService) SubmitOrHit(_ context.Context, u intake.Upload, opts domain.Options) (domain.Outcome, error) {
	body, err := io.ReadAll(u.Body)
	if err != nil {
		return nil, err
	}
	f.gotUpload = body
	f.gotName = u.Filename
	f.gotOptions = opts
	return f.submitOutcome, f.submitErr
}

func (f *fakeService) Poll(context.Context, domain.JobHandle) (domain.Outcome, error) {
	return f.pollOutcome, f.pollErr
}

func (f *fakeService) QueueDepth(context.Context) (int, error) {
	return f.depth, nil
}

func (f *fakeService) Lookup(_ context.Context, key domain.CacheKey) (*domain.ResultRecord, error) {
	f.gotKey = key
	return f.record, f.lookupErr
}

func (f *fakeService) EnhancementAvailable() bool { return false }

func newTestRouter(svc handler.ConversionService, checks map[string]handler.Check) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return router.SetupRouter(&handler.Dependencies{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Service:     svc,
		Checks:      checks,
		ServiceName: "doc-converter-api",
		Version:     "test",
	}, 0)
}

func multipartRequest(t *testing.T, filename, content string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversions", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

var testHash = strings.Repeat("a", domain.ContentHashLength)

func TestSubmitConversion_Accepted(t *testing.T) {
	svc := &fakeService{submitOutcome: domain.InProgress{
		Handle: "3f0c1c55-8a3e-4e0b-9d1e-2f1b0a7c9d10",
		Key:    domain.CacheKey{ContentHash: testHash},
		State:  domain.JobStateSubmitted,
	}}
	r := newTestRouter(svc, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, multipartRequest(t, "report.pdf", "%PDF-1.7", map[string]string{
		"use_enhancement": "true",
		"extract_assets":  "false",
	}))

	require.Equal(t, http.StatusAccepted, w.Code)

	var resp dto.JobAcceptedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, dto.StatusProcessing, resp.Status)
	assert.Equal(t, "3f0c1c55-8a3e-4e0b-9d1e-2f1b0a7c9d10", resp.JobID)

	assert.Equal(t, "%PDF-1.7", string(svc.gotUpload))
	assert.Equal(t, "report.pdf", svc.gotName)
	assert.Equal(t, domain.Options{UseEnhancement: true, ExtractAssets: false}, svc.gotOptions)
}

func TestSubmitConversion_DefaultOptions(t *testing.T) {
	svc := &fakeService{submitOutcome: domain.InProgress{Handle: "h", Key: domain.CacheKey{ContentHash: testHash}}}
	r := newTestRouter(svc, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, multipartRequest(t, "report.pdf", "%PDF", nil))

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, domain.DefaultOptions(), svc.gotOptions)
}

func TestSubmitConversion_CachedResult(t *testing.T) {
	payload := "# Report"
	svc := &fakeService{submitOutcome: domain.Success{
		Key:        domain.CacheKey{ContentHash: testHash, Options: domain.DefaultOptions()},
		Payload:    payload,
		AssetPaths: []string{testHash + "/assets/fig.png"},
		Record:     &domain.ResultRecord{OriginalName: "report.pdf", Payload: &payload},
		Cached:     true,
	}}
	r := newTestRouter(svc, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, multipartRequest(t, "report.pdf", "%PDF", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.ConversionResultResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, dto.StatusCompleted, resp.Status)
	assert.Equal(t, payload, resp.Markdown)
	assert.True(t, resp.Cached)
	assert.Equal(t, "report.pdf", resp.OriginalName)
	assert.Len(t, resp.AssetPaths, 1)
}

func TestSubmitConversion_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "validation", err: fmt.Errorf("%w: unsupported file type", domain.ErrValidation), wantStatus: http.StatusBadRequest},
		{name: "too large", err: fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrFileTooLarge), wantStatus: http.StatusRequestEntityTooLarge},
		{name: "enqueue", err: fmt.Errorf("%w: broker down", domain.ErrEnqueue), wantStatus: http.StatusServiceUnavailable},
		{name: "io", err: fmt.Errorf("%w: disk full", domain.ErrIO), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&fakeService{submitErr: tt.err}, nil)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, multipartRequest(t, "report.pdf", "%PDF", nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			var resp dto.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestSubmitConversion_MissingFile(t *testing.T) {
	r := newTestRouter(&fakeService{}, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, multipartRequest(t, "", "", map[string]string{"paginate": "true"}))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitConversion_BadOption(t *testing.T) {
	r := newTestRouter(&fakeService{}, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, multipartRequest(t, "report.pdf", "%PDF", map[string]string{"paginate": "maybe"}))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetJob(t *testing.T) {
	jobID := uuid.NewString()
	payload := "# Done"

	tests := []struct {
		name       string
		outcome    domain.Outcome
		err        error
		wantStatus int
	}{
		{
			name:       "in progress",
			outcome:    domain.InProgress{Handle: domain.JobHandle(jobID), State: domain.JobStateRunning},
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "success",
			outcome:    domain.Success{Payload: payload, Record: &domain.ResultRecord{Payload: &payload}},
			wantStatus: http.StatusOK,
		},
		{
			name:       "failure",
			outcome:    domain.Failure{Handle: domain.JobHandle(jobID), Reason: "engine crashed"},
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "unknown",
			err:        domain.ErrJobNotFound,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "result missing",
			err:        fmt.Errorf("%w: job %s", domain.ErrConsistency, jobID),
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&fakeService{pollOutcome: tt.outcome, pollErr: tt.err}, nil)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID, nil))

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestGetJob_ResultMissingIsNotExpiry(t *testing.T) {
	jobID := uuid.NewString()
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantMessage string
	}{
		{name: "expired handle", err: domain.ErrJobNotFound, wantStatus: http.StatusNotFound, wantMessage: "Job not found"},
		{
			name:        "result missing",
			err:         fmt.Errorf("%w: job %s", domain.ErrConsistency, jobID),
			wantStatus:  http.StatusBadGateway,
			wantMessage: "Job finished but its result is missing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&fakeService{pollErr: tt.err}, nil)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID, nil))

			require.Equal(t, tt.wantStatus, w.Code)
			var resp dto.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantMessage, resp.Error)
		})
	}
}

func TestGetJob_FailureBody(t *testing.T) {
	jobID := uuid.NewString()
	r := newTestRouter(&fakeService{pollOutcome: domain.Failure{Handle: domain.JobHandle(jobID), Reason: "engine crashed"}}, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID, nil))

	var resp dto.JobFailedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, dto.StatusFailed, resp.Status)
	assert.Equal(t, "engine crashed", resp.Error)
	assert.Equal(t, jobID, resp.JobID)
}

func TestGetJob_InvalidID(t *testing.T) {
	r := newTestRouter(&fakeService{}, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/not-a-uuid", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueueStatus(t *testing.T) {
	r := newTestRouter(&fakeService{depth: 7}, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/queue/status", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp dto.QueueStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 7, resp.PendingTasks)
}

func TestGetConversion(t *testing.T) {
	payload := "# Stored"
	failed := "bad input"

	tests := []struct {
		name       string
		path       string
		record     *domain.ResultRecord
		err        error
		wantStatus int
	}{
		{
			name:       "completed",
			path:       "/api/v1/conversions/" + testHash + "?paginate=true",
			record:     &domain.ResultRecord{ContentHash: testHash, Status: domain.RecordStatusCompleted, Payload: &payload},
			wantStatus: http.StatusOK,
		},
		{
			name:       "failed record",
			path:       "/api/v1/conversions/" + testHash,
			record:     &domain.ResultRecord{ContentHash: testHash, Status: domain.RecordStatusFailed, ErrorMessage: &failed},
			wantStatus: http.StatusConflict,
		},
		{
			name:       "not found",
			path:       "/api/v1/conversions/" + testHash,
			err:        domain.ErrRecordNotFound,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "malformed hash",
			path:       "/api/v1/conversions/xyz",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{record: tt.record, lookupErr: tt.err}
			r := newTestRouter(svc, nil)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestGetConversion_QueryOptions(t *testing.T) {
	svc := &fakeService{lookupErr: domain.ErrRecordNotFound}
	r := newTestRouter(svc, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/conversions/"+testHash+"?paginate=true&extract_assets=false", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, domain.Options{Paginate: true}, svc.gotKey.Options)
	assert.Equal(t, testHash, svc.gotKey.ContentHash)
}
