package conversion

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/doc-converter/internal/dispatch"
	"github.com/cuongbtq/doc-converter/internal/domain"
	"github.com/cuongbtq/doc-converter/shared/rabbitmq"
)

// memStore is an in-memory result store honouring the per-key uniqueness rules
type memStore struct {
	mu      sync.Mutex
	nextID  int64
	lookups int
	records map[domain.CacheKey]*domain.ResultRecord
}

func newMemStore() *memStore {
	return &memStore{records: make(map[domain.CacheKey]*domain.ResultRecord)}
}

func copyRecord(r *domain.ResultRecord) *domain.ResultRecord {
	c := *r
	c.AssetPaths = append([]string(nil), r.AssetPaths...)
	return &c
}

func (m *memStore) Lookup(_ context.Context, key domain.CacheKey) (*domain.ResultRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	rec, ok := m.records[key]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	return copyRecord(rec), nil
}

func (m *memStore) CreatePending(_ context.Context, key domain.CacheKey, originalName string) (*domain.ResultRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[key]; ok {
		if rec.Status != domain.RecordStatusFailed {
			return nil, domain.ErrAlreadyExists
		}
		rec.Status = domain.RecordStatusPending
		rec.ErrorMessage = nil
		rec.OriginalName = originalName
		return copyRecord(rec), nil
	}
	m.nextID++
	now := time.Now()
	rec := &domain.ResultRecord{
		ID:             m.nextID,
		ContentHash:    key.ContentHash,
		OriginalName:   originalName,
		Status:         domain.RecordStatusPending,
		Options:        key.Options,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	m.records[key] = rec
	return copyRecord(rec), nil
}

func (m *memStore) RevertPending(_ context.Context, key domain.CacheKey, prior *domain.ResultRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok || rec.Status != domain.RecordStatusPending {
		return nil
	}
	if prior != nil && prior.Status == domain.RecordStatusFailed {
		rec.Status = domain.RecordStatusFailed
		rec.ErrorMessage = prior.ErrorMessage
		rec.OriginalName = prior.OriginalName
		return nil
	}
	delete(m.records, key)
	return nil
}

func (m *memStore) RecordSuccess(_ context.Context, key domain.CacheKey, originalName, payload string, paths []string) (*domain.ResultRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if ok && rec.Completed() {
		return copyRecord(rec), domain.ErrAlreadyExists
	}
	if !ok {
		m.nextID++
		rec = &domain.ResultRecord{
			ID:           m.nextID,
			ContentHash:  key.ContentHash,
			OriginalName: originalName,
			Options:      key.Options,
			CreatedAt:    time.Now(),
		}
		m.records[key] = rec
	}
	rec.Status = domain.RecordStatusCompleted
	rec.Payload = &payload
	rec.AssetPaths = append([]string(nil), paths...)
	rec.ErrorMessage = nil
	return copyRecord(rec), nil
}

func (m *memStore) RecordFailure(_ context.Context, key domain.CacheKey, originalName, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if ok && rec.Completed() {
		return domain.ErrAlreadyExists
	}
	if !ok {
		m.nextID++
		rec = &domain.ResultRecord{
			ID:           m.nextID,
			ContentHash:  key.ContentHash,
			OriginalName: originalName,
			Options:      key.Options,
		}
		m.records[key] = rec
	}
	rec.Status = domain.RecordStatusFailed
	rec.ErrorMessage = &message
	return nil
}

func (m *memStore) Touch(_ context.Context, key domain.CacheKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[key]; ok {
		rec.AccessCount++
		rec.LastAccessedAt = time.Now()
	}
	return nil
}

func (m *memStore) CountPending(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.records {
		if rec.Status == domain.RecordStatusPending {
			n++
		}
	}
	return n, nil
}

func (m *memStore) lookupCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookups
}

func (m *memStore) completedCount(hash string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key, rec := range m.records {
		if key.ContentHash == hash && rec.Completed() {
			n++
		}
	}
	return n
}

// memStates is the job-state backend and in-flight claims in memory
type memStates struct {
	mu       sync.Mutex
	statuses map[domain.JobHandle]domain.JobStatus
	claims   map[domain.CacheKey]domain.JobHandle
}

func newMemStates() *memStates {
	return &memStates{
		statuses: make(map[domain.JobHandle]domain.JobStatus),
		claims:   make(map[domain.CacheKey]domain.JobHandle),
	}
}

func (m *memStates) Put(_ context.Context, status domain.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[status.Handle] = status
	return nil
}

func (m *memStates) Get(_ context.Context, handle domain.JobHandle) (*domain.JobStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.statuses[handle]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return &status, nil
}

func (m *memStates) Delete(_ context.Context, handle domain.JobHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, handle)
	return nil
}

func (m *memStates) transition(handle domain.JobHandle, state domain.JobState, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := m.statuses[handle]
	status.State = state
	status.Error = reason
	m.statuses[handle] = status
}

func (m *memStates) ClaimInFlight(_ context.Context, key domain.CacheKey, handle domain.JobHandle) (domain.JobHandle, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if owner, ok := m.claims[key]; ok {
		return owner, false, nil
	}
	m.claims[key] = handle
	return handle, true, nil
}

func (m *memStates) ReleaseInFlight(_ context.Context, key domain.CacheKey, handle domain.JobHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claims[key] == handle {
		delete(m.claims, key)
	}
	return nil
}

func (m *memStates) claimCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.claims)
}

// memBroker captures published jobs
type memBroker struct {
	mu       sync.Mutex
	err      error
	messages []domain.JobMessage
}

func (b *memBroker) PublishWithRetry(_ context.Context, msg rabbitmq.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	var job domain.JobMessage
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		return err
	}
	b.messages = append(b.messages, job)
	return nil
}

func (b *memBroker) published() []domain.JobMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.JobMessage(nil), b.messages...)
}

// workerFailsFirst lets a worker fail the job before Submit returns
type workerFailsFirst struct {
	Dispatcher
	h      *harness
	t      *testing.T
	reason string
}

func (d *workerFailsFirst) Submit(ctx context.Context, job dispatch.Job) (domain.JobHandle, error) {
	handle, err := d.Dispatcher.Submit(ctx, job)
	if err != nil {
		return handle, err
	}
	d.h.fail(d.t, handle, d.reason)
	return handle, nil
}

// gatedClaims holds the first claim attempt until release is closed
type gatedClaims struct {
	Claims
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedClaims(inner Claims) *gatedClaims {
	return &gatedClaims{
		Claims:  inner,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedClaims) ClaimInFlight(ctx context.Context, key domain.CacheKey, handle domain.JobHandle) (domain.JobHandle, bool, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.Claims.ClaimInFlight(ctx, key, handle)
}
