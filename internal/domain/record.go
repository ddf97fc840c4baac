package domain

import "time"

// Record status constants
const (
	RecordStatusPending   = "PENDING"
	RecordStatusCompleted = "COMPLETED"
	RecordStatusFailed    = "FAILED"
)

// ResultRecord is the durable outcome of a transformation for one CacheKey
type ResultRecord struct {
	ID             int64
	ContentHash    string
	OriginalName   string
	Status         string
	Payload        *string
	ErrorMessage   *string
	AssetPaths     []string
	Options        Options
	CreatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int64
}

// Key returns the CacheKey the record is stored under
func (r *ResultRecord) Key() CacheKey {
	return CacheKey{ContentHash: r.ContentHash, Options: r.Options}
}

// Completed reports whether the record holds a usable payload
func (r *ResultRecord) Completed() bool {
	return r != nil && r.Status == RecordStatusCompleted && r.Payload != nil
}
