package storage

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuongbtq/doc-converter/internal/domain"
)

const recordColumns = `
	id, content_hash, original_name, status, payload, error_message, asset_paths,
	use_enhancement, paginate, extract_assets, force_full_reprocess,
	created_at, last_accessed_at, access_count`

// resultRow mirrors one result_records row
type resultRow struct {
	ID                 int64          `db:"id"`
	ContentHash        string         `db:"content_hash"`
	OriginalName       string         `db:"original_name"`
	Status             string         `db:"status"`
	Payload            sql.NullString `db:"payload"`
	ErrorMessage       sql.NullString `db:"error_message"`
	AssetPaths         assetPaths     `db:"asset_paths"`
	UseEnhancement     bool           `db:"use_enhancement"`
	Paginate           bool           `db:"paginate"`
	ExtractAssets      bool           `db:"extract_assets"`
	ForceFullReprocess bool           `db:"force_full_reprocess"`
	CreatedAt          time.Time      `db:"created_at"`
	LastAccessedAt     time.Time      `db:"last_accessed_at"`
	AccessCount        int64          `db:"access_count"`
}

func (r *resultRow) toDomain() *domain.ResultRecord {
	rec := &domain.ResultRecord{
		ID:           r.ID,
		ContentHash:  r.ContentHash,
		OriginalName: r.OriginalName,
		Status:       r.Status,
		AssetPaths:   []string(r.AssetPaths),
		Options: domain.Options{
			UseEnhancement:     r.UseEnhancement,
			Paginate:           r.Paginate,
			ExtractAssets:      r.ExtractAssets,
			ForceFullReprocess: r.ForceFullReprocess,
		},
		CreatedAt:      r.CreatedAt,
		LastAccessedAt: r.LastAccessedAt,
		AccessCount:    r.AccessCount,
	}
	if r.Payload.Valid {
		payload := r.Payload.String
		rec.Payload = &payload
	}
	if r.ErrorMessage.Valid {
		msg := r.ErrorMessage.String
		rec.ErrorMessage = &msg
	}
	return rec
}

// assetPaths is stored as a JSONB array, NULL when nil
type assetPaths []string

func (a assetPaths) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	b, err := json.Marshal([]string(a))
	if err != nil {
		return nil, err
	}
	// lib/pq sends []byte as bytea, jsonb needs text
	return string(b), nil
}

func (a *assetPaths) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = nil
		return nil
	case []byte:
		return json.Unmarshal(v, (*[]string)(a))
	case string:
		return json.Unmarshal([]byte(v), (*[]string)(a))
	default:
		return fmt.Errorf("unsupported asset_paths type %T", src)
	}
}
