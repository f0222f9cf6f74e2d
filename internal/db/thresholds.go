package db

import (
	"context"
	"fmt"
	"time"
)

// ThresholdsID is the row the upsert writes to.
const ThresholdsID = 1

// Thresholds are the display-side severity cut-offs. The decision path never
// reads them.
type Thresholds struct {
	ID                  int64     `json:"id"`
	ConfidenceThreshold float64   `json:"confidenceThreshold"`
	UrgentThreshold     float64   `json:"urgentThreshold"`
	CreatedAt           time.Time `json:"createdAt,omitzero"`
	UpdatedAt           time.Time `json:"updatedAt,omitzero"`
}

func (db *DB) ListThresholds(ctx context.Context) ([]Thresholds, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, confidence_threshold, urgent_threshold, created_at, updated_at
		  FROM config
		 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list thresholds: %w", err)
	}
	defer rows.Close()

	out := []Thresholds{}
	for rows.Next() {
		t, err := scanThresholds(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan thresholds: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetThresholds returns nil when the id is unknown.
func (db *DB) GetThresholds(ctx context.Context, id int64) (*Thresholds, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, confidence_threshold, urgent_threshold, created_at, updated_at
		  FROM config
		 WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get thresholds %d: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	t, err := scanThresholds(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan thresholds: %w", err)
	}
	return &t, nil
}

// UpsertThresholds writes both values to the ThresholdsID row.
func (db *DB) UpsertThresholds(ctx context.Context, confidence, urgent float64) (*Thresholds, error) {
	if !isFinite(confidence) || !isFinite(urgent) {
		return nil, fmt.Errorf("%w: thresholds must be finite numbers", ErrInvalidEntry)
	}
	now := db.now().UnixMilli()
	if _, err := db.ExecContext(ctx, `
		INSERT INTO config (id, confidence_threshold, urgent_threshold, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			confidence_threshold = excluded.confidence_threshold,
			urgent_threshold = excluded.urgent_threshold,
			updated_at = excluded.updated_at`,
		ThresholdsID, confidence, urgent, now, now,
	); err != nil {
		return nil, fmt.Errorf("failed to upsert thresholds: %w", classify(err))
	}
	return db.GetThresholds(ctx, ThresholdsID)
}

func scanThresholds(row rowScanner) (Thresholds, error) {
	var (
		t                    Thresholds
		createdAt, updatedAt int64
	)
	if err := row.Scan(&t.ID, &t.ConfidenceThreshold, &t.UrgentThreshold, &createdAt, &updatedAt); err != nil {
		return Thresholds{}, err
	}
	t.CreatedAt = time.UnixMilli(createdAt)
	t.UpdatedAt = time.UnixMilli(updatedAt)
	return t, nil
}
