package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// DecisionLabel marks the instruction entries that audit a tamping decision.
const DecisionLabel = "tampingDecision"

type PointStatus string

const (
	StatusIgnore  PointStatus = "IGNORE"
	StatusProceed PointStatus = "PROCEED"
)

// Valid reports whether s is one of the two known statuses.
func (s PointStatus) Valid() bool {
	return s == StatusIgnore || s == StatusProceed
}

// ParseStatus accepts a status name in any case.
func ParseStatus(s string) (PointStatus, error) {
	st := PointStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("status must be %s or %s, got %q", StatusProceed, StatusIgnore, s)
	}
	return st, nil
}

// DecisionAudit is carried by the instruction entry that records a decision.
type DecisionAudit struct {
	Decision  PointStatus `json:"decision"`
	Score     float64     `json:"score"`
	Fallback  bool        `json:"fallback"`
	Pt        float64     `json:"pt"`
	Timestamp string      `json:"timestamp"`
}

// Entry is one labelled value in a point's alerts or instructions. Audit
// entries embed a DecisionAudit whose fields serialise alongside label and
// value.
type Entry struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
	*DecisionAudit
}

// Validate rejects entries the store must not persist.
func (e Entry) Validate() error {
	if strings.TrimSpace(e.Label) == "" {
		return fmt.Errorf("%w: label must be a non-empty string", ErrInvalidEntry)
	}
	if !isFinite(e.Value) {
		return fmt.Errorf("%w: value for %q must be a finite number", ErrInvalidEntry, e.Label)
	}
	if a := e.DecisionAudit; a != nil {
		if !a.Decision.Valid() {
			return fmt.Errorf("%w: decision %q is not %s or %s", ErrInvalidEntry, a.Decision, StatusProceed, StatusIgnore)
		}
		if !isFinite(a.Score) || !isFinite(a.Pt) {
			return fmt.Errorf("%w: decision audit for %q has a non-finite number", ErrInvalidEntry, e.Label)
		}
	}
	return nil
}

func validateEntries(entries []Entry) error {
	for i, e := range entries {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
	}
	return nil
}

// Point is the record kept for one observed track position.
type Point struct {
	ID           int64       `json:"id"`
	Pt           float64     `json:"pt"`
	Alerts       []Entry     `json:"alerts"`
	Instructions []Entry     `json:"instructions"`
	Status       PointStatus `json:"status"`
	CreatedAt    time.Time   `json:"createdAt,omitzero"`
	UpdatedAt    time.Time   `json:"updatedAt,omitzero"`
}

// PointPatch lists the fields an update replaces. Nil fields are untouched.
type PointPatch struct {
	Pt           *float64
	Alerts       *[]Entry
	Instructions *[]Entry
	Status       *PointStatus
}

// IsEmpty reports whether the patch changes nothing.
func (p PointPatch) IsEmpty() bool {
	return p.Pt == nil && p.Alerts == nil && p.Instructions == nil && p.Status == nil
}

// Validate checks every supplied field.
func (p PointPatch) Validate() error {
	if p.Pt != nil && !isFinite(*p.Pt) {
		return fmt.Errorf("%w: pt must be a finite number", ErrInvalidEntry)
	}
	if p.Alerts != nil {
		if err := validateEntries(*p.Alerts); err != nil {
			return fmt.Errorf("alerts: %w", err)
		}
	}
	if p.Instructions != nil {
		if err := validateEntries(*p.Instructions); err != nil {
			return fmt.Errorf("instructions: %w", err)
		}
	}
	if p.Status != nil && !p.Status.Valid() {
		return fmt.Errorf("%w: status %q is not %s or %s", ErrInvalidEntry, *p.Status, StatusProceed, StatusIgnore)
	}
	return nil
}

type entryColumn string

const (
	alertsColumn       entryColumn = "alerts"
	instructionsColumn entryColumn = "instructions"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const pointColumns = `id, pt, alerts, instructions, status, created_at, updated_at`

// AppendAlerts appends entries to the alerts of the latest point at pt,
// creating the point when none exists. created reports which happened.
func (db *DB) AppendAlerts(ctx context.Context, pt float64, entries []Entry) (p *Point, created bool, err error) {
	return db.appendEntries(ctx, pt, alertsColumn, entries)
}

// AppendInstructions is AppendAlerts over the instructions array.
func (db *DB) AppendInstructions(ctx context.Context, pt float64, entries []Entry) (p *Point, created bool, err error) {
	return db.appendEntries(ctx, pt, instructionsColumn, entries)
}

// appendEntries runs the read-merge-write for one position. The per-pt lock
// orders writers in this process; the IMMEDIATE transaction orders them
// against other processes sharing the file.
func (db *DB) appendEntries(ctx context.Context, pt float64, col entryColumn, entries []Entry) (*Point, bool, error) {
	if !isFinite(pt) {
		return nil, false, fmt.Errorf("%w: pt must be a finite number", ErrInvalidEntry)
	}
	if len(entries) == 0 {
		return nil, false, fmt.Errorf("%w: no %s to append", ErrInvalidEntry, col)
	}
	if err := validateEntries(entries); err != nil {
		return nil, false, err
	}

	unlock := db.locks.Lock(pt)
	defer unlock()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin append: %w", classify(err))
	}
	defer tx.Rollback()

	now := db.now()
	p, err := latestPointAt(ctx, tx, pt)
	if err != nil {
		return nil, false, classify(err)
	}

	created := p == nil
	if created {
		p = &Point{
			Pt:           pt,
			Alerts:       []Entry{},
			Instructions: []Entry{},
			Status:       StatusIgnore,
			CreatedAt:    now,
		}
	}
	switch col {
	case alertsColumn:
		p.Alerts = append(p.Alerts, entries...)
	case instructionsColumn:
		p.Instructions = append(p.Instructions, entries...)
	}
	p.UpdatedAt = now

	if created {
		err = insertPoint(ctx, tx, p)
	} else {
		err = writeColumn(ctx, tx, p, col)
	}
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit append: %w", classify(err))
	}
	return truncateTimes(p), created, nil
}

// CreatePoint inserts a new point unconditionally, even if other points share
// its pt. A missing status defaults to IGNORE.
func (db *DB) CreatePoint(ctx context.Context, in Point) (*Point, error) {
	if !isFinite(in.Pt) {
		return nil, fmt.Errorf("%w: pt must be a finite number", ErrInvalidEntry)
	}
	if in.Status == "" {
		in.Status = StatusIgnore
	}
	if !in.Status.Valid() {
		return nil, fmt.Errorf("%w: status %q is not %s or %s", ErrInvalidEntry, in.Status, StatusProceed, StatusIgnore)
	}
	if err := validateEntries(in.Alerts); err != nil {
		return nil, fmt.Errorf("alerts: %w", err)
	}
	if err := validateEntries(in.Instructions); err != nil {
		return nil, fmt.Errorf("instructions: %w", err)
	}

	p := &Point{
		Pt:           in.Pt,
		Alerts:       nonNil(in.Alerts),
		Instructions: nonNil(in.Instructions),
		Status:       in.Status,
	}

	unlock := db.locks.Lock(p.Pt)
	defer unlock()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin create: %w", classify(err))
	}
	defer tx.Rollback()

	p.CreatedAt = db.now()
	p.UpdatedAt = p.CreatedAt
	if err := insertPoint(ctx, tx, p); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit create: %w", classify(err))
	}
	return truncateTimes(p), nil
}

var errPointMoved = errors.New("point moved to another position")

// UpdatePoint replaces the fields set in patch. It returns nil, nil when no
// point has the given id. The update holds the per-pt locks of both the old
// and the new position so it cannot clobber a concurrent append.
func (db *DB) UpdatePoint(ctx context.Context, id int64, patch PointPatch) (*Point, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < 3; attempt++ {
		cur, err := db.GetPoint(ctx, id)
		if err != nil || cur == nil {
			return nil, err
		}
		target := cur.Pt
		if patch.Pt != nil {
			target = *patch.Pt
		}

		p, err := db.updateLocked(ctx, id, cur.Pt, target, patch)
		if errors.Is(err, errPointMoved) {
			continue
		}
		return p, err
	}
	return nil, fmt.Errorf("%w: point %d kept moving during update", ErrConflict, id)
}

func (db *DB) updateLocked(ctx context.Context, id int64, from, to float64, patch PointPatch) (*Point, error) {
	lo, hi := math.Min(from, to), math.Max(from, to)
	unlockLo := db.locks.Lock(lo)
	defer unlockLo()
	if hi != lo {
		unlockHi := db.locks.Lock(hi)
		defer unlockHi()
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin update: %w", classify(err))
	}
	defer tx.Rollback()

	p, err := scanPoint(tx.QueryRowContext(ctx, `SELECT `+pointColumns+` FROM points WHERE id = ?`, id))
	if err != nil || p == nil {
		return nil, classify(err)
	}
	if p.Pt != from {
		return nil, errPointMoved
	}

	if patch.Pt != nil {
		p.Pt = *patch.Pt
	}
	if patch.Alerts != nil {
		p.Alerts = nonNil(*patch.Alerts)
	}
	if patch.Instructions != nil {
		p.Instructions = nonNil(*patch.Instructions)
	}
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	p.UpdatedAt = db.now()

	alerts, instructions, err := encodeEntries(p)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE points
		   SET pt = ?, alerts = ?, instructions = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		p.Pt, alerts, instructions, string(p.Status), p.UpdatedAt.UnixMilli(), id,
	); err != nil {
		return nil, fmt.Errorf("failed to update point %d: %w", id, classify(err))
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit update: %w", classify(err))
	}
	return truncateTimes(p), nil
}

// GetPoint returns the point with the given id, or nil when there is none.
func (db *DB) GetPoint(ctx context.Context, id int64) (*Point, error) {
	p, err := scanPoint(db.QueryRowContext(ctx, `SELECT `+pointColumns+` FROM points WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get point %d: %w", id, err)
	}
	return p, nil
}

// LatestPointAt returns the point with the highest id at pt, or nil.
func (db *DB) LatestPointAt(ctx context.Context, pt float64) (*Point, error) {
	p, err := latestPointAt(ctx, db, pt)
	if err != nil {
		return nil, fmt.Errorf("failed to look up pt %v: %w", pt, err)
	}
	return p, nil
}

// ListPoints returns every point in id order.
func (db *DB) ListPoints(ctx context.Context) ([]Point, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+pointColumns+` FROM points ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list points: %w", err)
	}
	defer rows.Close()

	points := []Point{}
	for rows.Next() {
		p, err := scanPoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to list points: %w", err)
		}
		points = append(points, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list points: %w", err)
	}
	return points, nil
}

// DeletePoint removes a point and reports whether it existed.
func (db *DB) DeletePoint(ctx context.Context, id int64) (bool, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM points WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete point %d: %w", id, classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete point %d: %w", id, err)
	}
	return n > 0, nil
}

// DecisionScores returns every decision audit entry in point then insertion
// order. Only instructions labelled DecisionLabel that carry a decision
// count; alerts never do.
func (db *DB) DecisionScores(ctx context.Context) ([]DecisionAudit, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT p.instructions FROM points p
		 WHERE EXISTS (
		       SELECT 1 FROM json_each(p.instructions) e
		        WHERE json_extract(e.value, '$.label') = ?
		          AND json_extract(e.value, '$.decision') IS NOT NULL)
		 ORDER BY p.id`, DecisionLabel)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	audits := []DecisionAudit{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan decisions: %w", err)
		}
		var entries []Entry
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			return nil, fmt.Errorf("failed to decode instructions: %w", err)
		}
		for _, e := range entries {
			if e.Label == DecisionLabel && e.DecisionAudit != nil {
				audits = append(audits, *e.DecisionAudit)
			}
		}
	}
	return audits, rows.Err()
}

func latestPointAt(ctx context.Context, q queryer, pt float64) (*Point, error) {
	return scanPoint(q.QueryRowContext(ctx,
		`SELECT `+pointColumns+` FROM points WHERE pt = ? ORDER BY id DESC LIMIT 1`, pt))
}

func insertPoint(ctx context.Context, tx *sql.Tx, p *Point) error {
	alerts, instructions, err := encodeEntries(p)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO points (pt, alerts, instructions, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.Pt, alerts, instructions, string(p.Status), p.CreatedAt.UnixMilli(), p.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to create point: %w", classify(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	p.ID = id
	return nil
}

func writeColumn(ctx context.Context, tx *sql.Tx, p *Point, col entryColumn) error {
	entries := p.Alerts
	if col == instructionsColumn {
		entries = p.Instructions
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", col, err)
	}
	query := fmt.Sprintf(`UPDATE points SET %s = ?, updated_at = ? WHERE id = ?`, col)
	if _, err := tx.ExecContext(ctx, query, string(b), p.UpdatedAt.UnixMilli(), p.ID); err != nil {
		return fmt.Errorf("failed to append %s to point %d: %w", col, p.ID, classify(err))
	}
	return nil
}

func encodeEntries(p *Point) (alerts, instructions string, err error) {
	a, err := json.Marshal(nonNil(p.Alerts))
	if err != nil {
		return "", "", fmt.Errorf("failed to encode alerts: %w", err)
	}
	i, err := json.Marshal(nonNil(p.Instructions))
	if err != nil {
		return "", "", fmt.Errorf("failed to encode instructions: %w", err)
	}
	return string(a), string(i), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanPoint returns nil, nil on sql.ErrNoRows.
func scanPoint(row rowScanner) (*Point, error) {
	var (
		p                    Point
		alerts, instructions string
		status               string
		createdAt, updatedAt int64
	)
	err := row.Scan(&p.ID, &p.Pt, &alerts, &instructions, &status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(alerts), &p.Alerts); err != nil {
		return nil, fmt.Errorf("failed to decode alerts of point %d: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(instructions), &p.Instructions); err != nil {
		return nil, fmt.Errorf("failed to decode instructions of point %d: %w", p.ID, err)
	}
	p.Alerts = nonNil(p.Alerts)
	p.Instructions = nonNil(p.Instructions)
	p.Status = PointStatus(status)
	p.CreatedAt = time.UnixMilli(createdAt)
	p.UpdatedAt = time.UnixMilli(updatedAt)
	return &p, nil
}

// truncateTimes makes a freshly written point compare equal to its re-read
// form.
func truncateTimes(p *Point) *Point {
	p.CreatedAt = time.UnixMilli(p.CreatedAt.UnixMilli())
	p.UpdatedAt = time.UnixMilli(p.UpdatedAt.UnixMilli())
	return p
}

func nonNil(entries []Entry) []Entry {
	if entries == nil {
		return []Entry{}
	}
	return entries
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
