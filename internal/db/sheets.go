package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Batch groups the sheets scanned between two batch boundaries.
type Batch struct {
	ID        string     `json:"id"`
	Label     string     `json:"label"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Sheet is one physical sheet and its final outcome.
type Sheet struct {
	ID             string          `json:"id"`
	BatchID        string          `json:"batch_id"`
	Accepted       bool            `json:"accepted"`
	Reason         string          `json:"reason,omitempty"`
	FrontImagePath string          `json:"front_image_path"`
	BackImagePath  string          `json:"back_image_path"`
	Interpretation json.RawMessage `json:"interpretation,omitempty"`
	// CVRError is set when an accepted sheet could not be turned into a
	// cast vote record.
	CVRError  string    `json:"cvr_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

var ErrNoOpenBatch = errors.New("no open batch")

// StartBatch ends any open batch and opens a new one.
func (db *DB) StartBatch(ctx context.Context, label string) (Batch, error) {
	b := Batch{ID: uuid.NewString(), Label: label, StartedAt: time.Now().UTC()}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Batch{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE batches SET ended_at = ? WHERE ended_at IS NULL`, b.StartedAt); err != nil {
		return Batch{}, fmt.Errorf("failed to end open batch: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO batches (id, label, started_at) VALUES (?, ?, ?)`,
		b.ID, b.Label, b.StartedAt,
	); err != nil {
		return Batch{}, fmt.Errorf("failed to start batch: %w", err)
	}
	return b, tx.Commit()
}

// CurrentBatch returns the open batch, or ErrNoOpenBatch.
func (db *DB) CurrentBatch(ctx context.Context) (Batch, error) {
	var (
		b     Batch
		ended sql.NullTime
	)
	err := db.QueryRowContext(ctx,
		`SELECT id, label, started_at, ended_at FROM batches WHERE ended_at IS NULL ORDER BY started_at DESC LIMIT 1`,
	).Scan(&b.ID, &b.Label, &b.StartedAt, &ended)
	if errors.Is(err, sql.ErrNoRows) {
		return Batch{}, ErrNoOpenBatch
	}
	if err != nil {
		return Batch{}, err
	}
	return b, nil
}

// AddSheet stores a sheet and, when cvr is non-nil, its cast vote record in
// one transaction.
func (db *DB) AddSheet(ctx context.Context, s Sheet, cvr []byte) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var interpretation sql.NullString
	if len(s.Interpretation) > 0 {
		interpretation = sql.NullString{String: string(s.Interpretation), Valid: true}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sheets (
			id, batch_id, accepted, reason, front_image_path, back_image_path,
			interpretation_json, cvr_error, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.BatchID, s.Accepted, s.Reason, s.FrontImagePath, s.BackImagePath,
		interpretation, s.CVRError, s.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert sheet %s: %w", s.ID, err)
	}
	if cvr != nil {
		if !s.Accepted {
			return fmt.Errorf("sheet %s was not accepted and cannot have a cast vote record", s.ID)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cast_vote_records (sheet_id, batch_id, cvr_json, created_at) VALUES (?, ?, ?, ?)`,
			s.ID, s.BatchID, string(cvr), s.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert cast vote record for sheet %s: %w", s.ID, err)
		}
	}
	return tx.Commit()
}

// Sheets lists the sheets of a batch in scan order.
func (db *DB) Sheets(ctx context.Context, batchID string) ([]Sheet, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, batch_id, accepted, reason, front_image_path, back_image_path,
			interpretation_json, cvr_error, created_at
		FROM sheets WHERE batch_id = ? ORDER BY created_at, rowid`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sheets []Sheet
	for rows.Next() {
		var (
			s              Sheet
			interpretation sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.BatchID, &s.Accepted, &s.Reason,
			&s.FrontImagePath, &s.BackImagePath, &interpretation, &s.CVRError, &s.CreatedAt); err != nil {
			return nil, err
		}
		if interpretation.Valid {
			s.Interpretation = json.RawMessage(interpretation.String)
		}
		sheets = append(sheets, s)
	}
	return sheets, rows.Err()
}

// AcceptedCount returns the number of accepted sheets across all batches.
func (db *DB) AcceptedCount(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sheets WHERE accepted = 1`).Scan(&n)
	return n, err
}

// CastVoteRecords returns every stored record in scan order.
func (db *DB) CastVoteRecords(ctx context.Context) ([]json.RawMessage, error) {
	rows, err := db.QueryContext(ctx, `SELECT cvr_json FROM cast_vote_records ORDER BY created_at, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []json.RawMessage
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		records = append(records, json.RawMessage(data))
	}
	return records, rows.Err()
}
