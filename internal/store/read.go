package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/danielballan/bluesky-talk/internal/document"
)

const timeLayout = time.RFC3339Nano

// RunSummary is one row of the run index.
type RunSummary struct {
	ID         string
	StartedSeq int64
	StartedAt  time.Time
	// ExitStatus is empty while the run is still open (no run-stop
	// archived yet).
	ExitStatus document.ExitStatus
	Reason     string
	NumEvents  int64
}

// ReadRun returns every archived document of one run in emission order.
//
// Ordering is by logical clock, with the document ID as a deterministic
// tiebreaker, so reading a run back always yields the same sequence.
func (s *Store) ReadRun(ctx context.Context, runID string) ([]document.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT body FROM documents
		WHERE run_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("read run: %w", err)
	}
	defer rows.Close()

	var docs []document.Document
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("read run: scan: %w", err)
		}
		doc, err := unmarshalDocument(body)
		if err != nil {
			return nil, fmt.Errorf("read run: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read run: %w", err)
	}
	if docs == nil {
		return nil, fmt.Errorf("read run: no documents for run %q", runID)
	}
	return docs, nil
}

// ListRuns returns the run index, oldest first.
func (s *Store) ListRuns(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_seq, started_at, exit_status, reason, num_events
		FROM runs
		ORDER BY started_seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var (
			r          RunSummary
			startedAt  string
			exitStatus sql.NullString
			reason     sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.StartedSeq, &startedAt, &exitStatus, &reason, &r.NumEvents); err != nil {
			return nil, fmt.Errorf("list runs: scan: %w", err)
		}
		r.StartedAt, err = time.Parse(timeLayout, startedAt)
		if err != nil {
			return nil, fmt.Errorf("list runs: parse started_at: %w", err)
		}
		if exitStatus.Valid {
			r.ExitStatus = document.ExitStatus(exitStatus.String)
		}
		if reason.Valid {
			r.Reason = reason.String
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}
