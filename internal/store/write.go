package store

import (
	"context"
	"fmt"

	"github.com/danielballan/bluesky-talk/internal/document"
	"github.com/danielballan/bluesky-talk/internal/engine"
)

// WriteDocument appends one document to the archive.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - re-delivering a
// document (resume replay, retried subscribers) is silently ignored.
//
// A run-start also creates the run row; a run-stop finalizes it.
// Within one run those arrive in order, so the foreign key from
// documents to runs always resolves.
func (s *Store) WriteDocument(ctx context.Context, doc document.Document) error {
	body, err := marshalDocument(doc)
	if err != nil {
		return fmt.Errorf("write document: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write document: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if doc.Type == document.TypeRunStart {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO runs (id, started_seq, started_at)
			VALUES (?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`,
			doc.RunStart.ID,
			doc.RunStart.Seq,
			doc.RunStart.Time.UTC().Format(timeLayout),
		)
		if err != nil {
			return fmt.Errorf("write document: insert run: %w", err)
		}
	}

	var docTime string
	switch doc.Type {
	case document.TypeRunStart:
		docTime = doc.RunStart.Time.UTC().Format(timeLayout)
	case document.TypeDescriptor:
		docTime = doc.Descriptor.Time.UTC().Format(timeLayout)
	case document.TypeEvent:
		docTime = doc.Event.Time.UTC().Format(timeLayout)
	case document.TypeRunStop:
		docTime = doc.RunStop.Time.UTC().Format(timeLayout)
	default:
		return fmt.Errorf("write document: unknown type %q", doc.Type)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, run_id, type, seq, time, body)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		doc.ID(),
		doc.RunID(),
		string(doc.Type),
		doc.Seq(),
		docTime,
		body,
	)
	if err != nil {
		return fmt.Errorf("write document: insert: %w", err)
	}

	if doc.Type == document.TypeRunStop {
		_, err = tx.ExecContext(ctx, `
			UPDATE runs
			SET exit_status = ?, reason = ?, num_events = ?
			WHERE id = ? AND exit_status IS NULL
		`,
			string(doc.RunStop.ExitStatus),
			doc.RunStop.Reason,
			doc.RunStop.NumEvents,
			doc.RunStop.RunID,
		)
		if err != nil {
			return fmt.Errorf("write document: finalize run: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write document: commit: %w", err)
	}

	return nil
}

// Subscriber adapts the archive into an engine subscriber that persists
// every document as it is emitted. Delivery is synchronous on the
// engine's control flow; the busy timeout bounds how long a contended
// write can stall the run.
func (s *Store) Subscriber(ctx context.Context) engine.Subscriber {
	return func(doc document.Document) error {
		return s.WriteDocument(ctx, doc)
	}
}
