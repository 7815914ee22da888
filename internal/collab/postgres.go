package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/collabtext/replica/internal/rga"
	"github.com/collabtext/replica/internal/rgaerr"
	"github.com/collabtext/replica/internal/s4vector"
	"github.com/collabtext/replica/internal/snapshot"
)

// Postgres implements Persistence against the operations/document_snapshots
// tables described in SPEC_FULL.md §4.7, using pgx — the teacher's exact
// driver — in place of the original's tokio_postgres client.
type Postgres struct {
	pool       *pgxpool.Pool
	maxElapsed time.Duration
}

// NewPostgres wraps an already-connected pgx pool. maxElapsed bounds how
// long AppendOperation/WriteSnapshot retry before surfacing
// ErrPersistenceFailure — sourced from PERSISTENCE_TIMEOUT_SECONDS.
func NewPostgres(pool *pgxpool.Pool, maxElapsed time.Duration) *Postgres {
	return &Postgres{pool: pool, maxElapsed: maxElapsed}
}

func (p *Postgres) AppendOperation(ctx context.Context, op rga.Operation) error {
	err := withBackoff(ctx, p.maxElapsed, func() error {
		var value *string
		if op.Kind == rga.KindInsert {
			v := op.Value
			value = &v
		}
		lssn, lsum, lsid, lseq := nullableAnchorFields(op.LeftS4)
		rssn, rsum, rsid, rseq := nullableAnchorFields(op.RightS4)

		_, execErr := p.pool.Exec(ctx, `
			INSERT INTO operations
				(document_id, ssn, sum, sid, seq, value, tombstone,
				 left_ssn, left_sum, left_sid, left_seq,
				 right_ssn, right_sum, right_sid, right_seq)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
			ON CONFLICT (document_id, ssn, sum, sid, seq) DO NOTHING`,
			op.DocumentID, op.S4.SSN, op.S4.Sum, op.S4.SID, op.S4.Seq,
			value, op.Kind == rga.KindDelete,
			lssn, lsum, lsid, lseq, rssn, rsum, rsid, rseq,
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("append operation %s: %w: %v", op.S4, rgaerr.ErrPersistenceFailure, err)
	}
	return nil
}

// nullableAnchorFields flattens an Anchor into four nullable column
// values — nil across the board for a sentinel boundary.
func nullableAnchorFields(a rga.Anchor) (ssn, sum, sid, seq *uint64) {
	if !a.Valid {
		return nil, nil, nil, nil
	}
	return &a.S4.SSN, &a.S4.Sum, &a.S4.SID, &a.S4.Seq
}

func (p *Postgres) LoadLatestSnapshot(ctx context.Context, documentID string) (*snapshot.Record, error) {
	var entries []byte
	var ssn uint64
	row := p.pool.QueryRow(ctx, `
		SELECT entries, (last_s4->>'ssn')::bigint
		FROM document_snapshots WHERE document_id = $1`, documentID)
	if err := row.Scan(&entries, &ssn); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load latest snapshot %s: %w: %v", documentID, rgaerr.ErrPersistenceFailure, err)
	}

	var records []rga.NodeRecord
	if err := json.Unmarshal(entries, &records); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w: %v", documentID, rgaerr.ErrSnapshotCorruption, err)
	}
	rec := snapshot.Record{DocumentID: documentID, SSN: ssn, Entries: records}
	return &rec, nil
}

func (p *Postgres) WriteSnapshot(ctx context.Context, documentID string, rec snapshot.Record) error {
	entries, err := json.Marshal(rec.Entries)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", documentID, err)
	}
	lastS4, err := json.Marshal(rec.LastS4)
	if err != nil {
		return fmt.Errorf("encode snapshot cursor %s: %w", documentID, err)
	}

	return withBackoff(ctx, p.maxElapsed, func() error {
		_, execErr := p.pool.Exec(ctx, `
			INSERT INTO document_snapshots (document_id, entries, last_s4)
			VALUES ($1, $2, $3)
			ON CONFLICT (document_id) DO UPDATE SET entries = $2, last_s4 = $3, taken_at = now()`,
			documentID, entries, lastS4)
		if execErr != nil {
			return fmt.Errorf("write snapshot %s: %w: %v", documentID, rgaerr.ErrPersistenceFailure, execErr)
		}
		return nil
	})
}

func (p *Postgres) LoadOperationsSince(ctx context.Context, documentID string, cursor *s4vector.S4Vector) ([]rga.Operation, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT ssn, sum, sid, seq, value, tombstone,
		       left_ssn, left_sum, left_sid, left_seq,
		       right_ssn, right_sum, right_sid, right_seq
		FROM operations WHERE document_id = $1
		ORDER BY ssn, sum, sid, seq`, documentID)
	if err != nil {
		return nil, fmt.Errorf("load operations since %s: %w: %v", documentID, rgaerr.ErrPersistenceFailure, err)
	}
	defer rows.Close()

	var ops []rga.Operation
	for rows.Next() {
		var (
			ssn, sum, sid, seq                             uint64
			value                                           *string
			tombstone                                       bool
			lssn, lsum, lsid, lseq, rssn, rsum, rsid, rseq *uint64
		)
		if err := rows.Scan(&ssn, &sum, &sid, &seq, &value, &tombstone,
			&lssn, &lsum, &lsid, &lseq, &rssn, &rsum, &rsid, &rseq); err != nil {
			return nil, fmt.Errorf("scan operation row: %w: %v", rgaerr.ErrPersistenceFailure, err)
		}
		s4 := s4vector.S4Vector{SSN: ssn, Sum: sum, SID: sid, Seq: seq}
		if cursor != nil && s4vector.Compare(s4, *cursor) != s4vector.Greater {
			continue
		}
		op := rga.Operation{S4: s4, DocumentID: documentID, OriginSID: sid}
		if tombstone {
			op.Kind = rga.KindDelete
		} else {
			op.Kind = rga.KindInsert
			if value != nil {
				op.Value = *value
			}
		}
		op.LeftS4 = anchorFromNullable(lssn, lsum, lsid, lseq)
		op.RightS4 = anchorFromNullable(rssn, rsum, rsid, rseq)
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations for %s: %w: %v", documentID, rgaerr.ErrPersistenceFailure, err)
	}
	return ops, nil
}

// OpenSession registers (document_id, sid) as active in replica_sessions
// and returns the ssn to bootstrap with, incrementing the prior session's
// ssn by one. The UPDATE's WHERE clause only matches an inactive row, so a
// row that's already active yields zero rows and pgx.ErrNoRows — that's
// the signal for a genuine (document_id, sid) collision, surfaced as a
// non-retryable rgaerr.ErrDuplicateSID via backoff.Permanent rather than
// burning the retry budget on something retries can't fix.
func (p *Postgres) OpenSession(ctx context.Context, documentID string, sid uint64) (uint64, error) {
	var ssn uint64
	err := withBackoff(ctx, p.maxElapsed, func() error {
		row := p.pool.QueryRow(ctx, `
			INSERT INTO replica_sessions (document_id, sid, ssn, active, started_at)
			VALUES ($1, $2, 1, true, now())
			ON CONFLICT (document_id, sid) DO UPDATE
				SET ssn = replica_sessions.ssn + 1, active = true, started_at = now()
				WHERE replica_sessions.active = false
			RETURNING ssn`, documentID, sid)
		scanErr := row.Scan(&ssn)
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return backoff.Permanent(rgaerr.ErrDuplicateSID)
		}
		return scanErr
	})
	if errors.Is(err, rgaerr.ErrDuplicateSID) {
		return 0, fmt.Errorf("open session %s/%d: %w", documentID, sid, rgaerr.ErrDuplicateSID)
	}
	if err != nil {
		return 0, fmt.Errorf("open session %s/%d: %w: %v", documentID, sid, rgaerr.ErrPersistenceFailure, err)
	}
	return ssn, nil
}

// CloseSession marks (document_id, sid) inactive so a subsequent
// OpenSession for the same pair (a reload within the same process, or a
// clean restart) is not rejected as a collision with itself.
func (p *Postgres) CloseSession(ctx context.Context, documentID string, sid uint64) error {
	return withBackoff(ctx, p.maxElapsed, func() error {
		_, execErr := p.pool.Exec(ctx, `
			UPDATE replica_sessions SET active = false
			WHERE document_id = $1 AND sid = $2`, documentID, sid)
		if execErr != nil {
			return fmt.Errorf("close session %s/%d: %w: %v", documentID, sid, rgaerr.ErrPersistenceFailure, execErr)
		}
		return nil
	})
}

func anchorFromNullable(ssn, sum, sid, seq *uint64) rga.Anchor {
	if ssn == nil {
		return rga.Anchor{}
	}
	return rga.Anchor{Valid: true, S4: s4vector.S4Vector{SSN: *ssn, Sum: deref(sum), SID: deref(sid), Seq: deref(seq)}}
}

func deref(v *uint64) uint64 {
	if v == nil {
		return 0
	}
	return *v
}
