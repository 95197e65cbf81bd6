package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/restcache/internal/ir"
	"github.com/roach88/restcache/internal/schema"
)

// Sessions lists recorded sessions, oldest first.
func (j *Journal) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT s.id, COUNT(t.seq), s.format_version, s.library_version
		FROM sessions s
		LEFT JOIN transitions t ON t.session_id = s.id
		GROUP BY s.id
		ORDER BY s.rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.Entries, &s.FormatVersion, &s.LibraryVersion); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// LatestSession returns the id of the most recently begun session.
func (j *Journal) LatestSession(ctx context.Context) (string, error) {
	var id string
	err := j.db.QueryRowContext(ctx, `
		SELECT id FROM sessions ORDER BY rowid DESC LIMIT 1
	`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoSession
	}
	if err != nil {
		return "", fmt.Errorf("latest session: %w", err)
	}
	return id, nil
}

// SessionSchema rebuilds the schema a session was recorded under.
// Sessions written in another record format are rejected with
// ErrFormatVersion.
func (j *Journal) SessionSchema(ctx context.Context, session string) (*schema.Schema, error) {
	var def, format string
	err := j.db.QueryRowContext(ctx, `
		SELECT schema_json, format_version FROM sessions WHERE id = ?
	`, session).Scan(&def, &format)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrNoSession, session)
	}
	if err != nil {
		return nil, fmt.Errorf("session schema: %w", err)
	}
	if format != ir.FormatVersion {
		return nil, fmt.Errorf("%w: session %q has %q, want %q", ErrFormatVersion, session, format, ir.FormatVersion)
	}
	return schema.Parse("session "+session, schema.FormatJSON, []byte(def))
}

// Entries returns every entry of a session ordered by seq.
// Returns an empty slice (not nil) for a session with no entries.
func (j *Journal) Entries(ctx context.Context, session string) ([]Entry, error) {
	return j.queryEntries(ctx, `
		SELECT session_id, seq, kind, resource_type, request_key, ids, payload, state_digest
		FROM transitions
		WHERE session_id = ?
		ORDER BY seq ASC
	`, session)
}

// EntriesForRequest returns the entries of a session that target
// requestKey, ordered by seq.
func (j *Journal) EntriesForRequest(ctx context.Context, session, requestKey string) ([]Entry, error) {
	return j.queryEntries(ctx, `
		SELECT session_id, seq, kind, resource_type, request_key, ids, payload, state_digest
		FROM transitions
		WHERE session_id = ? AND request_key = ?
		ORDER BY seq ASC
	`, session, requestKey)
}

func (j *Journal) queryEntries(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}
	return entries, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e       Entry
		kind    string
		idsJSON string
		payload sql.NullString
	)
	if err := rows.Scan(&e.Session, &e.Seq, &kind, &e.ResourceType, &e.RequestKey, &idsJSON, &payload, &e.StateDigest); err != nil {
		return Entry{}, fmt.Errorf("scan transition: %w", err)
	}
	e.Kind = ir.Kind(kind)

	if err := json.Unmarshal([]byte(idsJSON), &e.IDs); err != nil {
		return Entry{}, fmt.Errorf("transition %d: decode ids: %w", e.Seq, err)
	}
	if len(e.IDs) == 0 {
		e.IDs = nil
	}

	if payload.Valid {
		v, err := ir.ParseJSON([]byte(payload.String))
		if err != nil {
			return Entry{}, fmt.Errorf("transition %d: decode payload: %w", e.Seq, err)
		}
		e.Payload = v
	}
	return e, nil
}
