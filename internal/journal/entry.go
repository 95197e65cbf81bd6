package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/restcache/internal/ir"
	"github.com/roach88/restcache/internal/schema"
)

// Entry is one journaled transition.
type Entry struct {
	Session      string   `json:"session"`
	Seq          int64    `json:"seq"`
	Kind         ir.Kind  `json:"kind"`
	ResourceType string   `json:"resource_type"`
	RequestKey   string   `json:"request_key"`
	IDs          []string `json:"ids"`
	Payload      ir.Value `json:"payload,omitempty"`
	StateDigest  string   `json:"state_digest"`
}

// Action rebuilds the store action the entry was recorded from.
func (e Entry) Action() ir.Action {
	return ir.Action{
		Kind:         e.Kind,
		ResourceType: e.ResourceType,
		RequestKey:   e.RequestKey,
		Payload:      e.Payload,
		IDs:          e.IDs,
	}
}

// Session is a journaled recording.
type Session struct {
	ID             string `json:"id"`
	Entries        int    `json:"entries"`
	FormatVersion  string `json:"format_version"`
	LibraryVersion string `json:"library_version"`
}

// BeginSession registers a session and the schema it records under.
// Registering the same id twice is a no-op.
func (j *Journal) BeginSession(ctx context.Context, id string, s *schema.Schema) error {
	def, err := json.Marshal(map[string]schema.Definition{"resources": s.Definition()})
	if err != nil {
		return fmt.Errorf("begin session: marshal schema: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO sessions (id, schema_json, format_version, library_version)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, string(def), ir.FormatVersion, ir.LibraryVersion)
	if err != nil {
		return fmt.Errorf("begin session: %w", err)
	}
	return nil
}

// Append writes one entry. Uses ON CONFLICT DO NOTHING so re-appending the
// same (session, seq) is idempotent.
func (j *Journal) Append(ctx context.Context, e Entry) error {
	ids := e.IDs
	if ids == nil {
		ids = []string{}
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("append: marshal ids: %w", err)
	}

	var payload sql.NullString
	if e.Payload != nil {
		b, err := ir.MarshalCanonical(e.Payload)
		if err != nil {
			return fmt.Errorf("append: marshal payload: %w", err)
		}
		payload = sql.NullString{String: string(b), Valid: true}
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO transitions
		(session_id, seq, kind, resource_type, request_key, ids, payload, state_digest)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		e.Session,
		e.Seq,
		string(e.Kind),
		e.ResourceType,
		e.RequestKey,
		string(idsJSON),
		payload,
		e.StateDigest,
	)
	if err != nil {
		return fmt.Errorf("append: %w", err)
	}
	return nil
}
