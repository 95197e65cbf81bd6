// Package journal records committed store transitions in SQLite.
//
// Every transition a resource.Store commits is appended as one row:
//
//	(session, seq, kind, resource_type, request_key, ids, payload, state_digest)
//
// Payloads are stored as canonical JSON and the state digest is the
// content hash of the whole store after the transition, so a journal can
// be replayed onto a fresh store and checked step by step (see Replay).
//
// The journal is tooling for traces and determinism checks. The cache
// never restores itself from it.
//
// Each Recorder writes one session, identified by a UUIDv7 so sessions
// sort by creation time. A session also stores the schema definition it
// was recorded under, which makes a journal self-contained for replay.
package journal
