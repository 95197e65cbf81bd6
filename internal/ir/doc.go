// Package ir provides the foundational value and record types for restcache.
//
// This package contains type definitions and pure helpers only. Every other
// internal package imports ir; ir imports nothing internal, so it stays the
// bottom layer of the dependency graph.
//
// Key design constraints:
//   - REST payloads are represented as sealed Value trees (Object, Array, ...)
//   - Integers are decoded as int64 (json.Number), never through float64
//   - Request identity is content-addressed: RequestHash over canonical JSON
//   - Request and Action records are values; a transition always builds new ones
package ir
