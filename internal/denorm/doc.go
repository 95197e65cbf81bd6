// Package denorm reconstructs nested object graphs from the flat tables of
// a resource.State.
//
// Resolve walks the requested ids and, for every relation named in the
// inclusion spec, looks up related records (hasOne through the parent's
// foreign key, hasMany by scanning the related table for records whose
// foreign key equals the parent's id) and recurses with the nested spec.
//
// Results are memoized in a caller-owned Cache keyed by
// (resource type, id, relation path, inclusion spec); top-level lists are
// also keyed by the requested ids. A node is returned by the same
// pointer as on the previous call when its stored entity is the same
// pointer and every attached relation result is the same pointer; a list
// is reused when every element is. Since resource.State shares untouched
// entities between versions, mutations that do not reach the requested
// graph never change the returned reference, and mutations that do always
// do.
//
// Each Cache is one read site. Sites made with Share use the same arena,
// and an arena entry is evicted once no site's latest read reaches it.
package denorm
