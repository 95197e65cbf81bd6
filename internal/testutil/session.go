package testutil

// FixedSessionGenerator returns the same session id every time.
//
// Journal entries carry the session id, so a fixed id makes journals and
// golden traces byte-identical across runs.
//
// Thread-safety: FixedSessionGenerator is stateless and safe for concurrent use.
type FixedSessionGenerator struct {
	id string
}

// NewFixedSessionGenerator creates a generator for id.
// If id is empty, Generate() returns "test-session-default".
func NewFixedSessionGenerator(id string) *FixedSessionGenerator {
	if id == "" {
		id = "test-session-default"
	}
	return &FixedSessionGenerator{id: id}
}

// Generate returns the fixed session id.
func (g *FixedSessionGenerator) Generate() string {
	return g.id
}
