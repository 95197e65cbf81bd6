package ir

// Version constants stamped on journal entries.
const (
	// FormatVersion is the version of the action/request record format.
	FormatVersion = "1"

	// LibraryVersion is the restcache library version.
	LibraryVersion = "0.1.0"
)
