package models

// WatchRule is the monitoring configuration for one source directory.
// Rules are built once at startup and never mutated afterwards.
type WatchRule struct {
	Name             string   // Operator label stored on every record (channel id)
	Directory        string   // Absolute path of the watched directory
	Prefix           string   // Required filename prefix, case-sensitive
	DateFormat       string   // Date pattern as configured (YYYYMMDD, %d%m%Y, ...)
	DateLayout       string   // Go time layout compiled from DateFormat
	Extensions       []string // Allowed extensions including the leading dot
	VersionSeparator string   // Optional separator between date and version token
}

// Label returns the rule name, falling back to the directory.
func (r WatchRule) Label() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Directory
}

// HasExtension reports whether ext is one of the rule's allowed extensions.
// Matching is exact, so ".M3U" does not satisfy ".m3u".
func (r WatchRule) HasExtension(ext string) bool {
	for _, allowed := range r.Extensions {
		if allowed == ext {
			return true
		}
	}
	return false
}
