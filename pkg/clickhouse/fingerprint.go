package clickhouse

import (
	"fmt"
	"strings"
)

// Fingerprint identifies the database environment a plan was created
// against. Two fingerprints match when both the endpoint origin and the
// database name are equal.
//
// A zero Fingerprint means "environment unbound": plans created without a
// live configuration carry one and are accepted against any environment.
type Fingerprint struct {
	// Origin is the normalized endpoint (host:port, lowercased, scheme
	// stripped)
	Origin string `json:"origin"`

	// Database is the database name the connection targets
	Database string `json:"database"`
}

// NewFingerprint builds a Fingerprint from a connection string and database
// name. The connection string is normalized so that equivalent DSNs
// ("clickhouse://Host:9000", "host:9000") produce the same origin.
func NewFingerprint(dsn, database string) Fingerprint {
	origin := strings.TrimSpace(dsn)

	// Strip any scheme prefix
	if idx := strings.Index(origin, "://"); idx >= 0 {
		origin = origin[idx+3:]
	}

	// Drop credentials, path, and query components
	if idx := strings.LastIndex(origin, "@"); idx >= 0 {
		origin = origin[idx+1:]
	}
	if idx := strings.IndexAny(origin, "/?"); idx >= 0 {
		origin = origin[:idx]
	}

	return Fingerprint{
		Origin:   strings.ToLower(origin),
		Database: database,
	}
}

// IsZero reports whether the fingerprint is unbound.
func (f Fingerprint) IsZero() bool {
	return f.Origin == "" && f.Database == ""
}

// Matches reports whether two fingerprints identify the same environment.
func (f Fingerprint) Matches(other Fingerprint) bool {
	return f.Origin == other.Origin && f.Database == other.Database
}

// String returns a human-readable form used in error messages and logs.
func (f Fingerprint) String() string {
	if f.IsZero() {
		return "<unbound>"
	}
	return fmt.Sprintf("%s/%s", f.Origin, f.Database)
}
