// Package mapdb is the gateway's view of the per-tenant map databases: table
// privacy, infowindow definitions, and map metadata. Privacy is consulted on
// every read and never cached here, since it can change out of band.
package mapdb

import (
	"context"
	"encoding/json"
)

// Layer is the database collaborator contract consumed by the request
// dispatcher.
type Layer interface {
	// IsPrivate reports whether reads of the table require an authenticated
	// owner.
	IsPrivate(ctx context.Context, database, table string) (bool, error)
	// Infowindow returns the table's interaction-layer definition, or ok
	// false when none is configured.
	Infowindow(ctx context.Context, database, table string) (string, bool, error)
	// Metadata returns the table's map metadata document untransformed.
	Metadata(ctx context.Context, database, table string) (json.RawMessage, error)
}
