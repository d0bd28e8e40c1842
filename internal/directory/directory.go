// Package directory provides the key-value directory shared by the tile
// gateway components. It holds the tenant host to database mapping, the
// per-tenant live secret, and persisted style records.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound reports an absent key. Callers distinguish a genuine miss from
// transport failures through errors.Is.
var ErrNotFound = errors.New("directory: key not found")

// Directory is the minimal key-value contract the gateway needs. The backing
// store is externally synchronized; values read here are never cached across
// requests.
type Directory interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// DatabaseKey returns the directory key holding the backing database name
// for a tenant host.
func DatabaseKey(host string) string {
	return fmt.Sprintf("rails:users:%s:database_name", host)
}

// SecretKey returns the directory key holding the single live credential for
// a tenant host. Rotation replaces the value in place, so a previously valid
// credential stops matching the moment a new one is written.
func SecretKey(host string) string {
	return fmt.Sprintf("rails:users:%s:map_key", host)
}

// IDKey returns the directory key holding the numeric tenant identifier.
func IDKey(host string) string {
	return fmt.Sprintf("rails:users:%s:id", host)
}

// StyleKey returns the directory key for a style record. The owner component
// is empty for tenant-wide styles, matching the historical key layout.
func StyleKey(database, owner, table string) string {
	return strings.Join([]string{"map_style", database, owner, table}, "|")
}
