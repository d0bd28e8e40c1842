// Package tenant resolves inbound host identifiers to tenant records and
// decides whether a request acts as the tenant owner or anonymously.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"tilegate/internal/directory"
)

// Record describes a resolved tenant. It is read-only state owned by the
// external directory.
type Record struct {
	Host     string
	ID       string
	Database string
}

// UnknownError reports a host with no directory entry. This is an operator
// facing configuration problem, not a client error.
type UnknownError struct {
	Host string
}

func (e *UnknownError) Error() string {
	return fmt.Sprintf("missing %s's dbname in redis (try CARTODB/script/restore_redis)", e.Host)
}

// Decision is the per-request authorization outcome. It is derived on every
// request and never persisted.
type Decision int

const (
	Anonymous Decision = iota
	AuthenticatedOwner
)

func (d Decision) String() string {
	if d == AuthenticatedOwner {
		return "owner"
	}
	return "anonymous"
}

// Credentials carries the bearer token supplied by the request. Both query
// parameter spellings remain accepted; either matching the live secret is
// sufficient.
type Credentials struct {
	APIKey string
	MapKey string
}

// CredentialsFromQuery extracts the credential parameters from a parsed query
// string.
func CredentialsFromQuery(query url.Values) Credentials {
	return Credentials{
		APIKey: query.Get("api_key"),
		MapKey: query.Get("map_key"),
	}
}

func (c Credentials) empty() bool {
	return c.APIKey == "" && c.MapKey == ""
}

// Resolver maps host identifiers to tenant records via the directory.
type Resolver struct {
	dir directory.Directory
}

func NewResolver(dir directory.Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve looks up the tenant owning the given host identifier. The host is
// matched verbatim; a directory miss yields UnknownError.
func (r *Resolver) Resolve(ctx context.Context, host string) (Record, error) {
	if host == "" {
		return Record{}, &UnknownError{Host: host}
	}
	database, err := r.dir.Get(ctx, directory.DatabaseKey(host))
	if errors.Is(err, directory.ErrNotFound) {
		return Record{}, &UnknownError{Host: host}
	}
	if err != nil {
		return Record{}, fmt.Errorf("resolve tenant %q: %w", host, err)
	}
	rec := Record{Host: host, Database: database}
	// The numeric id is informational; older directories may not carry it.
	if id, err := r.dir.Get(ctx, directory.IDKey(host)); err == nil {
		rec.ID = id
	}
	return rec, nil
}

// HostIdentifier extracts the tenant host from an inbound Host header,
// dropping any port while keeping the name itself untouched.
func HostIdentifier(hostHeader string) string {
	host := hostHeader
	if idx := strings.LastIndex(host, ":"); idx != -1 && !strings.Contains(host[idx+1:], "]") {
		if idx > strings.LastIndex(host, "]") {
			host = host[:idx]
		}
	}
	return strings.Trim(host, "[]")
}

// Authority decides whether request credentials authenticate the tenant
// owner.
type Authority struct {
	dir directory.Directory
}

func NewAuthority(dir directory.Directory) *Authority {
	return &Authority{dir: dir}
}

// Authorize compares the supplied credentials against the tenant's single
// live secret. A missing secret, missing credential, or any mismatch --
// including a value that was valid before a rotation -- degrades to
// Anonymous. The check has no side effects.
func (a *Authority) Authorize(ctx context.Context, rec Record, creds Credentials) (Decision, error) {
	if creds.empty() {
		return Anonymous, nil
	}
	secret, err := a.dir.Get(ctx, directory.SecretKey(rec.Host))
	if errors.Is(err, directory.ErrNotFound) {
		return Anonymous, nil
	}
	if err != nil {
		return Anonymous, fmt.Errorf("authorize tenant %q: %w", rec.Host, err)
	}
	if secret == "" {
		return Anonymous, nil
	}
	if creds.APIKey == secret || creds.MapKey == secret {
		return AuthenticatedOwner, nil
	}
	return Anonymous, nil
}
