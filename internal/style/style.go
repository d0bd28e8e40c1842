// Package style persists per-tenant, per-table style records and migrates
// their syntax between rendering-engine versions.
package style

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"tilegate/internal/directory"
	"tilegate/internal/style/carto"
)

// Record is a styling-language source tagged with its target engine version.
type Record struct {
	Style   string `json:"style"`
	Version string `json:"version"`
}

// ValidationError carries every independent violation the styling-language
// checker reported, in source order.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Violations, "; ")
}

// Store exposes the datastore operations the request dispatcher needs for
// style documents.
type Store interface {
	Get(ctx context.Context, database, owner, table string, convert bool) (Record, error)
	Put(ctx context.Context, database, owner, table, source, declaredVersion string, convert bool) error
	Delete(ctx context.Context, database, owner, table string) error
	EngineVersion() string
}

// ValidateFunc checks a source against an engine version and returns the
// ordered violations, nil when the source is clean.
type ValidateFunc func(source, version string) []string

// DirectoryStore keeps style records in the key-value directory, one live
// record per (database, owner, table) key. It holds no cross-request state;
// the directory is the sole source of truth.
type DirectoryStore struct {
	dir           directory.Directory
	engineVersion string
	validate      ValidateFunc
}

// Option tunes a DirectoryStore.
type Option func(*DirectoryStore)

// WithValidator replaces the CartoCSS checker, for tests and alternative
// engines.
func WithValidator(validate ValidateFunc) Option {
	return func(s *DirectoryStore) {
		if validate != nil {
			s.validate = validate
		}
	}
}

// NewDirectoryStore builds a store targeting the given engine version.
func NewDirectoryStore(dir directory.Directory, engineVersion string, opts ...Option) *DirectoryStore {
	store := &DirectoryStore{
		dir:           dir,
		engineVersion: engineVersion,
		validate:      carto.Validate,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// EngineVersion reports the rendering-engine version the store targets.
func (s *DirectoryStore) EngineVersion() string {
	return s.engineVersion
}

// Get returns the stored record, or a synthesized default when none exists.
// With convert set, the stored source is migrated to the engine version and
// re-tagged; the default is already engine-versioned so conversion is a
// no-op for it.
func (s *DirectoryStore) Get(ctx context.Context, database, owner, table string, convert bool) (Record, error) {
	value, err := s.dir.Get(ctx, directory.StyleKey(database, owner, table))
	if errors.Is(err, directory.ErrNotFound) {
		return Record{
			Style:   DefaultStyle(table, s.engineVersion),
			Version: s.engineVersion,
		}, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("style get %s/%s: %w", database, table, err)
	}
	record := decodeRecord(value)
	if convert {
		record.Style = Migrate(record.Style, record.Version, s.engineVersion)
		record.Version = s.engineVersion
	}
	return record, nil
}

// Put validates and stores a record. Validation failure leaves the previous
// record, or its absence, untouched. When convert is set the source is
// migrated to the engine version before validation and stored with that
// version tag.
func (s *DirectoryStore) Put(ctx context.Context, database, owner, table, source, declaredVersion string, convert bool) error {
	version := versionOrDefault(strings.TrimSpace(declaredVersion), s.engineVersion)
	if convert {
		source = Migrate(source, version, s.engineVersion)
		version = s.engineVersion
	}
	if violations := s.validate(source, version); len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	payload, err := json.Marshal(Record{Style: source, Version: version})
	if err != nil {
		return fmt.Errorf("style encode %s/%s: %w", database, table, err)
	}
	if err := s.dir.Set(ctx, directory.StyleKey(database, owner, table), string(payload)); err != nil {
		return fmt.Errorf("style put %s/%s: %w", database, table, err)
	}
	return nil
}

// Delete removes the record. Deleting a nonexistent record is not an error;
// subsequent reads synthesize the default again.
func (s *DirectoryStore) Delete(ctx context.Context, database, owner, table string) error {
	if err := s.dir.Delete(ctx, directory.StyleKey(database, owner, table)); err != nil {
		return fmt.Errorf("style delete %s/%s: %w", database, table, err)
	}
	return nil
}

// decodeRecord tolerates the historical value layout where the key held the
// bare source string with no version tag; those records predate the 2.1
// line.
func decodeRecord(value string) Record {
	var record Record
	if err := json.Unmarshal([]byte(value), &record); err == nil && record.Style != "" {
		return record
	}
	return Record{Style: value, Version: "2.0.0"}
}
