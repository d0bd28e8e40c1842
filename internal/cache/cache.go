// Package cache computes invalidation channels for rendered responses and
// pushes purges to the edge cache when table-backed state changes.
package cache

import (
	"regexp"
	"sort"
	"strings"
)

// Cache policies surfaced through the Cache-Control header. Tile responses
// default to the revalidating policy; callers opt into the persistent one
// with the cache_policy=persist query parameter.
const (
	PolicyDefault = "no-cache,max-age=0,must-revalidate,public"
	PolicyPersist = "public,max-age=31536000"
)

// Channel builds the invalidation channel for a set of tables inside one
// tenant database. The table list is deduplicated and sorted so every
// permutation of the same set maps to the same channel.
func Channel(database string, tables ...string) string {
	seen := make(map[string]struct{}, len(tables))
	unique := make([]string, 0, len(tables))
	for _, table := range tables {
		table = strings.TrimSpace(table)
		if table == "" {
			continue
		}
		if _, ok := seen[table]; ok {
			continue
		}
		seen[table] = struct{}{}
		unique = append(unique, table)
	}
	sort.Strings(unique)
	return database + ":" + strings.Join(unique, ",")
}

// PolicyHeader maps the cache_policy request parameter to a Cache-Control
// value.
func PolicyHeader(persist bool) string {
	if persist {
		return PolicyPersist
	}
	return PolicyDefault
}

var sqlTableRe = regexp.MustCompile(`(?i)\b(?:from|join|update|insert\s+into)\s+("?[A-Za-z_][A-Za-z0-9_.]*"?)`)

// TablesFromSQL extracts the table names referenced by an inline sql
// override so they can join the path table in the response channel. The
// scan is intentionally shallow: subquery aliases and quoted schemas pass
// through as written, matching what the invalidation layer keys on.
func TablesFromSQL(sql string) []string {
	matches := sqlTableRe.FindAllStringSubmatch(sql, -1)
	if len(matches) == 0 {
		return nil
	}
	tables := make([]string, 0, len(matches))
	for _, match := range matches {
		name := strings.Trim(match[1], `"`)
		if name == "" {
			continue
		}
		tables = append(tables, name)
	}
	return tables
}
