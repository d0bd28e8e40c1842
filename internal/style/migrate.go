package style

import (
	"regexp"
	"strconv"

	"golang.org/x/mod/semver"
)

// A transform rewrites style syntax between engine lines. Migration is a
// best-effort version bump: when no transform applies the source passes
// through unchanged and only the version tag moves.
type transform struct {
	name    string
	applies func(from, to string) bool
	apply   func(source string) string
}

var markerSizeRe = regexp.MustCompile(`(marker-(?:width|height)\s*:\s*)(\d+(?:\.\d+)?)`)

// transforms is ordered; every entry whose range matches is applied in turn.
// Extend by appending entries, dispatch never changes.
var transforms = []transform{
	{
		// 2.1 markers measure diameter where 2.0 measured radius.
		name: "marker-size-2.0-to-2.1",
		applies: func(from, to string) bool {
			f, t := canonicalVersion(from), canonicalVersion(to)
			if f == "" || t == "" {
				return false
			}
			return semver.Compare(f, "v2.1.0") < 0 && semver.Compare(t, "v2.1.0") >= 0
		},
		apply: func(source string) string {
			return markerSizeRe.ReplaceAllStringFunc(source, func(match string) string {
				parts := markerSizeRe.FindStringSubmatch(match)
				size, err := strconv.ParseFloat(parts[2], 64)
				if err != nil {
					return match
				}
				return parts[1] + formatSize(size*2)
			})
		},
	},
}

func formatSize(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Migrate rewrites source from one engine version to another and returns the
// migrated source. The caller re-tags the record with the target version
// regardless of whether any rule fired.
func Migrate(source, from, to string) string {
	if from == to {
		return source
	}
	out := source
	for _, t := range transforms {
		if t.applies(from, to) {
			out = t.apply(out)
		}
	}
	return out
}

// versionOrDefault falls back to the configured engine version when a record
// or request does not declare one.
func versionOrDefault(version, fallback string) string {
	if version == "" {
		return fallback
	}
	return version
}
