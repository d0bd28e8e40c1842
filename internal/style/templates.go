package style

import (
	"strings"

	"golang.org/x/mod/semver"
)

// tableToken marks where the table name is substituted into a default
// template.
const tableToken = "{table}"

// defaultTemplates associates each engine line with the template synthesized
// when a table has no stored style. Entries are ordered by ascending minimum
// version; the last entry whose minimum is not above the engine version wins.
// Extend by appending a new entry, dispatch never changes.
var defaultTemplates = []struct {
	min    string
	source string
}{
	{
		min: "v0.0.0",
		source: "#" + tableToken + "{marker-fill: #FF6600;marker-opacity: 1;marker-width: 8;" +
			"marker-line-color: white;marker-line-width: 3;marker-line-opacity: 0.9;" +
			"marker-placement: point;marker-type: ellipse;marker-allow-overlap: true;}",
	},
	{
		// 2.1 renders point, line, and polygon geometries with separate rules.
		min: "v2.1.0",
		source: "#" + tableToken + "[mapnik-geometry-type=1] {marker-fill: #FF6600;marker-opacity: 1;" +
			"marker-width: 16;marker-line-color: white;marker-line-width: 3;marker-line-opacity: 0.9;" +
			"marker-placement: point;marker-type: ellipse;marker-allow-overlap: true;}" +
			"#" + tableToken + "[mapnik-geometry-type=2] {line-color:#FF6600; line-width:1; line-opacity: 0.7;}" +
			"#" + tableToken + "[mapnik-geometry-type=3] {polygon-fill:#FF6600; polygon-opacity: 0.7; " +
			"line-opacity:1; line-color: #FFFFFF;}",
	},
}

// DefaultStyle renders the default template for the given engine version with
// the table name substituted in. The synthesized style is never persisted.
func DefaultStyle(table, version string) string {
	source := defaultTemplates[0].source
	v := canonicalVersion(version)
	for _, entry := range defaultTemplates[1:] {
		if v != "" && semver.Compare(v, entry.min) >= 0 {
			source = entry.source
		}
	}
	return strings.ReplaceAll(source, tableToken, table)
}

func canonicalVersion(version string) string {
	v := strings.TrimSpace(version)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	return v
}
