package style

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"tilegate/internal/directory"
)

type fakeDirectory struct {
	values map[string]string
	fail   error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{values: make(map[string]string)}
}

func (f *fakeDirectory) Get(_ context.Context, key string) (string, error) {
	if f.fail != nil {
		return "", f.fail
	}
	value, ok := f.values[key]
	if !ok {
		return "", directory.ErrNotFound
	}
	return value, nil
}

func (f *fakeDirectory) Set(_ context.Context, key, value string) error {
	if f.fail != nil {
		return f.fail
	}
	f.values[key] = value
	return nil
}

func (f *fakeDirectory) Delete(_ context.Context, key string) error {
	if f.fail != nil {
		return f.fail
	}
	delete(f.values, key)
	return nil
}

func TestGetSynthesizesDefaultWhenAbsent(t *testing.T) {
	store := NewDirectoryStore(newFakeDirectory(), "2.1.0")
	record, err := store.Get(context.Background(), "cartodb_test_user_1_db", "", "my_table", false)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.Version != "2.1.0" {
		t.Fatalf("expected engine version tag, got %q", record.Version)
	}
	if record.Style != DefaultStyle("my_table", "2.1.0") {
		t.Fatalf("unexpected default style %q", record.Style)
	}
	if !strings.Contains(record.Style, "#my_table[mapnik-geometry-type=1]") {
		t.Fatalf("table name not substituted: %q", record.Style)
	}
}

func TestDefaultStylePerVersion(t *testing.T) {
	old := DefaultStyle("t", "2.0.0")
	if strings.Contains(old, "mapnik-geometry-type") {
		t.Fatalf("2.0.0 default should be the single point rule: %q", old)
	}
	if !strings.Contains(old, "marker-width: 8") {
		t.Fatalf("2.0.0 default marker width: %q", old)
	}
	modern := DefaultStyle("t", "2.1.1")
	if !strings.Contains(modern, "[mapnik-geometry-type=3]") {
		t.Fatalf("2.1.x default should style polygons: %q", modern)
	}
}

func TestPutThenGetRoundTrip(t *testing.T) {
	store := NewDirectoryStore(newFakeDirectory(), "2.1.0")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		source := fmt.Sprintf("Map { background-color:#ff%02x%02x; }", i, i)
		if err := store.Put(ctx, "db", "", "t", source, "2.0.2", false); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
		record, err := store.Get(ctx, "db", "", "t", false)
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		if record.Style != source || record.Version != "2.0.2" {
			t.Fatalf("round trip %d: got %+v", i, record)
		}
	}
}

func TestPutValidationFailureLeavesRecordUntouched(t *testing.T) {
	store := NewDirectoryStore(newFakeDirectory(), "2.1.0")
	ctx := context.Background()

	if err := store.Put(ctx, "db", "", "t", "Map { background-color:#fff; }", "", false); err != nil {
		t.Fatalf("put: %v", err)
	}

	err := store.Put(ctx, "db", "", "t", "#t{backgxxxxxround-color:#fff;foo:bar}", "", false)
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(validation.Violations) != 2 {
		t.Fatalf("expected both violations, got %v", validation.Violations)
	}
	if !strings.Contains(validation.Violations[0], "backgxxxxxround-color") {
		t.Fatalf("violation order: %v", validation.Violations)
	}
	if !strings.Contains(validation.Violations[1], "foo") {
		t.Fatalf("violation order: %v", validation.Violations)
	}

	record, err := store.Get(ctx, "db", "", "t", false)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.Style != "Map { background-color:#fff; }" {
		t.Fatalf("record mutated by failed put: %q", record.Style)
	}
}

func TestGetConvertReTagsWithoutTransform(t *testing.T) {
	store := NewDirectoryStore(newFakeDirectory(), "2.1.0")
	ctx := context.Background()
	source := "Map { background-color:#fff; }"
	if err := store.Put(ctx, "db", "", "t", source, "2.0.2", false); err != nil {
		t.Fatalf("put: %v", err)
	}

	record, err := store.Get(ctx, "db", "", "t", true)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.Style != source {
		t.Fatalf("no transform applies, source must pass through: %q", record.Style)
	}
	if record.Version != "2.1.0" {
		t.Fatalf("version must be re-tagged, got %q", record.Version)
	}
}

func TestGetConvertAppliesMarkerTransform(t *testing.T) {
	store := NewDirectoryStore(newFakeDirectory(), "2.1.0")
	ctx := context.Background()
	if err := store.Put(ctx, "db", "", "t", "#t{marker-width:10;marker-fill:black}", "2.0.0", false); err != nil {
		t.Fatalf("put: %v", err)
	}
	record, err := store.Get(ctx, "db", "", "t", true)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !strings.Contains(record.Style, "marker-width:20") {
		t.Fatalf("marker sizes should double across the 2.1 boundary: %q", record.Style)
	}
}

func TestPutConvertStoresMigratedRecord(t *testing.T) {
	store := NewDirectoryStore(newFakeDirectory(), "2.1.0")
	ctx := context.Background()
	source := "Map { background-color:#fff; }"
	if err := store.Put(ctx, "db", "", "t", source, "2.0.2", true); err != nil {
		t.Fatalf("put: %v", err)
	}
	record, err := store.Get(ctx, "db", "", "t", false)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.Style != source || record.Version != "2.1.0" {
		t.Fatalf("expected engine-tagged record, got %+v", record)
	}
}

func TestDeleteRestoresDefault(t *testing.T) {
	store := NewDirectoryStore(newFakeDirectory(), "2.1.0")
	ctx := context.Background()
	if err := store.Put(ctx, "db", "", "t", "Map { background-color:#fff; }", "", false); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Delete(ctx, "db", "", "t"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// Deleting again is not an error.
	if err := store.Delete(ctx, "db", "", "t"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	record, err := store.Get(ctx, "db", "", "t", false)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.Style != DefaultStyle("t", "2.1.0") {
		t.Fatalf("expected default after delete, got %q", record.Style)
	}
}

func TestDecodeRecordToleratesLegacyBareValue(t *testing.T) {
	dir := newFakeDirectory()
	dir.values["map_style|db||t"] = "#t{marker-fill:black}"
	store := NewDirectoryStore(dir, "2.1.0")
	record, err := store.Get(context.Background(), "db", "", "t", false)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.Style != "#t{marker-fill:black}" || record.Version != "2.0.0" {
		t.Fatalf("legacy decode: %+v", record)
	}
}

func TestMigrateIdentityForUnknownPair(t *testing.T) {
	source := "#t{marker-width:10}"
	if got := Migrate(source, "2.1.0", "2.1.1"); got != source {
		t.Fatalf("no rule for 2.1.x pair, got %q", got)
	}
	if got := Migrate(source, "2.1.0", "2.1.0"); got != source {
		t.Fatalf("same-version migrate must be identity, got %q", got)
	}
}
