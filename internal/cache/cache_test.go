package cache

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"tilegate/internal/observability/metrics"
)

func TestChannelSortsAndDeduplicates(t *testing.T) {
	first := Channel("cartodb_test_user_1_db", "roads", "parks", "roads")
	second := Channel("cartodb_test_user_1_db", "parks", "roads")
	if first != second {
		t.Fatalf("channel order dependent: %q vs %q", first, second)
	}
	if first != "cartodb_test_user_1_db:parks,roads" {
		t.Fatalf("channel = %q", first)
	}
}

func TestChannelSingleTable(t *testing.T) {
	got := Channel("cartodb_test_user_1_db", "my_table")
	if got != "cartodb_test_user_1_db:my_table" {
		t.Fatalf("channel = %q", got)
	}
}

func TestChannelIgnoresEmptyTables(t *testing.T) {
	got := Channel("db", "a", "", "  ")
	if got != "db:a" {
		t.Fatalf("channel = %q", got)
	}
}

func TestPolicyHeader(t *testing.T) {
	if got := PolicyHeader(false); got != "no-cache,max-age=0,must-revalidate,public" {
		t.Fatalf("default policy = %q", got)
	}
	if got := PolicyHeader(true); got != "public,max-age=31536000" {
		t.Fatalf("persist policy = %q", got)
	}
}

func TestTablesFromSQL(t *testing.T) {
	cases := []struct {
		name string
		sql  string
		want []string
	}{
		{
			name: "select single table",
			sql:  "SELECT * FROM roads WHERE speed > 50",
			want: []string{"roads"},
		},
		{
			name: "join",
			sql:  "select r.id from roads r join parks p on r.id = p.road_id",
			want: []string{"roads", "parks"},
		},
		{
			name: "schema qualified",
			sql:  `SELECT * FROM public.roads`,
			want: []string{"public.roads"},
		},
		{
			name: "quoted identifier",
			sql:  `SELECT * FROM "Roads"`,
			want: []string{"Roads"},
		},
		{
			name: "update and insert",
			sql:  "UPDATE roads SET speed = 1; INSERT INTO audit_log VALUES (1)",
			want: []string{"roads", "audit_log"},
		},
		{
			name: "no tables",
			sql:  "SELECT 1",
			want: nil,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := TablesFromSQL(tc.sql)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("tables = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestHTTPPurgerSendsChannelHeader(t *testing.T) {
	var gotMethod, gotChannel string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotChannel = r.Header.Get("Invalidation-Channel")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	purger := NewHTTPPurger(server.URL, server.Client(), nil)
	if err := purger.Purge(context.Background(), "db:roads"); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if gotMethod != "PURGE" {
		t.Fatalf("method = %q", gotMethod)
	}
	if gotChannel != "db:roads" {
		t.Fatalf("channel header = %q", gotChannel)
	}
}

func TestHTTPPurgerReportsUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusBadGateway)
	}))
	defer server.Close()

	purger := NewHTTPPurger(server.URL, server.Client(), nil)
	if err := purger.Purge(context.Background(), "db:roads"); err == nil {
		t.Fatal("expected error for 502 response")
	}
}

type failingPurger struct{ err error }

func (p failingPurger) Purge(context.Context, string) error { return p.err }

func TestInvalidateSwallowsErrorsAndCounts(t *testing.T) {
	recorder := metrics.New()
	Invalidate(context.Background(), failingPurger{err: errors.New("edge unreachable")}, recorder, "db:roads")

	purges, failures := recorder.CachePurgeCounts()
	if purges != 1 {
		t.Fatalf("purges = %d, want 1", purges)
	}
	if failures != 1 {
		t.Fatalf("failures = %d, want 1", failures)
	}
}

func TestInvalidateNilPurgerIsNoop(t *testing.T) {
	recorder := metrics.New()
	Invalidate(context.Background(), nil, recorder, "db:roads")

	purges, failures := recorder.CachePurgeCounts()
	if purges != 1 || failures != 0 {
		t.Fatalf("purges=%d failures=%d, want 1/0", purges, failures)
	}
}
