package render

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"tilegate/internal/observability/metrics"
)

func TestHTTPEngineRequiresBaseURL(t *testing.T) {
	if _, err := NewHTTPEngine(HTTPEngineConfig{}); err == nil {
		t.Fatal("expected error for empty base URL")
	}
}

func TestTilePostsRequestAndReturnsBytes(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	var got Request
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/tiles" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write(png)
	}))
	defer server.Close()

	engine, err := NewHTTPEngine(HTTPEngineConfig{BaseURL: server.URL, Token: "render-token", HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	req := Request{
		Database:     "cartodb_test_user_1_db",
		Table:        "my_table",
		Style:        "#my_table { marker-fill: #fff; }",
		StyleVersion: "2.1.0",
		Z:            13, X: 4011, Y: 3088,
	}
	body, err := engine.Tile(context.Background(), req)
	if err != nil {
		t.Fatalf("tile: %v", err)
	}
	if !reflect.DeepEqual(body, png) {
		t.Fatalf("body = %v", body)
	}
	if gotAuth != "Bearer render-token" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if got.Table != "my_table" || got.Z != 13 || got.StyleVersion != "2.1.0" {
		t.Fatalf("engine saw %+v", got)
	}
}

func TestGridRejectsMalformedDocument(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	}))
	defer server.Close()

	engine, err := NewHTTPEngine(HTTPEngineConfig{BaseURL: server.URL, HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if _, err := engine.Grid(context.Background(), Request{Table: "my_table"}); err == nil {
		t.Fatal("expected error for malformed grid")
	}
}

func TestFailurePreservesViolationOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"errors": []string{"style.mss:1:8 Unrecognized rule: backgroound-color", "style.mss:2:2 Unrecognized rule: polygon-fi"},
		})
	}))
	defer server.Close()

	engine, err := NewHTTPEngine(HTTPEngineConfig{BaseURL: server.URL, HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	_, err = engine.Tile(context.Background(), Request{Table: "my_table"})
	var renderErr *Error
	if !errors.As(err, &renderErr) {
		t.Fatalf("error type %T: %v", err, err)
	}
	want := []string{
		"style.mss:1:8 Unrecognized rule: backgroound-color",
		"style.mss:2:2 Unrecognized rule: polygon-fi",
	}
	if !reflect.DeepEqual(renderErr.Violations, want) {
		t.Fatalf("violations = %v", renderErr.Violations)
	}
}

func TestFailureWithPlainBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "mapnik worker crashed", http.StatusInternalServerError)
	}))
	defer server.Close()

	engine, err := NewHTTPEngine(HTTPEngineConfig{BaseURL: server.URL, HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	_, err = engine.Grid(context.Background(), Request{Table: "my_table"})
	var renderErr *Error
	if !errors.As(err, &renderErr) {
		t.Fatalf("error type %T: %v", err, err)
	}
	if len(renderErr.Violations) != 1 || renderErr.Violations[0] != "mapnik worker crashed" {
		t.Fatalf("violations = %v", renderErr.Violations)
	}
}

func TestEngineCountsRenders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"grid":[]}`))
	}))
	defer server.Close()

	recorder := metrics.New()
	engine, err := NewHTTPEngine(HTTPEngineConfig{BaseURL: server.URL, HTTPClient: server.Client(), Metrics: recorder})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if _, err := engine.Grid(context.Background(), Request{Table: "my_table"}); err != nil {
		t.Fatalf("grid: %v", err)
	}
	rendered, failed := recorder.RenderCounts()
	if rendered["grid"] != 1 {
		t.Fatalf("rendered = %v", rendered)
	}
	if len(failed) != 0 {
		t.Fatalf("failed = %v", failed)
	}
}
