package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tilegate/internal/observability/metrics"
)

// HTTPEngineConfig describes the rendering engine endpoint.
type HTTPEngineConfig struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Metrics    *metrics.Recorder
}

// HTTPEngine calls a rendering service exposing POST /v1/tiles and
// POST /v1/grids, both taking the full Request document.
type HTTPEngine struct {
	config HTTPEngineConfig
}

// NewHTTPEngine validates the endpoint configuration.
func NewHTTPEngine(cfg HTTPEngineConfig) (*HTTPEngine, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("render engine base URL is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HTTPEngine{config: cfg}, nil
}

type engineFailure struct {
	Errors []string `json:"errors"`
	Error  string   `json:"error"`
}

func (e *HTTPEngine) Tile(ctx context.Context, req Request) ([]byte, error) {
	body, err := e.post(ctx, "/v1/tiles", req)
	if err != nil {
		e.observeFailure("tile")
		return nil, err
	}
	e.observe("tile")
	return body, nil
}

func (e *HTTPEngine) Grid(ctx context.Context, req Request) (json.RawMessage, error) {
	body, err := e.post(ctx, "/v1/grids", req)
	if err != nil {
		e.observeFailure("grid")
		return nil, err
	}
	if !json.Valid(body) {
		e.observeFailure("grid")
		return nil, fmt.Errorf("render engine returned malformed grid document")
	}
	e.observe("grid")
	return json.RawMessage(body), nil
}

func (e *HTTPEngine) post(ctx context.Context, path string, payload Request) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal render request: %w", err)
	}

	httpClient := e.config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.BaseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.Token)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read render response: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	return nil, decodeFailure(resp.StatusCode, body)
}

// decodeFailure maps an engine error response onto Error, keeping the
// violation order the engine chose. Non-JSON bodies become a single
// violation so the caller always has something to report.
func decodeFailure(status int, body []byte) error {
	var failure engineFailure
	if err := json.Unmarshal(body, &failure); err == nil {
		if len(failure.Errors) > 0 {
			return &Error{Violations: failure.Errors}
		}
		if failure.Error != "" {
			return &Error{Violations: []string{failure.Error}}
		}
	}
	trimmed := strings.TrimSpace(string(body))
	if trimmed != "" {
		return &Error{Violations: []string{trimmed}}
	}
	return fmt.Errorf("render engine returned %d", status)
}

func (e *HTTPEngine) observe(kind string) {
	if e.config.Metrics != nil {
		e.config.Metrics.ObserveRender(kind)
	}
}

func (e *HTTPEngine) observeFailure(kind string) {
	if e.config.Metrics != nil {
		e.config.Metrics.ObserveRenderFailure(kind)
	}
}
