package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"

	"tilegate/internal/cache"
	"tilegate/internal/render"
	"tilegate/internal/style"
	"tilegate/internal/tenant"
)

// gatePrivacy checks every table in the effective set against the privacy
// oracle. Any private table blocks anonymous callers; the oracle is asked
// fresh on every request.
func (h *Handler) gatePrivacy(r *http.Request, rec tenant.Record, decision tenant.Decision, tables []string) *Fault {
	group, ctx := errgroup.WithContext(r.Context())
	private := make([]bool, len(tables))
	for i, table := range tables {
		i, table := i, table
		group.Go(func() error {
			isPrivate, err := h.Maps.IsPrivate(ctx, rec.Database, table)
			if err != nil {
				return fmt.Errorf("privacy check %s/%s: %w", rec.Database, table, err)
			}
			private[i] = isPrivate
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return internalFault(err)
	}
	if decision == tenant.AuthenticatedOwner {
		return nil
	}
	for _, isPrivate := range private {
		if isPrivate {
			return &Fault{Kind: FaultUnauthorized, Message: msgPermissionDenied}
		}
	}
	return nil
}

// effectiveTables merges the path table with every table an inline sql
// override touches.
func effectiveTables(table, sql string) []string {
	tables := []string{table}
	tables = append(tables, cache.TablesFromSQL(sql)...)
	return tables
}

// renderRequest assembles the engine request for one tile, preferring an
// inline style override from the query string over the stored record.
func (h *Handler) renderRequest(r *http.Request, rec tenant.Record, table string, coords tileCoords) (render.Request, *Fault) {
	query := r.URL.Query()
	req := render.Request{
		Database:     rec.Database,
		Table:        table,
		SQL:          query.Get("sql"),
		GeometryType: query.Get("geom_type"),
		Z:            coords.z,
		X:            coords.x,
		Y:            coords.y,
	}

	if inline := query.Get("style"); inline != "" {
		req.Style = inline
		req.StyleVersion = query.Get("style_version")
		if req.StyleVersion == "" {
			req.StyleVersion = h.Styles.EngineVersion()
		}
		return req, nil
	}

	record, err := h.Styles.Get(r.Context(), rec.Database, "", table, false)
	if err != nil {
		return render.Request{}, internalFault(fmt.Errorf("load style %s/%s: %w", rec.Database, table, err))
	}
	req.Style = record.Style
	req.StyleVersion = record.Version
	return req, nil
}

// prepareTile runs the shared tile/grid pipeline: resolve, authorize, gate
// privacy over the effective table set, assemble the render request.
func (h *Handler) prepareTile(w http.ResponseWriter, r *http.Request, table string, coords tileCoords) (render.Request, *http.Request, bool) {
	rec, r, fault := h.resolveTenant(r)
	if fault != nil {
		h.writeFault(r.Context(), w, fault)
		return render.Request{}, r, false
	}
	decision, fault := h.authorize(r, rec)
	if fault != nil {
		h.writeFault(r.Context(), w, fault)
		return render.Request{}, r, false
	}

	tables := effectiveTables(table, r.URL.Query().Get("sql"))
	if fault := h.gatePrivacy(r, rec, decision, tables); fault != nil {
		h.writeFault(r.Context(), w, fault)
		return render.Request{}, r, false
	}

	req, fault := h.renderRequest(r, rec, table, coords)
	if fault != nil {
		h.writeFault(r.Context(), w, fault)
		return render.Request{}, r, false
	}

	w.Header().Set("X-Cache-Channel", cache.Channel(rec.Database, tables...))
	w.Header().Set("Cache-Control", cache.PolicyHeader(r.URL.Query().Get("cache_policy") == "persist"))
	return req, r, true
}

func (h *Handler) getTile(w http.ResponseWriter, r *http.Request, table string, coords tileCoords) {
	req, r, ok := h.prepareTile(w, r, table, coords)
	if !ok {
		return
	}

	body, err := h.Renderer.Tile(r.Context(), req)
	if err != nil {
		h.writeFault(r.Context(), w, renderFault(err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handler) getGrid(w http.ResponseWriter, r *http.Request, table string, coords tileCoords) {
	req, r, ok := h.prepareTile(w, r, table, coords)
	if !ok {
		return
	}
	if fields := r.URL.Query().Get("interactivity"); fields != "" {
		req.InteractivityFields = splitFields(fields)
	}

	grid, err := h.Renderer.Grid(r.Context(), req)
	if err != nil {
		h.writeFault(r.Context(), w, renderFault(err))
		return
	}

	callback := r.URL.Query().Get("callback")
	if callback != "" && callbackRe.MatchString(callback) {
		w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "%s(%s);", callback, grid)
		return
	}
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(grid)
}

// renderFault maps an engine failure: a diagnosed style problem is the
// caller's to fix, anything else is an upstream outage.
func renderFault(err error) *Fault {
	var renderErr *render.Error
	if errors.As(err, &renderErr) && len(renderErr.Violations) > 0 {
		return &Fault{Kind: FaultInvalid, Violations: renderErr.Violations, Err: err}
	}
	var invalid *style.ValidationError
	if errors.As(err, &invalid) {
		return &Fault{Kind: FaultInvalid, Violations: invalid.Violations, Err: err}
	}
	return internalFault(fmt.Errorf("render: %w", err))
}

func splitFields(raw string) []string {
	parts := strings.Split(raw, ",")
	fields := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			fields = append(fields, trimmed)
		}
	}
	return fields
}
