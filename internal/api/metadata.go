package api

import (
	"fmt"
	"net/http"

	"tilegate/internal/cache"
)

func (h *Handler) getInfowindow(w http.ResponseWriter, r *http.Request, table string) {
	rec, r, fault := h.resolveTenant(r)
	if fault != nil {
		h.writeFault(r.Context(), w, fault)
		return
	}
	decision, fault := h.authorize(r, rec)
	if fault != nil {
		h.writeFault(r.Context(), w, fault)
		return
	}
	if fault := h.gatePrivacy(r, rec, decision, []string{table}); fault != nil {
		h.writeFault(r.Context(), w, fault)
		return
	}

	infowindow, ok, err := h.Maps.Infowindow(r.Context(), rec.Database, table)
	if err != nil {
		h.writeFault(r.Context(), w, internalFault(fmt.Errorf("infowindow %s/%s: %w", rec.Database, table, err)))
		return
	}

	var value interface{}
	if ok {
		value = infowindow
	}
	w.Header().Set("X-Cache-Channel", cache.Channel(rec.Database, table))
	writeJSONP(w, http.StatusOK, r.URL.Query().Get("callback"), map[string]interface{}{"infowindow": value})
}

func (h *Handler) getMapMetadata(w http.ResponseWriter, r *http.Request, table string) {
	rec, r, fault := h.resolveTenant(r)
	if fault != nil {
		h.writeFault(r.Context(), w, fault)
		return
	}
	decision, fault := h.authorize(r, rec)
	if fault != nil {
		h.writeFault(r.Context(), w, fault)
		return
	}
	if fault := h.gatePrivacy(r, rec, decision, []string{table}); fault != nil {
		h.writeFault(r.Context(), w, fault)
		return
	}

	metadata, err := h.Maps.Metadata(r.Context(), rec.Database, table)
	if err != nil {
		h.writeFault(r.Context(), w, internalFault(fmt.Errorf("map metadata %s/%s: %w", rec.Database, table, err)))
		return
	}
	w.Header().Set("X-Cache-Channel", cache.Channel(rec.Database, table))
	writeJSONP(w, http.StatusOK, r.URL.Query().Get("callback"), map[string]interface{}{"map_metadata": metadata})
}

// flushCache drops the edge cache entries for one table. No auth: purging
// discloses nothing and is idempotent.
func (h *Handler) flushCache(w http.ResponseWriter, r *http.Request, table string) {
	rec, r, fault := h.resolveTenant(r)
	if fault != nil {
		h.writeFault(r.Context(), w, fault)
		return
	}

	cache.Invalidate(r.Context(), h.Purger, h.Metrics, cache.Channel(rec.Database, table))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
