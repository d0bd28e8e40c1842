package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"tilegate/internal/cache"
	"tilegate/internal/style"
	"tilegate/internal/tenant"
)

// Legacy wire messages. Clients and the operator tooling match on these
// strings, so they are fixed forever.
const (
	msgUnauthorizedChange = "map state cannot be changed by unauthenticated request"
	msgPermissionDenied   = "Sorry, you are unauthorized (permission denied)"
	msgMissingStyle       = "must send style information"
)

func (h *Handler) getStyle(w http.ResponseWriter, r *http.Request, table string) {
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

	convert := queryFlag(r, "style_convert")
	record, err := h.Styles.Get(r.Context(), rec.Database, "", table, convert)
	if err != nil {
		h.writeFault(r.Context(), w, internalFault(fmt.Errorf("load style %s/%s: %w", rec.Database, table, err)))
		return
	}
	if h.Metrics != nil {
		h.Metrics.ObserveStyleOp("get")
	}
	w.Header().Set("X-Cache-Channel", cache.Channel(rec.Database, table))
	writeJSON(w, http.StatusOK, map[string]string{
		"style":         record.Style,
		"style_version": record.Version,
	})
}

// styleBody is the mutation payload. Style submissions arrive either as
// form fields or as a JSON document with the same names.
type styleBody struct {
	Style        string `json:"style"`
	StyleVersion string `json:"style_version"`
	StyleConvert bool   `json:"style_convert"`
}

func decodeStyleBody(r *http.Request) (styleBody, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body styleBody
		if err := decodeJSON(r, &body); err != nil {
			return styleBody{}, err
		}
		return body, nil
	}
	if err := r.ParseForm(); err != nil {
		return styleBody{}, err
	}
	return styleBody{
		Style:        r.PostFormValue("style"),
		StyleVersion: r.PostFormValue("style_version"),
		StyleConvert: flagValue(r.PostFormValue("style_convert")),
	}, nil
}

func (h *Handler) postStyle(w http.ResponseWriter, r *http.Request, table string) {
	rec, r, fault := h.resolveTenant(r)
	if fault != nil {
		h.writeFault(r.Context(), w, fault)
		return
	}
	if fault := h.gateOwner(r, rec); fault != nil {
		h.writeFault(r.Context(), w, fault)
		return
	}

	body, err := decodeStyleBody(r)
	if err != nil {
		h.writeFault(r.Context(), w, &Fault{Kind: FaultInvalid, Message: err.Error(), Err: err})
		return
	}
	if strings.TrimSpace(body.Style) == "" {
		h.writeFault(r.Context(), w, &Fault{Kind: FaultInvalid, Message: msgMissingStyle})
		return
	}

	err = h.Styles.Put(r.Context(), rec.Database, "", table, body.Style, body.StyleVersion, body.StyleConvert)
	if err != nil {
		var invalid *style.ValidationError
		if errors.As(err, &invalid) {
			h.writeFault(r.Context(), w, &Fault{Kind: FaultInvalid, Violations: invalid.Violations, Err: err})
			return
		}
		h.writeFault(r.Context(), w, internalFault(fmt.Errorf("store style %s/%s: %w", rec.Database, table, err)))
		return
	}
	if h.Metrics != nil {
		h.Metrics.ObserveStyleOp("put")
	}
	cache.Invalidate(r.Context(), h.Purger, h.Metrics, cache.Channel(rec.Database, table))
	writeJSON(w, http.StatusOK, nil)
}

func (h *Handler) deleteStyle(w http.ResponseWriter, r *http.Request, table string) {
	rec, r, fault := h.resolveTenant(r)
	if fault != nil {
		h.writeFault(r.Context(), w, fault)
		return
	}
	if fault := h.gateOwner(r, rec); fault != nil {
		h.writeFault(r.Context(), w, fault)
		return
	}

	if err := h.Styles.Delete(r.Context(), rec.Database, "", table); err != nil {
		h.writeFault(r.Context(), w, internalFault(fmt.Errorf("delete style %s/%s: %w", rec.Database, table, err)))
		return
	}
	if h.Metrics != nil {
		h.Metrics.ObserveStyleOp("delete")
	}
	cache.Invalidate(r.Context(), h.Purger, h.Metrics, cache.Channel(rec.Database, table))
	writeJSON(w, http.StatusOK, nil)
}

// gateOwner rejects style mutations from anyone but the authenticated
// tenant owner.
func (h *Handler) gateOwner(r *http.Request, rec tenant.Record) *Fault {
	decision, fault := h.authorize(r, rec)
	if fault != nil {
		return fault
	}
	if decision != tenant.AuthenticatedOwner {
		return &Fault{Kind: FaultUnauthorized, Message: msgUnauthorizedChange}
	}
	return nil
}

func queryFlag(r *http.Request, name string) bool {
	return flagValue(r.URL.Query().Get(name))
}

func flagValue(raw string) bool {
	switch strings.ToLower(raw) {
	case "true", "1", "yes":
		return true
	}
	return false
}
