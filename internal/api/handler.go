package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"

	"tilegate/internal/cache"
	"tilegate/internal/mapdb"
	"tilegate/internal/observability/logging"
	"tilegate/internal/observability/metrics"
	"tilegate/internal/render"
	"tilegate/internal/style"
	"tilegate/internal/tenant"
)

// TenantResolver resolves a request host to a tenant record.
type TenantResolver interface {
	Resolve(ctx context.Context, host string) (tenant.Record, error)
}

// Authorizer decides whether the supplied credentials make the caller the
// tenant owner.
type Authorizer interface {
	Authorize(ctx context.Context, rec tenant.Record, creds tenant.Credentials) (tenant.Decision, error)
}

// Handler serves every /tiles/ endpoint plus the root and version probes.
type Handler struct {
	Tenants  TenantResolver
	Auth     Authorizer
	Styles   style.Store
	Maps     mapdb.Layer
	Renderer render.Engine
	Purger   cache.Purger
	Metrics  *metrics.Recorder
	Version  string
	Logger   *slog.Logger
}

func NewHandler(tenants TenantResolver, auth Authorizer, styles style.Store, maps mapdb.Layer, renderer render.Engine, purger cache.Purger) *Handler {
	if purger == nil {
		purger = cache.NopPurger{}
	}
	return &Handler{
		Tenants:  tenants,
		Auth:     auth,
		Styles:   styles,
		Maps:     maps,
		Renderer: renderer,
		Purger:   purger,
	}
}

func (h *Handler) logger(ctx context.Context) *slog.Logger {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return logging.WithContext(ctx, logger)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

var callbackRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$.]*$`)

// writeJSONP wraps the payload as a script invocation when a well-formed
// callback name was supplied, plain JSON otherwise.
func writeJSONP(w http.ResponseWriter, status int, callback string, payload interface{}) {
	if callback == "" || !callbackRe.MatchString(callback) {
		writeJSON(w, status, payload)
		return
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "encode response"})
		return
	}
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, "%s(%s);", callback, encoded)
}

// writeFault renders a classified failure. A validation fault with more than
// one violation is written as a bare array of strings; everything else uses
// the single-message error envelope.
func (h *Handler) writeFault(ctx context.Context, w http.ResponseWriter, fault *Fault) {
	status := fault.status()
	if status >= http.StatusInternalServerError {
		h.logger(ctx).Error("request failed", "status", status, "error", fault.Error())
	}
	switch fault.Kind {
	case FaultUnauthorized:
		if h.Metrics != nil {
			h.Metrics.ObserveAuthDenied()
		}
	case FaultUnknownTenant:
		if h.Metrics != nil {
			h.Metrics.ObserveUnknownTenant()
		}
	}
	if len(fault.Violations) > 1 {
		writeJSON(w, status, fault.Violations)
		return
	}
	message := fault.Error()
	if len(fault.Violations) == 1 {
		message = fault.Violations[0]
	}
	writeJSON(w, status, map[string]string{"error": message})
}

// resolveTenant looks up the tenant for the request host and stores it on
// the logging context.
func (h *Handler) resolveTenant(r *http.Request) (tenant.Record, *http.Request, *Fault) {
	host := tenant.HostIdentifier(r.Host)
	ctx := logging.ContextWithTenant(r.Context(), host)
	r = r.WithContext(ctx)

	rec, err := h.Tenants.Resolve(ctx, host)
	if err != nil {
		var unknown *tenant.UnknownError
		if errors.As(err, &unknown) {
			return tenant.Record{}, r, &Fault{Kind: FaultUnknownTenant, Message: unknown.Error(), Err: err}
		}
		return tenant.Record{}, r, internalFault(fmt.Errorf("resolve tenant %q: %w", host, err))
	}
	return rec, r, nil
}

func (h *Handler) authorize(r *http.Request, rec tenant.Record) (tenant.Decision, *Fault) {
	creds := tenant.CredentialsFromQuery(r.URL.Query())
	decision, err := h.Auth.Authorize(r.Context(), rec, creds)
	if err != nil {
		return tenant.Anonymous, internalFault(fmt.Errorf("authorize %q: %w", rec.Host, err))
	}
	return decision, nil
}
