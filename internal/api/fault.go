package api

import (
	"net/http"
)

// FaultKind classifies a request failure; the HTTP status is derived from
// the kind in exactly one place so handlers never pick status codes ad hoc.
type FaultKind int

const (
	FaultInternal FaultKind = iota
	FaultUnknownTenant
	FaultUnauthorized
	FaultInvalid
	FaultNotFound
)

// Fault is a classified request failure. Violations, when present, preserve
// the order the validator or engine reported them in.
type Fault struct {
	Kind       FaultKind
	Message    string
	Violations []string
	Err        error
}

func (f *Fault) Error() string {
	if f.Message != "" {
		return f.Message
	}
	if f.Err != nil {
		return f.Err.Error()
	}
	return "request failed"
}

func (f *Fault) Unwrap() error { return f.Err }

func (f *Fault) status() int {
	switch f.Kind {
	case FaultUnauthorized:
		return http.StatusUnauthorized
	case FaultInvalid:
		return http.StatusBadRequest
	case FaultNotFound:
		return http.StatusNotFound
	case FaultUnknownTenant, FaultInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func internalFault(err error) *Fault {
	return &Fault{Kind: FaultInternal, Err: err}
}
