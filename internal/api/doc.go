// Package api dispatches tile, grid, and style requests for every tenant
// the directory knows about. Handlers resolve the tenant from the Host
// header, authorize the caller against the tenant's live secret, and gate
// table access on the privacy oracle before touching the style store or the
// rendering engine.
package api
