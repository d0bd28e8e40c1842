// Package server hosts the tile gateway behind a single HTTP server.
//
// The server builds a consistent middleware chain of request-id, logging,
// and metrics so every handler shares the same instrumentation, and routes
// the /tiles/ tree to the dispatcher alongside the health, metrics, and
// version probes.
package server
