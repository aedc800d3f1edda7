// Package server exposes the relay over HTTP.
//
// Routes:
//
//	GET  /proto/v1     websocket upgrade, one session per connection
//	GET  /checkhealth  uptime, start time and build version
//	     /auth/...     account endpoints, when auth is enabled
//	GET  /metrics      Prometheus metrics, when enabled
//
// Shutdown stops the listener first, then the sessions, then the router.
package server
