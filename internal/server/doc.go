// Package server hosts the media pipeline API from a single HTTP server.
//
// The server builds a consistent middleware chain of request IDs, security
// headers, CORS, rate limiting, auth, metrics, and logging so handlers all
// share common protections and instrumentation.
package server
