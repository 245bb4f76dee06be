// Package server exposes the admission controller over HTTP.
//
// The server is a thin sidecar for callers that cannot link the quota
// package directly. It answers decision requests only; it never formats
// user-facing denial messages and never proxies the underlying request.
//
// Endpoints:
//
//	POST /v1/check/capability  {"user_id", "capability"}
//	POST /v1/check/lines       {"user_id", "line_count"}
//	POST /v1/check/rate        {"user_id"}
//	POST /v1/usage             {"user_id", "capability"}
//	GET  /healthz
//	GET  /metrics
//
// Denials are 200 responses with allowed=false; HTTP error statuses are
// reserved for infrastructure failures, which callers must treat as a
// denial (fail closed).
package server
