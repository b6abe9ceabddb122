// Package api implements the HTTP REST API and WebSocket log stream for the ATCS core.
//
// This package provides:
//   - Credential endpoints: login, refresh, logout, identity and allowlist
//   - Junction access checks for the calling identity
//   - Admin endpoints for users, junction grants and the audit trail
//   - A WebSocket hub that streams log events to operator consoles
//   - Middleware stack (request ID, logging, recovery, metrics, CORS, body limit)
//
// # Security
//
// Protected routes require an "Authorization: Bearer <access token>" header.
// The token is verified on every request, including a live check that its
// subject is still active. The role and junction allowlist are the snapshot
// embedded at issuance and refresh.
//
// Login is rate limited per client IP. WebSocket connections use single-use
// tickets so access tokens never appear in URLs.
//
// # Errors
//
// Every error response has the shape {"error": {"status", "code", "message"}}.
// Codes are stable; messages are for humans.
package api
