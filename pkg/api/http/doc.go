// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Execution submission, status, listing, and cancellation
//   - Graph definition management
//   - The capability catalog
//   - Health checks
//   - Prometheus metrics
package http
