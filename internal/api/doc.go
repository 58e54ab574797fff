// Package api hosts the observability HTTP server that runs alongside a crawl.
// Routes:
//   - GET /healthz and /readyz for health checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/departments for the configured department sites.
//   - GET /v1/status for the state of the current or last crawl run.
package api
