// Package api hosts the HTTP server, middleware, and handlers for the fetch
// gateway. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/fetch?url=... runs one gateway fetch and returns {"html": ...}
//     or {"error": ...}.
package api
