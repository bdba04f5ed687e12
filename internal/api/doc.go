// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/products to queue product pages for variant exploration.
//   - GET /v1/products and /v1/products/{id} for run status via the
//     RunRepository interface.
package api
