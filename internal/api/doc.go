// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - POST /api/v1/metadata (also /metadata/, /metadata/raw and /metadata/raw/)
//     resolves a batch of URLs into metadata records.
//   - POST /api/v1/metadata/refresh drops cached records for the listed URLs.
//   - POST /resolve-scan redirects to /api/v1/metadata.
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
