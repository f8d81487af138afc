// Package api hosts the HTTP server, middleware, and REST handlers. Routes:
//   - POST /v1/scrape and /v1/map run synchronously.
//   - POST /v1/crawl submits an async crawl job; GET /v1/crawl/{job_id},
//     GET /v1/crawl/{job_id}/result, and POST /v1/crawl/{job_id}/cancel
//     inspect and control it.
//   - GET /healthz and /readyz for probes, /metrics for Prometheus.
package api
