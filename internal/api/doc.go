// Package api hosts the local control API. Routes:
//   - GET /healthz and /readyz for health checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/compute/{job} to start bundles, network or bundles-and-network.
//   - GET /v1/status for the running flag, progress and last result.
//   - GET /v1/runs and /v1/runs/{run_id} for run history.
//   - GET /v1/objects/{name} for the objects reloaded after a job.
//   - GET /v1/progress/ws to stream progress over a WebSocket.
package api
