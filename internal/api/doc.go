// Package api implements the HTTP surface of Gray Logic Link.
//
// This package provides:
//   - Voice-platform endpoints under /v1.0 (device list, query, action, unlink)
//   - Operator endpoints under /api/v1 (health, stats, per-device status,
//     tracked commands, refresh and history)
//   - Prometheus exposition at /metrics
//   - WebSocket hub pushing status changes and command outcomes
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// Handlers never talk to the broker directly. Every device interaction goes
// through the engine: actions become capability invocations, queries read the
// status cache, and refreshes publish a status request without waiting for
// the reply.
//
// # Graceful Degradation
//
// The server runs while the transport is down. Queries answer from the cache
// and actions come back as DEVICE_UNREACHABLE results.
//
// Account linking and token validation are handled in front of this server.
package api
