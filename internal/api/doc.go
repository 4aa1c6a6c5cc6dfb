// Package api implements the status API of stomplink.
//
// This package provides:
//   - REST endpoints for link state, statistics and journal queries
//   - Control endpoints to activate and deactivate the STOMP link, audited
//     per token subject when an audit repository is supplied
//   - A WebSocket hub broadcasting link state changes and errors
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - Bearer token authentication with role permissions (see package auth)
//
// # Endpoints
//
//	GET  /api/v1/health                 no auth
//	GET  /api/v1/link                   link:read
//	POST /api/v1/link/activate          link:control
//	POST /api/v1/link/deactivate        link:control
//	GET  /api/v1/events?limit=N         journal:read
//	GET  /api/v1/messages/counts?since= journal:read
//	GET  /api/v1/audit                  journal:read
//	GET  /api/v1/ws?token=T             link:read
//
// WebSocket clients subscribe to the "link.state" and "link.error" channels.
package api
