// Package gateway assembles the lead-gateway server.
//
// # Overview
//
// New builds every component from a config.Config: the SQLite store, the
// assistant backend (OpenAI or the in-memory fake), the qualification scorer,
// the tool registry, the run poller and the conversation orchestrator. When
// WhatsApp is enabled it also creates the Cloud API client and webhook.
//
// # HTTP Surface
//
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (database ping)
//   - GET|POST /webhook - WhatsApp webhook (when whatsapp.enabled)
//   - GET /metrics - Prometheus metrics (when metrics.enabled)
//   - POST /api/contacts/{id}/prompt - Run one turn (scope prompt)
//   - GET /api/contacts/{id}/exchanges - Conversation history (scope read)
//   - POST /api/contacts/{id}/reset - Start a new conversation (scope admin)
//
// The /api routes require a bearer JWT and are only registered when
// auth.jwt_secret is set. Tokens bound to an organization only see that
// organization's contacts.
//
// # Listeners
//
// The server listens on server.http_addr, or on a tsnet node when Tailscale
// is enabled. With tailscale.funnel the node accepts public HTTPS on :443,
// which is enough for Meta to reach the webhook without other ingress.
//
// # Shutdown
//
// Run blocks until its context is cancelled, then stops accepting requests,
// waits for in-flight webhook turns until server.shutdown_timeout, cancels
// any still running and closes the store.
package gateway
