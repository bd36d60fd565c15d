// Package auth authenticates callers of the lead-gateway HTTP API.
//
// # Tokens
//
// API clients send HS256 JWTs as bearer tokens. Tokens are signed with the
// configured auth.jwt_secret (at least MinSecretLength bytes) and carry:
//
//   - sub: who the token was issued to
//   - org: optional organization the token is restricted to
//   - scope: space-separated list of prompt, read and admin
//   - iss, iat, exp: issuer "lead-gateway" and validity window
//
// Tokens are minted with the "lead-gateway token" command.
//
// # Middleware
//
//	mux.Handle("POST /api/contacts/{id}/prompt",
//		auth.Middleware(verifier, logger)(auth.RequireScope(auth.ScopePrompt)(handler)))
//
// Handlers read the caller with FromContext and check organization access
// with Identity.CanAccessOrganization. The WhatsApp webhook is not behind this
// middleware; it is authenticated by Meta's verify token and signature.
package auth
