// Package bluquist is the session-based authentication core of a small
// multi-tenant user and team backend.
//
// An [Engine] issues opaque session tokens, resolves them on every request
// through the authentication gate ([Engine.AuthenticateRequest]), slides
// their expiry forward, binds them to the client address they were issued
// to, and enforces per-route role restrictions. Session records live in a
// shared Redis store, so any number of Engine instances may serve the same
// sessions. On top of the gate the Engine implements the account flows
// (registration, login, profile update) and team management.
//
// # Request lifecycle
//
//  1. The gate authenticates the request and attaches a renewed copy of the
//     session to the request context.
//  2. The handler reads it with [SessionFromContext]; team registration may
//     change its role in place.
//  3. The persistence hook ([Engine.SaveSession]) writes the session back,
//     unless its role is configured as non-persisted or it was destroyed
//     during the request.
//
// # What this package must NOT do
//
//   - Serialize concurrent requests bearing the same token. Renewals race
//     and the last write wins.
//   - Retry store failures. They surface as [ErrServiceUnavailable].
//   - Know about HTTP routing; see middleware and internal/httpapi.
package bluquist
