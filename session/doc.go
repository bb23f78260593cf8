// Package session owns the server-side session record and its lifecycle in a
// shared key-value collection.
//
// # Binary encoding
//
// Records are stored in a compact versioned binary format (currently v1). The
// JSON form of a [Session] is the external shape handed across the login and
// gate boundary: {userID, userRole, clientIP, expireDate, sessionToken} with
// expireDate in epoch seconds.
//
// # Architecture boundaries
//
// This package owns the [Store] and the [Session] model. It does NOT resolve
// bearer headers, compare client origins or evaluate roles; those decisions
// belong to the Engine.
//
// # What this package must NOT do
//
//   - Import bluquist or middleware (no upward imports).
//   - Cache sessions in process memory.
package session
