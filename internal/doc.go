// Package internal holds helpers private to bluquist. The package itself
// provides session token generation.
//
// # Sub-packages
//
//   - audit: asynchronous audit dispatch (Dispatcher + Sink implementations)
//   - config: viper-backed server configuration loader
//   - httpapi: gorilla/mux HTTP API over the Engine
//   - rate: Redis-backed failed-login throttle
//   - respond: response envelope writer
//   - sqlstore: sqlx user and team store for PostgreSQL and SQLite
//
// # What this package must NOT do
//
//   - Export types that appear in the public bluquist API.
//   - Be imported by any package outside the bluquist module.
package internal
