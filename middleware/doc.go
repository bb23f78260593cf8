// Package middleware adapts the bluquist Engine to net/http.
//
//   - [Guard] runs the authentication gate for a route's RouteOptions.
//   - [Persist] writes the request's session back after the handler.
//   - [Protect] composes the two in the only valid order.
//
// # What this package must NOT do
//
//   - Make authentication decisions itself; every decision comes from
//     Engine.AuthenticateRequest.
//   - Access Redis directly.
package middleware
