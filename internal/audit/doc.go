// Package audit delivers session-lifecycle audit events off the request path.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, slog, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full / block-if-full semantics.
//   - [Event]: structured audit record with timestamp, type, user, role, IP, metadata.
//
// # What this package must NOT do
//
//   - Decide which events to emit; the Engine does.
//   - Carry full bearer tokens (use [TokenHint]).
//   - Import bluquist or any sibling internal package.
package audit
