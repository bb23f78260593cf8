// Package httpapi exposes the bluquist engine over HTTP.
//
// Routes live under /bluquist/v<version>:
//
//	user    register, login, login/service, logout, info, update, session
//	team    register, rename, delete, list, member/add, member/remove, member/role
//	static  info, ping
//	admin   session/revoke
//
// Every route is registered with fixed [bluquist.RouteOptions] and wrapped in
// the gate and the session persistence hook. Public routes additionally pass
// a per-IP token bucket. Responses use the envelope from internal/respond,
// including 404 and 405 produced by the router itself.
package httpapi
