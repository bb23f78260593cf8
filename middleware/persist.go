package middleware

import (
	"errors"
	"net/http"

	"github.com/bluquist/bluquist"
)

// Persist writes the request's session back once the handler returns. It
// must run inside Guard so it sees the session the gate attached. The
// response is already committed, so failures are only logged.
func Persist(engine *bluquist.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)

			err := engine.SaveSession(r.Context())
			if errors.Is(err, bluquist.ErrInvalidSession) {
				engine.Logger().InfoContext(r.Context(), "session destroyed during request, not written back",
					"path", r.URL.Path,
				)
				return
			}
			if err != nil {
				engine.Logger().ErrorContext(r.Context(), "session write-back failed",
					"path", r.URL.Path,
					"error", err,
				)
			}
		})
	}
}

// Protect wraps h with the gate and the persistence hook for route.
func Protect(engine *bluquist.Engine, route bluquist.RouteOptions, h http.Handler) http.Handler {
	return Guard(engine, route)(Persist(engine)(h))
}
