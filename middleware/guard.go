package middleware

import (
	"net/http"

	"github.com/bluquist/bluquist"
	"github.com/bluquist/bluquist/internal/respond"
)

// Guard runs the authentication gate for one route. Rejected requests get
// the error envelope; accepted ones continue with the client IP and, for
// non-public routes, the renewed session in their context.
func Guard(engine *bluquist.Engine, route bluquist.RouteOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				WriteError(w, r, nil, bluquist.ErrServiceUnavailable)
				return
			}

			ctx, err := engine.AuthenticateRequest(r, route)
			if err != nil {
				WriteError(w, r, engine, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WriteError renders err through the error envelope. Failures outside the
// client-visible taxonomy are logged and reported as internal errors.
func WriteError(w http.ResponseWriter, r *http.Request, engine *bluquist.Engine, err error) {
	apiErr := bluquist.ToAPIError(err)
	if engine != nil && apiErr.Status >= http.StatusInternalServerError {
		engine.Logger().ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"code", apiErr.Code,
			"error", err,
		)
	}
	respond.Error(w, apiErr.Status, apiErr.Code, apiErr.Message)
}
