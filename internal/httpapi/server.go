package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bluquist/bluquist"
	"github.com/bluquist/bluquist/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// DefaultVersion is the API version mounted under /bluquist/v<version>.
const DefaultVersion = "1"

// Options configure a Server. Zero values select defaults.
type Options struct {
	Version string

	// PublicRate and PublicBurst size the per-IP token bucket in front of
	// public routes. A non-positive rate disables the throttle.
	PublicRate  rate.Limit
	PublicBurst int

	// Registry receives the HTTP collectors and backs /metrics. When nil a
	// private registry is used and /metrics is not mounted.
	Registry *prometheus.Registry

	Logger *slog.Logger
	Now    func() time.Time
}

// Server is the bluquist HTTP API.
type Server struct {
	engine   *bluquist.Engine
	handler  http.Handler
	router   *mux.Router
	metrics  *Metrics
	throttle *IPThrottle
	validate *validator.Validate
	version  string
	logger   *slog.Logger
	now      func() time.Time
}

// New wires every route onto a fresh router.
func New(engine *bluquist.Engine, opts Options) *Server {
	if opts.Version == "" {
		opts.Version = DefaultVersion
	}
	if opts.Logger == nil {
		opts.Logger = engine.Logger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	var reg prometheus.Registerer = opts.Registry
	if opts.Registry == nil {
		reg = prometheus.NewRegistry()
	}

	s := &Server{
		engine:   engine,
		router:   mux.NewRouter(),
		metrics:  NewMetrics(reg),
		validate: newValidator(),
		version:  opts.Version,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if opts.PublicRate > 0 {
		burst := opts.PublicBurst
		if burst <= 0 {
			burst = 1
		}
		s.throttle = NewIPThrottle(opts.PublicRate, burst, s.metrics)
	}

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, r, engine, bluquist.ErrNotFound)
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, r, engine, bluquist.ErrMethodNotAllowed)
	})
	s.router.Use(instrument(s.metrics))

	if opts.Registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	s.routes()

	s.handler = requestID(recoverPanics(engine, s.logger)(cors(s.router)))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close stops the throttle sweeper.
func (s *Server) Close() {
	if s.throttle != nil {
		s.throttle.Close()
	}
}

// BasePath returns the versioned API prefix.
func (s *Server) BasePath() string {
	return "/bluquist/v" + s.version
}

// handle registers h at BasePath()+path behind the gate, the persistence
// hook and, for public routes, the per-IP throttle. Routes stay on the root
// router; a method mismatch inside a mux subrouter surfaces as 404.
func (s *Server) handle(path string, route bluquist.RouteOptions, h http.HandlerFunc, methods ...string) {
	var handler http.Handler = middleware.Protect(s.engine, route, h)
	if route.Public && s.throttle != nil {
		handler = s.throttle.Handler(s.engine, handler)
	}
	s.router.Handle(s.BasePath()+path, handler).Methods(append(methods, http.MethodOptions)...)
}

func (s *Server) routes() {
	s.handle("/user/register", bluquist.PublicRoute(), s.registerUser, http.MethodPost)
	s.handle("/user/login", bluquist.PublicRoute(), s.loginUser, http.MethodPost)
	s.handle("/user/login/service", bluquist.PublicRoute(), s.loginService, http.MethodPost)
	s.handle("/user/logout", bluquist.RouteOptions{}, s.logoutUser, http.MethodPost)
	s.handle("/user/info", bluquist.RouteOptions{}, s.userInfo, http.MethodGet)
	s.handle("/user/update", bluquist.RouteOptions{}, s.updateUser, http.MethodPost)
	s.handle("/user/session", bluquist.RouteOptions{}, s.currentSession, http.MethodGet)

	s.handle("/team/register", bluquist.RouteOptions{}, s.registerTeam, http.MethodPost)
	s.handle("/team/rename", bluquist.RouteOptions{}, s.renameTeam, http.MethodPost)
	s.handle("/team/delete", bluquist.RouteOptions{}, s.deleteTeam, http.MethodDelete)
	s.handle("/team/list", bluquist.RouteOptions{}, s.listTeams, http.MethodGet)
	s.handle("/team/member/add", bluquist.RouteOptions{}, s.addMember, http.MethodPost)
	s.handle("/team/member/remove", bluquist.RouteOptions{}, s.removeMember, http.MethodPost)
	s.handle("/team/member/role", bluquist.RouteOptions{}, s.updateMemberRole, http.MethodPost)

	s.handle("/static/info", bluquist.RouteOptions{}, s.staticInfo, http.MethodGet)
	s.handle("/static/ping", bluquist.PublicRoute(), s.ping, http.MethodGet)

	s.handle("/admin/session/revoke", bluquist.Restrict(bluquist.RoleAdmin), s.revokeSession, http.MethodPost)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	middleware.WriteError(w, r, s.engine, err)
}

func (s *Server) clientIP(r *http.Request) string {
	if ip := bluquist.ClientIPFromContext(r.Context()); ip != "" {
		return ip
	}
	return s.engine.ClientIP(r)
}
