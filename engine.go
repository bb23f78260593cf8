package bluquist

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bluquist/bluquist/internal/audit"
	"github.com/bluquist/bluquist/internal/rate"
	"github.com/bluquist/bluquist/jwt"
	"github.com/bluquist/bluquist/kvstore"
	"github.com/bluquist/bluquist/session"
)

// Engine is the session-based authentication core plus the account and team
// flows built on it. Construct it with New().Build. An Engine holds no
// per-session state; any number of instances may share one store.
type Engine struct {
	config       Config
	kv           *kvstore.Adapter
	sessions     *session.Store
	users        UserStore
	teams        TeamStore
	hasher       PasswordHasher
	dummyHash    string
	limiter      *rate.Limiter
	assertions   *jwt.Manager
	resolver     *IPResolver
	nonPersisted map[string]struct{}
	audit        *audit.Dispatcher
	metrics      *Metrics
	logger       *slog.Logger
	now          func() time.Time
}

// Close flushes pending audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// Config returns a copy of the effective configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) Logger() *slog.Logger {
	return e.logger
}

func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// Ping checks that the session store is reachable.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	return e.kv.Ping(ctx)
}

// ClientIP resolves the caller's address with the same algorithm used at
// login and by the gate.
func (e *Engine) ClientIP(r *http.Request) string {
	return e.resolver.Resolve(r)
}

func (e *Engine) decide(result string) {
	e.metrics.GateDecisions.WithLabelValues(result).Inc()
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header. The scheme is case-insensitive; anything but exactly two
// space-separated parts with a non-empty token is malformed.
func BearerToken(h http.Header) (string, error) {
	values, ok := h[http.CanonicalHeaderKey("Authorization")]
	if !ok || len(values) == 0 {
		return "", ErrNoAuthorizationHeader
	}

	parts := strings.Split(values[0], " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", ErrInvalidAuthorizationHeader
	}
	return parts[1], nil
}

// AuthenticateRequest runs the full gate for r under route. On success the
// returned context carries the client IP and, for non-public routes, the
// renewed session.
func (e *Engine) AuthenticateRequest(r *http.Request, route RouteOptions) (context.Context, error) {
	ip := e.ClientIP(r)
	ctx := WithClientIP(r.Context(), ip)

	if route.Public || r.Method == http.MethodOptions {
		e.decide(DecisionPublic)
		return ctx, nil
	}

	token, err := BearerToken(r.Header)
	if err != nil {
		if errors.Is(err, ErrNoAuthorizationHeader) {
			e.decide(DecisionNoHeader)
		} else {
			e.decide(DecisionMalformed)
		}
		return ctx, err
	}

	return e.Authenticate(ctx, token, ip, route)
}

// Authenticate resolves token and applies, in order, the existence, expiry,
// origin and role checks. Expired sessions are destroyed; origin violations
// leave the session in place. On success the session's expiry slides forward
// and the session is attached to the returned context.
func (e *Engine) Authenticate(ctx context.Context, token, clientIP string, route RouteOptions) (context.Context, error) {
	sess, err := e.sessions.LookupSession(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			e.decide(DecisionNotFound)
			return ctx, ErrInvalidSession
		}
		e.decide(DecisionError)
		return ctx, err
	}

	now := e.now()
	if sess.Expired(now) {
		if err := e.destroy(ctx, token, "expired"); err != nil {
			e.decide(DecisionError)
			return ctx, err
		}
		e.decide(DecisionExpired)
		e.emitAudit(ctx, AuditSessionExpired, false, sess, clientIP, nil, nil)
		return ctx, ErrSessionExpired
	}

	if sess.ClientIP != clientIP {
		e.decide(DecisionOriginMismatch)
		e.emitAudit(ctx, AuditOriginViolation, false, sess, clientIP, nil, map[string]string{
			"session_ip": sess.ClientIP,
		})
		return ctx, ErrClientOriginViolation
	}

	if !route.Allows(sess.Role) {
		e.decide(DecisionRoleDenied)
		e.emitAudit(ctx, AuditAccessDenied, false, sess, clientIP, nil, map[string]string{
			"required_roles": strings.Join(route.Roles, ","),
		})
		return ctx, ErrAccessDenied
	}

	sess.Renew(now, e.sessions.TTL())
	e.decide(DecisionAuthorized)
	return withSession(WithClientIP(ctx, clientIP), sess), nil
}

// SaveSession writes the request's session back to the store so renewals
// and role changes survive the request. Sessions whose role is configured
// as non-persisted are skipped, as is a request without a session.
func (e *Engine) SaveSession(ctx context.Context) error {
	sess, ok := SessionFromContext(ctx)
	if !ok {
		return nil
	}
	if _, skip := e.nonPersisted[sess.Role]; skip {
		e.metrics.SessionWritebacks.WithLabelValues("skipped").Inc()
		return nil
	}

	if err := e.sessions.PersistSession(ctx, sess); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			e.metrics.SessionWritebacks.WithLabelValues("gone").Inc()
			return ErrInvalidSession
		}
		e.metrics.SessionWritebacks.WithLabelValues("failed").Inc()
		return err
	}
	e.metrics.SessionWritebacks.WithLabelValues("saved").Inc()
	return nil
}

// StartSession creates a session for an already authenticated principal and
// returns its token.
func (e *Engine) StartSession(ctx context.Context, userID, role, clientIP string) (string, error) {
	token, err := e.sessions.StartSession(ctx, userID, role, clientIP)
	if err != nil {
		return "", err
	}
	e.metrics.SessionsStarted.WithLabelValues(role).Inc()
	return token, nil
}

// DestroySession removes token from the store. It is idempotent. If token is
// the request's own session it is detached so the persistence hook does not
// write it back.
func (e *Engine) DestroySession(ctx context.Context, token string) error {
	return e.destroy(ctx, token, "logout")
}

func (e *Engine) destroy(ctx context.Context, token, reason string) error {
	if err := e.sessions.DestroySession(ctx, token); err != nil {
		return err
	}
	detachSession(ctx, token)
	e.metrics.SessionsDestroyed.WithLabelValues(reason).Inc()
	return nil
}

// LookupSession returns the stored session for token, without renewal.
func (e *Engine) LookupSession(ctx context.Context, token string) (*session.Session, error) {
	sess, err := e.sessions.LookupSession(ctx, token)
	if errors.Is(err, session.ErrNotFound) {
		return nil, ErrInvalidSession
	}
	return sess, err
}

// Login verifies mail and password and starts a session bound to clientIP.
// Unknown mail and wrong password are indistinguishable to the caller.
func (e *Engine) Login(ctx context.Context, mail, password, clientIP string) (string, error) {
	mail = normalizeMail(mail)
	if err := e.limiter.CheckLogin(ctx, mail, clientIP); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metrics.Logins.WithLabelValues("rate_limited").Inc()
			e.emitAudit(ctx, AuditLoginFailure, false, nil, clientIP, err, map[string]string{"mail": mail})
			return "", ErrLoginRateLimited
		}
		e.metrics.Logins.WithLabelValues("error").Inc()
		return "", err
	}

	user, err := e.users.UserByMail(ctx, mail)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			// Keep unknown-mail timing close to a real verification.
			_, _ = e.hasher.Verify(password, e.dummyHash)
			return "", e.failLogin(ctx, mail, clientIP)
		}
		e.metrics.Logins.WithLabelValues("error").Inc()
		return "", err
	}

	ok, err := e.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		e.logger.ErrorContext(ctx, "stored password hash unreadable", "user_id", user.ID, "error", err)
	}
	if !ok {
		return "", e.failLogin(ctx, mail, clientIP)
	}

	if err := e.limiter.ResetLogin(ctx, mail); err != nil {
		e.logger.WarnContext(ctx, "reset login counter", "error", err)
	}

	token, err := e.StartSession(ctx, user.ID, user.Role, clientIP)
	if err != nil {
		e.metrics.Logins.WithLabelValues("error").Inc()
		return "", err
	}

	e.metrics.Logins.WithLabelValues("success").Inc()
	e.emitAudit(ctx, AuditLoginSuccess, true, &session.Session{Token: token, UserID: user.ID, Role: user.Role}, clientIP, nil, nil)
	return token, nil
}

func (e *Engine) failLogin(ctx context.Context, mail, clientIP string) error {
	if err := e.limiter.IncrementLogin(ctx, mail, clientIP); err != nil {
		e.metrics.Logins.WithLabelValues("error").Inc()
		return err
	}
	e.metrics.Logins.WithLabelValues("invalid_credentials").Inc()
	e.emitAudit(ctx, AuditLoginFailure, false, nil, clientIP, ErrInvalidCredentials, map[string]string{"mail": mail})
	return ErrInvalidCredentials
}

// LoginService exchanges a signed service assertion for a session with the
// application role. The assertion subject becomes the session's user ID.
func (e *Engine) LoginService(ctx context.Context, assertion, clientIP string) (string, error) {
	if e.assertions == nil {
		return "", ErrInvalidServiceAssertion
	}

	claims, err := e.assertions.ParseAssertion(assertion)
	if err != nil {
		e.emitAudit(ctx, AuditServiceLogin, false, nil, clientIP, err, nil)
		return "", ErrInvalidServiceAssertion
	}

	userID := "service:" + claims.Subject
	token, err := e.StartSession(ctx, userID, RoleApp, clientIP)
	if err != nil {
		return "", err
	}
	e.emitAudit(ctx, AuditServiceLogin, true, &session.Session{Token: token, UserID: userID, Role: RoleApp}, clientIP, nil, nil)
	return token, nil
}

// Logout destroys the request's own session.
func (e *Engine) Logout(ctx context.Context) error {
	sess, ok := SessionFromContext(ctx)
	if !ok {
		return ErrInvalidSession
	}
	if err := e.destroy(ctx, sess.Token, "logout"); err != nil {
		return err
	}
	e.emitAudit(ctx, AuditLogout, true, sess, ClientIPFromContext(ctx), nil, nil)
	return nil
}

// RevokeSession destroys another principal's session on behalf of the
// request's session.
func (e *Engine) RevokeSession(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return BadParameter("token must not be empty")
	}

	target, err := e.sessions.LookupSession(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if err := e.destroy(ctx, token, "revoked"); err != nil {
		return err
	}

	meta := map[string]string{"revoked_user_id": target.UserID}
	actor, _ := SessionFromContext(ctx)
	e.emitAudit(ctx, AuditSessionRevoked, true, actor, ClientIPFromContext(ctx), nil, meta)
	return nil
}

func requireSession(ctx context.Context) (*session.Session, error) {
	sess, ok := SessionFromContext(ctx)
	if !ok {
		return nil, ErrInvalidSession
	}
	return sess, nil
}
