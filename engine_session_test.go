package bluquist

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/bluquist/bluquist/jwt"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestBearerToken(t *testing.T) {
	cases := []struct {
		name    string
		header  []string
		want    string
		wantErr error
	}{
		{name: "missing", wantErr: ErrNoAuthorizationHeader},
		{name: "empty value", header: []string{""}, wantErr: ErrInvalidAuthorizationHeader},
		{name: "scheme only", header: []string{"Bearer"}, wantErr: ErrInvalidAuthorizationHeader},
		{name: "empty token", header: []string{"Bearer "}, wantErr: ErrInvalidAuthorizationHeader},
		{name: "wrong scheme", header: []string{"Basic abc"}, wantErr: ErrInvalidAuthorizationHeader},
		{name: "three parts", header: []string{"Bearer a b"}, wantErr: ErrInvalidAuthorizationHeader},
		{name: "canonical", header: []string{"Bearer abc"}, want: "abc"},
		{name: "lower case scheme", header: []string{"bearer abc"}, want: "abc"},
		{name: "upper case scheme", header: []string{"BEARER abc"}, want: "abc"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := http.Header{}
			if tc.header != nil {
				h["Authorization"] = tc.header
			}
			got, err := BearerToken(h)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("token = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestGatePublicAndPreflightBypass(t *testing.T) {
	env := newTestEnv(t, testConfig())

	ctx, err := env.engine.AuthenticateRequest(request(http.MethodGet, "1.2.3.4", ""), PublicRoute())
	if err != nil {
		t.Fatalf("public route: %v", err)
	}
	if _, ok := SessionFromContext(ctx); ok {
		t.Fatal("public route must not attach a session")
	}
	if ip := ClientIPFromContext(ctx); ip != "1.2.3.4" {
		t.Fatalf("client ip = %q", ip)
	}

	if _, err := env.engine.AuthenticateRequest(request(http.MethodOptions, "1.2.3.4", ""), Restrict(RoleAdmin)); err != nil {
		t.Fatalf("preflight: %v", err)
	}

	if got := testutil.ToFloat64(env.engine.Metrics().GateDecisions.WithLabelValues(DecisionPublic)); got != 2 {
		t.Fatalf("public decisions = %v, want 2", got)
	}
}

func TestGateRejectsMissingAndUnknownTokens(t *testing.T) {
	env := newTestEnv(t, testConfig())

	if _, err := env.engine.AuthenticateRequest(request(http.MethodGet, "1.2.3.4", ""), RouteOptions{}); !errors.Is(err, ErrNoAuthorizationHeader) {
		t.Fatalf("expected ErrNoAuthorizationHeader, got %v", err)
	}

	r := request(http.MethodGet, "1.2.3.4", "")
	r.Header.Set("Authorization", "Token abc")
	if _, err := env.engine.AuthenticateRequest(r, RouteOptions{}); !errors.Is(err, ErrInvalidAuthorizationHeader) {
		t.Fatalf("expected ErrInvalidAuthorizationHeader, got %v", err)
	}

	if _, err := env.engine.AuthenticateRequest(request(http.MethodGet, "1.2.3.4", "nope"), RouteOptions{}); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
}

func TestGateOriginBindingAndRoles(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	token, err := env.engine.StartSession(ctx, "42", RoleUser, "1.2.3.4")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	authed, err := env.engine.AuthenticateRequest(request(http.MethodGet, "1.2.3.4", token), RouteOptions{})
	if err != nil {
		t.Fatalf("same origin: %v", err)
	}
	sess, ok := SessionFromContext(authed)
	if !ok || sess.UserID != "42" || sess.Token != token {
		t.Fatalf("unexpected attached session %+v", sess)
	}

	if _, err := env.engine.AuthenticateRequest(request(http.MethodGet, "9.9.9.9", token), RouteOptions{}); !errors.Is(err, ErrClientOriginViolation) {
		t.Fatalf("expected ErrClientOriginViolation, got %v", err)
	}
	event := env.nextAudit(t, AuditOriginViolation)
	if event.IP != "9.9.9.9" || event.Metadata["session_ip"] != "1.2.3.4" {
		t.Fatalf("unexpected audit event %+v", event)
	}

	// An origin violation leaves the session usable from its own address.
	if _, err := env.engine.AuthenticateRequest(request(http.MethodGet, "1.2.3.4", token), RouteOptions{}); err != nil {
		t.Fatalf("session must survive an origin violation: %v", err)
	}

	if _, err := env.engine.AuthenticateRequest(request(http.MethodGet, "1.2.3.4", token), Restrict(RoleAdmin)); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
	if _, err := env.engine.AuthenticateRequest(request(http.MethodGet, "1.2.3.4", token), Restrict(RoleAdmin, RoleUser)); err != nil {
		t.Fatalf("role in set: %v", err)
	}
}

func TestGateExpiredSessionIsDestroyed(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	token, err := env.engine.StartSession(ctx, "42", RoleUser, "1.2.3.4")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	env.clock.Advance(31 * time.Minute)

	if _, err := env.engine.AuthenticateRequest(request(http.MethodGet, "1.2.3.4", token), RouteOptions{}); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if _, err := env.engine.AuthenticateRequest(request(http.MethodGet, "1.2.3.4", token), RouteOptions{}); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expired session must be gone, got %v", err)
	}
	if got := testutil.ToFloat64(env.engine.Metrics().SessionsDestroyed.WithLabelValues("expired")); got != 1 {
		t.Fatalf("expired destroys = %v", got)
	}
	env.nextAudit(t, AuditSessionExpired)
}

func TestSlidingExpiryNeedsWriteBack(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	saved, err := env.engine.StartSession(ctx, "42", RoleUser, "1.2.3.4")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	unsaved, err := env.engine.StartSession(ctx, "43", RoleUser, "1.2.3.4")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	env.clock.Advance(20 * time.Minute)

	authed, err := env.engine.AuthenticateRequest(request(http.MethodGet, "1.2.3.4", saved), RouteOptions{})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if err := env.engine.SaveSession(authed); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := env.engine.AuthenticateRequest(request(http.MethodGet, "1.2.3.4", unsaved), RouteOptions{}); err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	env.clock.Advance(20 * time.Minute)

	if _, err := env.engine.AuthenticateRequest(request(http.MethodGet, "1.2.3.4", saved), RouteOptions{}); err != nil {
		t.Fatalf("renewed session must still be valid: %v", err)
	}
	if _, err := env.engine.AuthenticateRequest(request(http.MethodGet, "1.2.3.4", unsaved), RouteOptions{}); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("renewal without write-back must not extend expiry, got %v", err)
	}
}

func TestSaveSessionSkipsNonPersistedRoles(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	token, err := env.engine.StartSession(ctx, "service:billing", RoleApp, "1.2.3.4")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	before, err := env.engine.LookupSession(ctx, token)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}

	env.clock.Advance(10 * time.Minute)
	authed, err := env.engine.AuthenticateRequest(request(http.MethodGet, "1.2.3.4", token), RouteOptions{})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if err := env.engine.SaveSession(authed); err != nil {
		t.Fatalf("save: %v", err)
	}

	after, err := env.engine.LookupSession(ctx, token)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !after.ExpireDate.Equal(before.ExpireDate) {
		t.Fatalf("app session expiry moved from %v to %v", before.ExpireDate, after.ExpireDate)
	}
	if got := testutil.ToFloat64(env.engine.Metrics().SessionWritebacks.WithLabelValues("skipped")); got != 1 {
		t.Fatalf("skipped writebacks = %v", got)
	}
}

func TestSaveSessionWithoutSessionIsNoop(t *testing.T) {
	env := newTestEnv(t, testConfig())
	if err := env.engine.SaveSession(context.Background()); err != nil {
		t.Fatalf("save without session: %v", err)
	}
}

func TestLogoutDetachesSession(t *testing.T) {
	env := newTestEnv(t, testConfig())
	authed := env.login(t, "alice@example.com")

	sess, _ := SessionFromContext(authed)
	if err := env.engine.Logout(authed); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, ok := SessionFromContext(authed); ok {
		t.Fatal("logout must detach the request session")
	}
	if err := env.engine.SaveSession(authed); err != nil {
		t.Fatalf("save after logout: %v", err)
	}
	if _, err := env.engine.LookupSession(context.Background(), sess.Token); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("hook must not resurrect a destroyed session, got %v", err)
	}
	if err := env.engine.Logout(authed); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("second logout: expected ErrInvalidSession, got %v", err)
	}
}

func TestDestroySessionIsIdempotent(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	token, err := env.engine.StartSession(ctx, "42", RoleUser, "1.2.3.4")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := env.engine.DestroySession(ctx, token); err != nil {
			t.Fatalf("destroy #%d: %v", i, err)
		}
	}
	if err := env.engine.DestroySession(ctx, "never-issued"); err != nil {
		t.Fatalf("destroy unknown: %v", err)
	}
}

func TestRevokeSession(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	target, err := env.engine.StartSession(ctx, "42", RoleUser, "1.2.3.4")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	admin, err := env.engine.StartSession(ctx, "1", RoleAdmin, "5.6.7.8")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	authed, err := env.engine.AuthenticateRequest(request(http.MethodPost, "5.6.7.8", admin), Restrict(RoleAdmin))
	if err != nil {
		t.Fatalf("authenticate admin: %v", err)
	}

	if err := env.engine.RevokeSession(authed, target); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := env.engine.LookupSession(ctx, target); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("revoked session must be gone, got %v", err)
	}
	if err := env.engine.RevokeSession(authed, target); !errors.Is(err, ErrNotFound) {
		t.Fatalf("revoking twice: expected ErrNotFound, got %v", err)
	}
	if err := env.engine.RevokeSession(authed, " "); !errors.Is(err, ErrBadParameter) {
		t.Fatalf("empty token: expected ErrBadParameter, got %v", err)
	}

	event := env.nextAudit(t, AuditSessionRevoked)
	if event.UserID != "1" || event.Metadata["revoked_user_id"] != "42" {
		t.Fatalf("unexpected audit event %+v", event)
	}
}

func TestWriteBackDoesNotRestoreConcurrentlyDestroyedSession(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	token, err := env.engine.StartSession(ctx, "42", RoleUser, "1.2.3.4")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	authed, err := env.engine.AuthenticateRequest(request(http.MethodGet, "1.2.3.4", token), RouteOptions{})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	// A parallel logout or an operator revoke removes the token while the
	// first request is still in flight.
	if err := env.engine.DestroySession(ctx, token); err != nil {
		t.Fatalf("destroy: %v", err)
	}

	if err := env.engine.SaveSession(authed); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("save of destroyed session: expected ErrInvalidSession, got %v", err)
	}
	if _, err := env.engine.AuthenticateRequest(request(http.MethodGet, "1.2.3.4", token), RouteOptions{}); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("destroyed token must stay invalid, got %v", err)
	}
	if got := testutil.ToFloat64(env.engine.Metrics().SessionWritebacks.WithLabelValues("gone")); got != 1 {
		t.Fatalf("gone write-backs = %v, want 1", got)
	}
}

func TestGateStoreUnavailable(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.mr.Close()

	_, err := env.engine.AuthenticateRequest(request(http.MethodGet, "1.2.3.4", "abc"), RouteOptions{})
	if err == nil {
		t.Fatal("expected an error with the store down")
	}
	if apiErr := ToAPIError(err); apiErr != ErrServiceUnavailable {
		t.Fatalf("expected ErrServiceUnavailable, got %v", apiErr)
	}
}

func TestLoginFlow(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	if _, err := env.engine.RegisterUser(ctx, Registration{Mail: "alice@example.com", Password: "secret1"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	token, err := env.engine.Login(ctx, "alice@example.com", "secret1", "1.2.3.4")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	sess, err := env.engine.LookupSession(ctx, token)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if sess.Role != RoleUser || sess.ClientIP != "1.2.3.4" {
		t.Fatalf("unexpected session %+v", sess)
	}
	if want := env.clock.Now().Add(30 * time.Minute); !sess.ExpireDate.Equal(want) {
		t.Fatalf("expireDate = %v, want %v", sess.ExpireDate, want)
	}

	if _, err := env.engine.Login(ctx, "alice@example.com", "wrong", "1.2.3.4"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := env.engine.Login(ctx, "nobody@example.com", "secret1", "1.2.3.4"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown mail: expected ErrInvalidCredentials, got %v", err)
	}

	if got := testutil.ToFloat64(env.engine.Metrics().Logins.WithLabelValues("invalid_credentials")); got != 2 {
		t.Fatalf("invalid logins = %v", got)
	}
	env.nextAudit(t, AuditLoginSuccess)
}

func TestLoginRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.Security.MaxLoginAttempts = 2
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	if _, err := env.engine.RegisterUser(ctx, Registration{Mail: "alice@example.com", Password: "secret1"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := env.engine.Login(ctx, "alice@example.com", "wrong", "1.2.3.4"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}
	if _, err := env.engine.Login(ctx, "alice@example.com", "secret1", "1.2.3.4"); !errors.Is(err, ErrLoginRateLimited) {
		t.Fatalf("expected ErrLoginRateLimited, got %v", err)
	}

	env.mr.FastForward(16 * time.Minute)

	if _, err := env.engine.Login(ctx, "alice@example.com", "secret1", "1.2.3.4"); err != nil {
		t.Fatalf("login after cooldown: %v", err)
	}
}

func TestLoginService(t *testing.T) {
	const secret = "0123456789abcdef0123456789abcdef"

	cfg := testConfig()
	cfg.ServiceAuth.Enabled = true
	cfg.ServiceAuth.Secret = secret
	cfg.ServiceAuth.Issuer = "bluquist-services"
	cfg.ServiceAuth.Audience = "bluquist"
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	signer, err := jwt.NewManager(jwt.Config{
		Secret:   []byte(secret),
		Issuer:   "bluquist-services",
		Audience: "bluquist",
	})
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	assertion, err := signer.CreateAssertion("billing")
	if err != nil {
		t.Fatalf("create assertion: %v", err)
	}

	token, err := env.engine.LoginService(ctx, assertion, "1.2.3.4")
	if err != nil {
		t.Fatalf("service login: %v", err)
	}
	sess, err := env.engine.LookupSession(ctx, token)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if sess.UserID != "service:billing" || sess.Role != RoleApp {
		t.Fatalf("unexpected service session %+v", sess)
	}

	if _, err := env.engine.LoginService(ctx, assertion+"x", "1.2.3.4"); !errors.Is(err, ErrInvalidServiceAssertion) {
		t.Fatalf("tampered assertion: expected ErrInvalidServiceAssertion, got %v", err)
	}
}

func TestLoginServiceDisabled(t *testing.T) {
	env := newTestEnv(t, testConfig())
	if _, err := env.engine.LoginService(context.Background(), "anything", "1.2.3.4"); !errors.Is(err, ErrInvalidServiceAssertion) {
		t.Fatalf("expected ErrInvalidServiceAssertion, got %v", err)
	}
}

func TestBuilderRequiresDependencies(t *testing.T) {
	if _, err := New().Build(context.Background()); err == nil {
		t.Fatal("expected error without redis client")
	}

	b := New()
	b.config.Session.TTL = 0
	if _, err := b.Build(context.Background()); err == nil {
		t.Fatal("expected config validation error")
	}
}
