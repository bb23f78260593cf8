package bluquist

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bluquist/bluquist/internal/audit"
	"github.com/bluquist/bluquist/password"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

type memUsers struct {
	mu    sync.Mutex
	users map[string]User
}

func newMemUsers() *memUsers {
	return &memUsers{users: map[string]User{}}
}

func (m *memUsers) CreateUser(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Mail == u.Mail {
			return ErrDuplicateRecord
		}
	}
	m.users[u.ID] = *u
	return nil
}

func (m *memUsers) UserByID(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &u, nil
}

func (m *memUsers) UserByMail(_ context.Context, mail string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Mail == mail {
			return &u, nil
		}
	}
	return nil, ErrRecordNotFound
}

func (m *memUsers) UpdateUser(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return ErrRecordNotFound
	}
	m.users[u.ID] = *u
	return nil
}

type memTeams struct {
	mu    sync.Mutex
	teams map[string]Team
}

func newMemTeams() *memTeams {
	return &memTeams{teams: map[string]Team{}}
}

func cloneTeam(t Team) Team {
	t.Admins = slices.Clone(t.Admins)
	t.Members = slices.Clone(t.Members)
	return t
}

func syncAdmins(t *Team) {
	t.Admins = t.Admins[:0]
	for _, m := range t.Members {
		if m.Role == RoleAdmin {
			t.Admins = append(t.Admins, m.UserID)
		}
	}
}

func (m *memTeams) CreateTeam(_ context.Context, t *Team) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.teams {
		if existing.Name == t.Name {
			return ErrDuplicateRecord
		}
	}
	m.teams[t.ID] = cloneTeam(*t)
	return nil
}

func (m *memTeams) TeamByID(_ context.Context, id string) (*Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.teams[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	t = cloneTeam(t)
	return &t, nil
}

func (m *memTeams) TeamNameTaken(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.teams {
		if t.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (m *memTeams) RenameTeam(_ context.Context, id, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.teams[id]
	if !ok {
		return ErrRecordNotFound
	}
	t.Name = name
	m.teams[id] = t
	return nil
}

func (m *memTeams) DeleteTeam(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.teams[id]; !ok {
		return ErrRecordNotFound
	}
	delete(m.teams, id)
	return nil
}

func (m *memTeams) TeamsForUser(_ context.Context, userID string) ([]Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Team
	for _, t := range m.teams {
		if _, ok := t.Member(userID); ok {
			out = append(out, cloneTeam(t))
		}
	}
	return out, nil
}

func (m *memTeams) AddMember(_ context.Context, teamID string, member TeamMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.teams[teamID]
	if !ok {
		return ErrRecordNotFound
	}
	if _, dup := t.Member(member.UserID); dup {
		return ErrDuplicateRecord
	}
	t = cloneTeam(t)
	t.Members = append(t.Members, member)
	syncAdmins(&t)
	m.teams[teamID] = t
	return nil
}

func (m *memTeams) RemoveMember(_ context.Context, teamID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.teams[teamID]
	if !ok {
		return ErrRecordNotFound
	}
	t = cloneTeam(t)
	before := len(t.Members)
	t.Members = slices.DeleteFunc(t.Members, func(mem TeamMember) bool { return mem.UserID == userID })
	if len(t.Members) == before {
		return ErrRecordNotFound
	}
	syncAdmins(&t)
	m.teams[teamID] = t
	return nil
}

func (m *memTeams) UpdateMemberRole(_ context.Context, teamID, userID, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.teams[teamID]
	if !ok {
		return ErrRecordNotFound
	}
	t = cloneTeam(t)
	idx := slices.IndexFunc(t.Members, func(mem TeamMember) bool { return mem.UserID == userID })
	if idx < 0 {
		return ErrRecordNotFound
	}
	t.Members[idx].Role = role
	syncAdmins(&t)
	m.teams[teamID] = t
	return nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	engine *Engine
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	users  *memUsers
	teams  *memTeams
	clock  *testClock
	audit  *audit.ChannelSink
	reg    *prometheus.Registry
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Environment = "test"
	cfg.Password = password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	}
	return cfg
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	env := &testEnv{
		mr:    mr,
		rdb:   rdb,
		users: newMemUsers(),
		teams: newMemTeams(),
		clock: &testClock{now: time.Now()},
		audit: audit.NewChannelSink(256),
		reg:   prometheus.NewRegistry(),
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(env.users).
		WithTeamStore(env.teams).
		WithAuditSink(env.audit).
		WithMetricsRegisterer(env.reg).
		WithClock(env.clock.Now).
		Build(context.Background())
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	env.engine = engine

	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return env
}

// request builds a request from remote carrying an optional bearer token.
func request(method, remote, token string) *http.Request {
	r := httptest.NewRequest(method, "/bluquist/v1/user/info", nil)
	r.RemoteAddr = remote + ":40000"
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

// nextAudit waits for the next audit event of eventType.
func (env *testEnv) nextAudit(t *testing.T, eventType string) AuditEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-env.audit.Events():
			if e.EventType == eventType {
				return e
			}
		case <-timeout:
			t.Fatalf("no %s audit event", eventType)
			return AuditEvent{}
		}
	}
}

// login registers mail and returns a context authenticated as that user.
func (env *testEnv) login(t *testing.T, mail string) context.Context {
	t.Helper()
	ctx := context.Background()

	if _, err := env.engine.RegisterUser(ctx, Registration{Mail: mail, Password: "secret1"}); err != nil {
		t.Fatalf("register %s: %v", mail, err)
	}
	token, err := env.engine.Login(ctx, mail, "secret1", "10.0.0.1")
	if err != nil {
		t.Fatalf("login %s: %v", mail, err)
	}
	authed, err := env.engine.AuthenticateRequest(request(http.MethodGet, "10.0.0.1", token), RouteOptions{})
	if err != nil {
		t.Fatalf("authenticate %s: %v", mail, err)
	}
	return authed
}
