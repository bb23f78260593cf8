package bluquist

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bluquist/bluquist/internal/audit"
	"github.com/bluquist/bluquist/internal/rate"
	"github.com/bluquist/bluquist/jwt"
	"github.com/bluquist/bluquist/kvstore"
	"github.com/bluquist/bluquist/password"
	"github.com/bluquist/bluquist/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. Configure it during initialization and call
// Build once.
type Builder struct {
	config   Config
	redis    redis.UniversalClient
	users    UserStore
	teams    TeamStore
	hasher   PasswordHasher
	sink     AuditSink
	logger   *slog.Logger
	registry prometheus.Registerer
	now      func() time.Time

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the shared store client. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserStore sets the account store. Required.
func (b *Builder) WithUserStore(users UserStore) *Builder {
	b.users = users
	return b
}

// WithTeamStore sets the team store. Required.
func (b *Builder) WithTeamStore(teams TeamStore) *Builder {
	b.teams = teams
	return b
}

// WithPasswordHasher overrides the argon2id hasher built from Config.Password.
func (b *Builder) WithPasswordHasher(h PasswordHasher) *Builder {
	b.hasher = h
	return b
}

// WithAuditSink overrides the default slog audit sink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithMetricsRegisterer registers the Engine's collectors with reg. Without
// it the collectors work but are not exported.
func (b *Builder) WithMetricsRegisterer(reg prometheus.Registerer) *Builder {
	b.registry = reg
	return b
}

// WithClock replaces time.Now for session expiry decisions.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration, registers the session collection in
// the store and returns the Engine.
func (b *Builder) Build(ctx context.Context) (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.users == nil {
		return nil, errors.New("user store required")
	}
	if b.teams == nil {
		return nil, errors.New("team store required")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	// -------- SESSION STORE --------
	kv := kvstore.New(b.redis, kvstore.Config{
		Prefix:      cfg.Store.Namespace,
		Environment: cfg.Environment,
		LockLease:   cfg.Store.LockLease,
		LockWait:    cfg.Store.LockWait,
		LockRetry:   cfg.Store.LockRetry,
	}, cfg.Session.Collection)
	if err := kv.Register(ctx); err != nil {
		return nil, err
	}

	sessions := session.NewStore(kv, cfg.Session.TTL,
		session.WithClock(now),
		session.WithTokenAttempts(cfg.Session.TokenAttempts),
	)

	// -------- PASSWORDS --------
	hasher := b.hasher
	if hasher == nil {
		ph, err := password.NewArgon2(cfg.Password)
		if err != nil {
			return nil, err
		}
		hasher = ph
	}
	dummyHash, err := hasher.Hash("bluquist-timing-equalizer")
	if err != nil {
		return nil, err
	}

	// -------- SERVICE ASSERTIONS --------
	var assertions *jwt.Manager
	if cfg.ServiceAuth.Enabled {
		assertions, err = jwt.NewManager(jwt.Config{
			SigningMethod: jwt.SigningMethod(cfg.ServiceAuth.Method),
			Secret:        []byte(cfg.ServiceAuth.Secret),
			PublicKey:     []byte(cfg.ServiceAuth.PublicKey),
			Issuer:        cfg.ServiceAuth.Issuer,
			Audience:      cfg.ServiceAuth.Audience,
			MaxAge:        cfg.ServiceAuth.MaxAge,
		})
		if err != nil {
			return nil, err
		}
	}

	nonPersisted := make(map[string]struct{}, len(cfg.Session.NonPersistedRoles))
	for _, role := range cfg.Session.NonPersistedRoles {
		nonPersisted[role] = struct{}{}
	}

	metrics := NewMetrics(b.registry)

	sink := b.sink
	if sink == nil {
		sink = audit.NewSlogSink(logger)
	}

	engine := &Engine{
		config:    cfg,
		kv:        kv,
		sessions:  sessions,
		users:     b.users,
		teams:     b.teams,
		hasher:    hasher,
		dummyHash: dummyHash,
		limiter: rate.New(b.redis, rate.Config{
			Namespace:             cfg.Store.Namespace + "_" + cfg.Environment,
			EnableIPThrottle:      cfg.Security.EnableIPThrottle,
			MaxLoginAttempts:      cfg.Security.MaxLoginAttempts,
			LoginCooldownDuration: cfg.Security.LoginCooldown,
		}),
		assertions:   assertions,
		resolver:     NewIPResolver(cfg.Security.TrustedProxies),
		nonPersisted: nonPersisted,
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
			Drops:      metrics.AuditDropsTotal,
			Logger:     logger,
		}, sink),
		metrics: metrics,
		logger:  logger,
		now:     now,
	}

	b.built = true

	return engine, nil
}
