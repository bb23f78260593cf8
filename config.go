package bluquist

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/bluquist/bluquist/password"
	"github.com/go-playground/validator/v10"
)

// Config holds every tunable of the Engine. Obtain one from DefaultConfig and
// override fields; Build validates it.
type Config struct {
	Environment string            `mapstructure:"environment" validate:"required,alphanum"`
	Session     SessionConfig     `mapstructure:"session"`
	Store       StoreConfig       `mapstructure:"store"`
	Security    SecurityConfig    `mapstructure:"security"`
	ServiceAuth ServiceAuthConfig `mapstructure:"service_auth"`
	Audit       AuditConfig       `mapstructure:"audit"`
	Password    password.Config   `mapstructure:"password"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls the session collection and sliding expiry.
type SessionConfig struct {
	Collection string        `mapstructure:"collection" validate:"required"`
	TTL        time.Duration `mapstructure:"ttl" validate:"gt=0"`

	// NonPersistedRoles are never written back after a request; their
	// sessions expire at the deadline fixed when they started.
	NonPersistedRoles []string `mapstructure:"non_persisted_roles" validate:"dive,required"`

	TokenAttempts int `mapstructure:"token_attempts" validate:"gte=1,lte=10"`
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig controls key namespacing and the collection lock.
type StoreConfig struct {
	Namespace string        `mapstructure:"namespace" validate:"required"`
	LockLease time.Duration `mapstructure:"lock_lease" validate:"gt=0"`
	LockWait  time.Duration `mapstructure:"lock_wait" validate:"gt=0"`
	LockRetry time.Duration `mapstructure:"lock_retry" validate:"gt=0"`
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig controls origin resolution and login throttling.
type SecurityConfig struct {
	TrustedProxies    []string      `mapstructure:"trusted_proxies" validate:"dive,ip"`
	MaxLoginAttempts  int           `mapstructure:"max_login_attempts" validate:"gte=0"`
	LoginCooldown     time.Duration `mapstructure:"login_cooldown" validate:"gte=0"`
	EnableIPThrottle  bool          `mapstructure:"enable_ip_throttle"`
	MinPasswordLength int           `mapstructure:"min_password_length" validate:"gte=1,lte=128"`
}

/*
====================================
SERVICE AUTH CONFIG
====================================
*/

// ServiceAuthConfig enables exchanging signed service assertions for
// application-role sessions.
type ServiceAuthConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Method    string        `mapstructure:"method" validate:"omitempty,oneof=hs256 ed25519"`
	Secret    string        `mapstructure:"secret"`
	PublicKey string        `mapstructure:"public_key"`
	Issuer    string        `mapstructure:"issuer"`
	Audience  string        `mapstructure:"audience"`
	MaxAge    time.Duration `mapstructure:"max_age" validate:"gte=0"`
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls asynchronous audit delivery.
type AuditConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	BufferSize int  `mapstructure:"buffer_size" validate:"gte=0"`
	DropIfFull bool `mapstructure:"drop_if_full"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Environment: "dev",
		Session: SessionConfig{
			Collection:        "sessions",
			TTL:               30 * time.Minute,
			NonPersistedRoles: []string{RoleApp},
			TokenAttempts:     3,
		},
		Store: StoreConfig{
			Namespace: "bluquist",
			LockLease: 5 * time.Second,
			LockWait:  2 * time.Second,
			LockRetry: 10 * time.Millisecond,
		},
		Security: SecurityConfig{
			TrustedProxies:    []string{"127.0.0.1", "172.31.14.107", "172.31.17.13"},
			MaxLoginAttempts:  5,
			LoginCooldown:     15 * time.Minute,
			EnableIPThrottle:  false,
			MinPasswordLength: 5,
		},
		ServiceAuth: ServiceAuthConfig{
			Enabled: false,
			Method:  "hs256",
			MaxAge:  5 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Password: password.DefaultConfig(),
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Session.NonPersistedRoles = slices.Clone(cfg.Session.NonPersistedRoles)
	out.Security.TrustedProxies = slices.Clone(cfg.Security.TrustedProxies)
	return out
}

// Validate checks struct tags and then cross-field rules.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if c.Store.LockRetry > c.Store.LockWait {
		return errors.New("store: lock_retry must not exceed lock_wait")
	}
	if c.Store.LockLease < c.Store.LockWait {
		return errors.New("store: lock_lease must be >= lock_wait")
	}

	if c.Security.MaxLoginAttempts > 0 && c.Security.LoginCooldown <= 0 {
		return errors.New("security: login_cooldown must be > 0 when max_login_attempts is set")
	}

	if err := c.Password.Validate(); err != nil {
		return fmt.Errorf("password: %w", err)
	}

	if c.ServiceAuth.Enabled {
		switch c.ServiceAuth.Method {
		case "", "hs256":
			if len(c.ServiceAuth.Secret) < 32 {
				return errors.New("service_auth: hs256 secret must be at least 32 bytes")
			}
		case "ed25519":
			if strings.TrimSpace(c.ServiceAuth.PublicKey) == "" {
				return errors.New("service_auth: ed25519 requires public_key")
			}
		}
	}

	return nil
}

func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	messages := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		field := strings.TrimPrefix(e.Namespace(), "Config.")
		switch e.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", field))
		case "gt", "gte", "lte":
			messages = append(messages, fmt.Sprintf("%s must be %s %s", field, e.Tag(), e.Param()))
		case "ip":
			messages = append(messages, fmt.Sprintf("%s must be an IP address, got %q", field, e.Value()))
		default:
			messages = append(messages, fmt.Sprintf("%s failed validation for %s", field, e.Tag()))
		}
	}
	return errors.New(strings.Join(messages, "; "))
}
