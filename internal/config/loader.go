package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	fileBaseName = "bluquist"
	envPrefix    = "BLUQUIST"
)

// Loader reads configuration from a YAML file and BLUQUIST_* environment
// variables. The zero value is not usable; call NewLoader.
type Loader struct {
	v *viper.Viper
}

// NewLoader prepares a loader. When configFile is empty the standard
// locations are searched for bluquist.yaml or bluquist.yml: the working
// directory, $HOME/.bluquist and /etc/bluquist.
func NewLoader(configFile string) *Loader {
	v := viper.New()
	if configFile == "" {
		configFile = findConfigFile()
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(fileBaseName)
		v.SetConfigType("yaml")
	}

	// BLUQUIST_SERVER_ADDR overrides server.addr
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v, Default())
	return &Loader{v: v}
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{"."}
	if home != "" {
		paths = append(paths, filepath.Join(home, "."+fileBaseName))
	}
	paths = append(paths, filepath.Join("/etc", fileBaseName))
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths returns the first bluquist.yaml or .yml found in
// paths, in order.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, fileBaseName+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// setDefaults registers every key so AutomaticEnv can override keys that
// no config file mentions.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.public_rate", d.Server.PublicRate)
	v.SetDefault("server.public_burst", d.Server.PublicBurst)
	v.SetDefault("server.metrics", d.Server.Metrics)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	a := d.Auth
	v.SetDefault("auth.environment", a.Environment)

	v.SetDefault("auth.session.collection", a.Session.Collection)
	v.SetDefault("auth.session.ttl", a.Session.TTL)
	v.SetDefault("auth.session.non_persisted_roles", a.Session.NonPersistedRoles)
	v.SetDefault("auth.session.token_attempts", a.Session.TokenAttempts)

	v.SetDefault("auth.store.namespace", a.Store.Namespace)
	v.SetDefault("auth.store.lock_lease", a.Store.LockLease)
	v.SetDefault("auth.store.lock_wait", a.Store.LockWait)
	v.SetDefault("auth.store.lock_retry", a.Store.LockRetry)

	v.SetDefault("auth.security.trusted_proxies", a.Security.TrustedProxies)
	v.SetDefault("auth.security.max_login_attempts", a.Security.MaxLoginAttempts)
	v.SetDefault("auth.security.login_cooldown", a.Security.LoginCooldown)
	v.SetDefault("auth.security.enable_ip_throttle", a.Security.EnableIPThrottle)
	v.SetDefault("auth.security.min_password_length", a.Security.MinPasswordLength)

	v.SetDefault("auth.service_auth.enabled", a.ServiceAuth.Enabled)
	v.SetDefault("auth.service_auth.method", a.ServiceAuth.Method)
	v.SetDefault("auth.service_auth.secret", a.ServiceAuth.Secret)
	v.SetDefault("auth.service_auth.public_key", a.ServiceAuth.PublicKey)
	v.SetDefault("auth.service_auth.issuer", a.ServiceAuth.Issuer)
	v.SetDefault("auth.service_auth.audience", a.ServiceAuth.Audience)
	v.SetDefault("auth.service_auth.max_age", a.ServiceAuth.MaxAge)

	v.SetDefault("auth.audit.enabled", a.Audit.Enabled)
	v.SetDefault("auth.audit.buffer_size", a.Audit.BufferSize)
	v.SetDefault("auth.audit.drop_if_full", a.Audit.DropIfFull)

	v.SetDefault("auth.password.memory", a.Password.Memory)
	v.SetDefault("auth.password.time", a.Password.Time)
	v.SetDefault("auth.password.parallelism", a.Password.Parallelism)
	v.SetDefault("auth.password.salt_length", a.Password.SaltLength)
	v.SetDefault("auth.password.key_length", a.Password.KeyLength)
}

// Load reads the file (a missing file is not an error), applies the
// environment, and validates the result.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// ConfigFileUsed returns the file that was read, or "" in env-only mode.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}
