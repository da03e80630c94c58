// Package config loads ldapfence configuration from file, environment and
// defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/isometry/ldapfence/internal/ldap"
)

const (
	EnvPrefix = "LDAPFENCE"
	redacted  = "[REDACTED]"
)

// Config represents the ldapfence configuration.
type Config struct {
	// Enabled turns authentication on. When false requests are proxied
	// without any credential check.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	Root    RootConfig    `mapstructure:"root" yaml:"root"`
	LDAP    LDAPConfig    `mapstructure:"ldap" yaml:"ldap"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// RootConfig is the static root credential. Required when Enabled is set.
type RootConfig struct {
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

// LDAPConfig configures directory authentication.
type LDAPConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	Host          string        `mapstructure:"host" yaml:"host"`
	Port          int           `mapstructure:"port" yaml:"port" default:"389" validate:"gte=1,lte=65535"`
	SSL           bool          `mapstructure:"ssl" yaml:"ssl"`
	SkipTLSVerify bool          `mapstructure:"skip_tls_verify" yaml:"skip_tls_verify" default:"true"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout" default:"10s" validate:"gte=0"`

	Bind     BindConfig     `mapstructure:"bind" yaml:"bind"`
	Kerberos KerberosConfig `mapstructure:"kerberos" yaml:"kerberos"`
	User     UserConfig     `mapstructure:"user" yaml:"user"`
	Group    GroupConfig    `mapstructure:"group" yaml:"group"`

	// EscapeFilterValues escapes filter metacharacters in substituted
	// usernames and member DNs.
	EscapeFilterValues bool `mapstructure:"escape_filter_values" yaml:"escape_filter_values"`

	Cache CacheConfig `mapstructure:"cache" yaml:"cache"`
}

// BindConfig is the administrative identity used for searches.
type BindConfig struct {
	DN       string `mapstructure:"dn" yaml:"dn"`
	Password string `mapstructure:"password" yaml:"password"`
	Method   string `mapstructure:"method" yaml:"method" default:"simple" validate:"oneof=simple kerberos"`
}

// KerberosConfig is used when Bind.Method is kerberos.
type KerberosConfig struct {
	Realm  string `mapstructure:"realm" yaml:"realm"`
	Keytab string `mapstructure:"keytab" yaml:"keytab"`
	Config string `mapstructure:"config" yaml:"config"`
	SPN    string `mapstructure:"spn" yaml:"spn"`
}

// UserConfig locates user entries.
type UserConfig struct {
	Base       string   `mapstructure:"base" yaml:"base" validate:"omitempty,dn"`
	Filter     string   `mapstructure:"filter" yaml:"filter"`
	Attributes []string `mapstructure:"attributes" yaml:"attributes"`
}

// GroupConfig restricts access to members of named groups.
type GroupConfig struct {
	Base      string   `mapstructure:"base" yaml:"base" validate:"omitempty,dn"`
	Filter    string   `mapstructure:"filter" yaml:"filter"`
	CN        []string `mapstructure:"cn" yaml:"cn"`
	Attribute string   `mapstructure:"attribute" yaml:"attribute" default:"cn" validate:"required"`
}

// CacheConfig controls caching of directory credentials.
type CacheConfig struct {
	Enabled       bool `mapstructure:"enabled" yaml:"enabled"`
	ExpireSeconds int  `mapstructure:"expire_seconds" yaml:"expire_seconds" default:"3600" validate:"gte=0"`
}

// ServerConfig configures the HTTP host.
type ServerConfig struct {
	Listen          string        `mapstructure:"listen" yaml:"listen" default:":9200" validate:"required"`
	Upstream        string        `mapstructure:"upstream" yaml:"upstream" validate:"omitempty,url"`
	BypassPaths     []string      `mapstructure:"bypass_paths" yaml:"bypass_paths" default:"[\"/healthz\"]" validate:"dive,startswith=/"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" default:"10s" validate:"gt=0"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" default:"true"`
	Path    string `mapstructure:"path" yaml:"path" default:"/metrics" validate:"startswith=/"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" default:"INFO" validate:"oneof=TRACE DEBUG INFO WARN ERROR"`
	Format string `mapstructure:"format" yaml:"format" default:"text" validate:"oneof=text json"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		// defaults are static struct tags
		panic(fmt.Sprintf("invalid config defaults: %v", err))
	}
	return cfg
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (LDAPFENCE_*, e.g. LDAPFENCE_LDAP_HOST)
//  2. Configuration file
//  3. Default values
//
// An empty configPath searches the default locations and carries on with
// defaults and environment when no file is found. An explicit configPath must
// exist.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	setupViper(v, configPath)
	registerDefaults(v, "", reflect.ValueOf(cfg).Elem())

	if err := readConfigFile(v, configPath != ""); err != nil {
		return nil, err
	}

	if err := v.Unmarshal(cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.normalize()

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// setupViper configures environment variables and the config file search.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}

	v.SetConfigName("ldapfence")
	v.SetConfigType("yaml")
	v.AddConfigPath(ConfigDir())
	v.AddConfigPath("/etc/ldapfence")
	v.AddConfigPath(".")
}

// readConfigFile reads the configuration file. A missing file is only an
// error when it was named explicitly.
func readConfigFile(v *viper.Viper, explicit bool) error {
	err := v.ReadInConfig()
	if err == nil {
		return nil
	}

	var notFound viper.ConfigFileNotFoundError
	if !explicit && errors.As(err, &notFound) {
		return nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("configuration file not found: %w", err)
	}
	return fmt.Errorf("failed to read config file: %w", err)
}

// registerDefaults walks the struct and registers every leaf key with viper.
// Viper only binds environment variables for keys it knows about, so this is
// what makes LDAPFENCE_* work for keys absent from the config file.
func registerDefaults(v *viper.Viper, prefix string, rv reflect.Value) {
	rt := rv.Type()
	for i := range rt.NumField() {
		field := rt.Field(i)
		key := field.Tag.Get("mapstructure")
		if key == "" || key == "-" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}

		fv := rv.Field(i)
		if fv.Kind() == reflect.Struct && fv.Type() != reflect.TypeOf(time.Duration(0)) {
			registerDefaults(v, key, fv)
			continue
		}
		v.SetDefault(key, fv.Interface())
	}
}

// decodeHooks returns the combined decode hook. Durations accept "30s"
// style strings and lists accept comma-separated strings.
func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		trimSliceHook(),
	)
}

// trimSliceHook trims whitespace around list items and drops empty ones.
func trimSliceHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf([]string(nil)) {
			return data, nil
		}
		items, ok := data.([]string)
		if !ok {
			return data, nil
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		return out, nil
	}
}

func (c *Config) normalize() {
	c.Logging.Level = strings.ToUpper(c.Logging.Level)
	c.Logging.Format = strings.ToLower(c.Logging.Format)
	c.LDAP.Bind.Method = strings.ToLower(c.LDAP.Bind.Method)
}

// ConfigDir returns $XDG_CONFIG_HOME/ldapfence or ~/.config/ldapfence.
func ConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "ldapfence")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "ldapfence")
}

// CacheTTL returns the directory credential cache lifetime.
func (c *LDAPConfig) CacheTTL() time.Duration {
	return time.Duration(c.Cache.ExpireSeconds) * time.Second
}

// ConnectionConfig returns the directory connection settings.
func (c *LDAPConfig) ConnectionConfig() *ldap.ConnectionConfig {
	return &ldap.ConnectionConfig{
		Host:           c.Host,
		Port:           c.Port,
		UseTLS:         c.SSL,
		SkipTLSVerify:  c.SkipTLSVerify,
		Timeout:        c.Timeout,
		BindDN:         c.Bind.DN,
		BindPassword:   c.Bind.Password,
		BindMethod:     ldap.BindMethod(c.Bind.Method),
		KerberosRealm:  c.Kerberos.Realm,
		KerberosKeytab: c.Kerberos.Keytab,
		KerberosConfig: c.Kerberos.Config,
		KerberosSPN:    c.Kerberos.SPN,
	}
}

// ServiceConfig returns the directory authentication service settings.
func (c *LDAPConfig) ServiceConfig() ldap.ServiceConfig {
	return ldap.ServiceConfig{
		Connection:         c.ConnectionConfig(),
		UserBaseDN:         c.User.Base,
		UserFilter:         c.User.Filter,
		UserAttributes:     c.User.Attributes,
		GroupBaseDN:        c.Group.Base,
		GroupFilter:        c.Group.Filter,
		GroupNames:         c.Group.CN,
		GroupAttribute:     c.Group.Attribute,
		EscapeFilterValues: c.EscapeFilterValues,
	}
}

// Redacted returns a copy with every secret replaced.
func (c *Config) Redacted() *Config {
	cp := *c
	if cp.Root.Password != "" {
		cp.Root.Password = redacted
	}
	if cp.LDAP.Bind.Password != "" {
		cp.LDAP.Bind.Password = redacted
	}
	return &cp
}
