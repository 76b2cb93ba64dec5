// Package config loads the server configuration from flags, environment
// variables and an optional config file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/invakid404/pve-openapi/internal/memlimit"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// RouterKind selects the HTTP runtime serving the compiled routes.
type RouterKind string

const (
	RouterFiber RouterKind = "fiber"
	RouterChi   RouterKind = "chi"
)

// Flag names double as viper keys. Environment variables are the upper-case
// form with dashes replaced by underscores (pve-api-url -> PVE_API_URL).
const (
	KeyConfigFile        = "config"
	KeyHost              = "host"
	KeyPort              = "port"
	KeyRouter            = "router"
	KeyPrefix            = "prefix"
	KeySchema            = "pve-schema"
	KeyAPIURL            = "pve-api-url"
	KeyTokenUser         = "pve-api-token-user"
	KeyTokenName         = "pve-api-token-name"
	KeyToken             = "pve-api-token"
	KeyInsecureTLS       = "pve-insecure-tls"
	KeyTimeout           = "pve-timeout"
	KeyNormalizeBooleans = "normalize-booleans"
	KeyValidateResponses = "validate-responses"
	KeyBodyLimit         = "body-limit"
	KeyShutdownTimeout   = "shutdown-timeout"
	KeyLogLevel          = "log-level"
	KeyPretty            = "pretty"
	KeyMemLimit          = "mem-limit"
)

var (
	ErrMissingAPIURL = errors.New("PVE_API_URL is required")
	ErrMissingToken  = errors.New("PVE_API_TOKEN, PVE_API_TOKEN_NAME and PVE_API_TOKEN_USER are required")
)

// PVE is the upstream connection configuration.
type PVE struct {
	APIURL            string
	TokenUser         string
	TokenName         string
	Token             string
	InsecureTLS       bool
	Timeout           time.Duration
	NormalizeBooleans bool
}

// Config is the complete server configuration.
type Config struct {
	Host              string
	Port              int
	Router            RouterKind
	Prefix            string
	SchemaPath        string
	PVE               PVE
	ValidateResponses bool
	BodyLimit         int
	ShutdownTimeout   time.Duration
	LogLevel          zerolog.Level
	PrettyLogs        bool
	// MemLimit is the memory the process may use before GOMEMLIMIT kicks in:
	// memlimit.Auto to detect it, 0 to leave the runtime default.
	MemLimit int64
}

// RegisterFlags defines every configuration flag with its default value.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String(KeyConfigFile, "", "Path to a config file (yaml, json or toml)")
	flags.String(KeyHost, "", "Address to listen on")
	flags.Int(KeyPort, 3000, "Port to listen on")
	flags.String(KeyRouter, string(RouterFiber), "HTTP runtime: fiber or chi")
	flags.String(KeyPrefix, "/api2/json", "Path prefix the Proxmox routes are mounted under")
	flags.String(KeySchema, "apidoc.json", "Path to the Proxmox API schema (JSON array or apidoc.js)")
	flags.String(KeyAPIURL, "", "Proxmox VE API root, e.g. https://pve.example:8006/api2/json")
	flags.String(KeyTokenUser, "", "User owning the API token, e.g. root@pam")
	flags.String(KeyTokenName, "", "API token name")
	flags.String(KeyToken, "", "API token secret")
	flags.Bool(KeyInsecureTLS, true, "Skip TLS certificate verification for the Proxmox API")
	flags.Duration(KeyTimeout, 30*time.Second, "Timeout for requests to the Proxmox API")
	flags.Bool(KeyNormalizeBooleans, true, "Rewrite 0/1 values in Proxmox responses to booleans")
	flags.Bool(KeyValidateResponses, false, "Log Proxmox responses that do not match the documented return schema")
	flags.Int(KeyBodyLimit, 4*1024*1024, "Maximum request body size in bytes")
	flags.Duration(KeyShutdownTimeout, 10*time.Second, "Graceful shutdown timeout")
	flags.String(KeyLogLevel, zerolog.InfoLevel.String(), "Log level (trace, debug, info, warn, error)")
	flags.Bool(KeyPretty, false, "Use pretty console logging instead of structured JSON")
	flags.String(KeyMemLimit, "auto", "Memory available to the server (e.g. 512MiB), auto to detect it, off to disable GOMEMLIMIT")
}

// Load binds flags and environment variables into v, reads the config file
// when one is set, and returns the validated configuration. Flags set on the
// command line win over the environment, which wins over the config file.
func Load(v *viper.Viper, flags *pflag.FlagSet) (*Config, error) {
	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path := v.GetString(KeyConfigFile); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	level, err := zerolog.ParseLevel(v.GetString(KeyLogLevel))
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	memLimit, err := memlimit.Parse(v.GetString(KeyMemLimit))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Host:       v.GetString(KeyHost),
		Port:       v.GetInt(KeyPort),
		Router:     RouterKind(strings.ToLower(v.GetString(KeyRouter))),
		Prefix:     normalizePrefix(v.GetString(KeyPrefix)),
		SchemaPath: v.GetString(KeySchema),
		PVE: PVE{
			APIURL:            v.GetString(KeyAPIURL),
			TokenUser:         v.GetString(KeyTokenUser),
			TokenName:         v.GetString(KeyTokenName),
			Token:             v.GetString(KeyToken),
			InsecureTLS:       v.GetBool(KeyInsecureTLS),
			Timeout:           v.GetDuration(KeyTimeout),
			NormalizeBooleans: v.GetBool(KeyNormalizeBooleans),
		},
		ValidateResponses: v.GetBool(KeyValidateResponses),
		BodyLimit:         v.GetInt(KeyBodyLimit),
		ShutdownTimeout:   v.GetDuration(KeyShutdownTimeout),
		LogLevel:          level,
		PrettyLogs:        v.GetBool(KeyPretty),
		MemLimit:          memLimit,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.PVE.APIURL == "" {
		return ErrMissingAPIURL
	}

	u, err := url.Parse(c.PVE.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("PVE_API_URL must be an http(s) URL, got %q", c.PVE.APIURL)
	}

	if c.PVE.TokenUser == "" || c.PVE.TokenName == "" || c.PVE.Token == "" {
		return ErrMissingToken
	}

	switch c.Router {
	case RouterFiber, RouterChi:
	default:
		return fmt.Errorf("unknown router %q (expected %q or %q)", c.Router, RouterFiber, RouterChi)
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}

	if c.SchemaPath == "" {
		return errors.New("schema path is required")
	}

	if c.BodyLimit <= 0 {
		return fmt.Errorf("invalid body limit %d", c.BodyLimit)
	}

	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// normalizePrefix returns "" or a prefix with a leading slash and no
// trailing slash.
func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return "/" + prefix
}
