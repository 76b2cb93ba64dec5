package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/invakid404/pve-openapi/internal/memlimit"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, args ...string) (*Config, error) {
	t.Helper()

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(flags)
	require.NoError(t, flags.Parse(args))

	return Load(viper.New(), flags)
}

func setRequiredEnv(t *testing.T) {
	t.Helper()

	t.Setenv("PVE_API_URL", "https://pve.example:8006/api2/json")
	t.Setenv("PVE_API_TOKEN_USER", "root@pam")
	t.Setenv("PVE_API_TOKEN_NAME", "proxy")
	t.Setenv("PVE_API_TOKEN", "secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := load(t)
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, RouterFiber, cfg.Router)
	assert.Equal(t, "/api2/json", cfg.Prefix)
	assert.Equal(t, "apidoc.json", cfg.SchemaPath)
	assert.Equal(t, PVE{
		APIURL:            "https://pve.example:8006/api2/json",
		TokenUser:         "root@pam",
		TokenName:         "proxy",
		Token:             "secret",
		InsecureTLS:       true,
		Timeout:           30 * time.Second,
		NormalizeBooleans: true,
	}, cfg.PVE)
	assert.False(t, cfg.ValidateResponses)
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel)
	assert.Equal(t, ":3000", cfg.Addr())
	assert.Equal(t, memlimit.Auto, cfg.MemLimit)
}

func TestEnvironmentOverridesDefaults(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "8080")
	t.Setenv("ROUTER", "CHI")
	t.Setenv("PVE_TIMEOUT", "5s")
	t.Setenv("PVE_INSECURE_TLS", "false")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := load(t)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, RouterChi, cfg.Router)
	assert.Equal(t, 5*time.Second, cfg.PVE.Timeout)
	assert.False(t, cfg.PVE.InsecureTLS)
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel)
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "8080")

	cfg, err := load(t, "--port=9090", "--prefix=/proxy/", "--validate-responses", "--mem-limit=512MiB")
	require.NoError(t, err)

	assert.Equal(t, int64(512<<20), cfg.MemLimit)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "/proxy", cfg.Prefix)
	assert.True(t, cfg.ValidateResponses)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pve-openapi.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pve-api-url: https://10.0.0.2:8006/api2/json
pve-api-token-user: automation@pve
pve-api-token-name: ci
pve-api-token: from-file
port: 4000
`), 0o644))

	t.Setenv("PVE_API_TOKEN", "from-env")

	cfg, err := load(t, "--config="+path)
	require.NoError(t, err)

	assert.Equal(t, "https://10.0.0.2:8006/api2/json", cfg.PVE.APIURL)
	assert.Equal(t, "automation@pve", cfg.PVE.TokenUser)
	assert.Equal(t, "from-env", cfg.PVE.Token)
	assert.Equal(t, 4000, cfg.Port)
}

func TestMissingConfigFile(t *testing.T) {
	setRequiredEnv(t)

	_, err := load(t, "--config="+filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		args []string
		want error
	}{
		{name: "missing url", env: map[string]string{"PVE_API_URL": ""}, want: ErrMissingAPIURL},
		{name: "missing token", env: map[string]string{"PVE_API_TOKEN": ""}, want: ErrMissingToken},
		{name: "non-http url", env: map[string]string{"PVE_API_URL": "ftp://pve"}},
		{name: "url without host", env: map[string]string{"PVE_API_URL": "https://"}},
		{name: "unknown router", args: []string{"--router=echo"}},
		{name: "port out of range", args: []string{"--port=70000"}},
		{name: "invalid log level", args: []string{"--log-level=loud"}},
		{name: "invalid memory limit", args: []string{"--mem-limit=lots"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			for key, value := range tt.env {
				t.Setenv(key, value)
			}

			_, err := load(t, tt.args...)
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}
