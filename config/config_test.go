// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/golang-auth/gss-handshake"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "gss.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestLoadFile(t *testing.T) {
	assert := assert.New(t)

	path := writeConfig(t, `
provider: mock
socket_path: /run/gss/handshake.sock
service_name: host@server.example
principal: host@server.example
keytab: /etc/gss.keytab
flags: [mutual, integ]
max_frame_size: 4096
io_timeout: 30s
backlog: 4
audit_log: /var/log/gss-audit.cbor
log:
  level: debug
  format: json
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal("mock", cfg.Provider)
	assert.Equal("/run/gss/handshake.sock", cfg.SocketPath)
	assert.Equal("host@server.example", cfg.ServiceName)
	assert.Equal("/etc/gss.keytab", cfg.Keytab)
	assert.Equal(uint32(4096), cfg.MaxFrameSize)
	assert.Equal(30*time.Second, cfg.IOTimeout)
	assert.Equal(4, cfg.Backlog)
	assert.Equal("/var/log/gss-audit.cbor", cfg.AuditLog)
	assert.Equal(LogConfig{Level: "debug", Format: "json"}, cfg.Log)

	// unset fields keep their defaults
	assert.Equal("hostbased", cfg.NameType)

	flags, err := cfg.ContextFlags()
	assert.NoError(err)
	assert.Equal(gssapi.ContextFlagMutual|gssapi.ContextFlagInteg, flags)

	assert.NoError(cfg.ValidateClient())
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = LoadFile(writeConfig(t, "socket_pth: /tmp/x.sock\n"))
	assert.ErrorContains(t, err, "socket_pth", "unknown keys are rejected")

	_, err = LoadFile(writeConfig(t, "io_timeout: soon\n"))
	assert.Error(t, err)
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFromEnvironment(t *testing.T) {
	path := writeConfig(t, "socket_path: /tmp/env.sock\n")

	t.Setenv(EnvConfig, path)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env.sock", cfg.SocketPath)

	// an explicit path wins over the environment
	other := writeConfig(t, "socket_path: /tmp/flag.sock\n")
	cfg, err = Load(other)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/flag.sock", cfg.SocketPath)

	t.Setenv(EnvConfig, "")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.SocketPath = "/tmp/gss.sock"
		cfg.ServiceName = "host@server.example"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"no socket path", func(c *Config) { c.SocketPath = "" }, "socket_path is required"},
		{"long socket path", func(c *Config) { c.SocketPath = "/" + strings.Repeat("s", MaxSocketPath) }, "limit 107"},
		{"no provider", func(c *Config) { c.Provider = "" }, "provider is required"},
		{"unknown flag", func(c *Config) { c.Flags = []string{"mutual", "telepathy"} }, "telepathy"},
		{"unknown name type", func(c *Config) { c.NameType = "nickname" }, "nickname"},
		{"negative timeout", func(c *Config) { c.IOTimeout = -time.Second }, "io_timeout"},
		{"negative backlog", func(c *Config) { c.Backlog = -1 }, "backlog"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log format"},
		{"no service", func(c *Config) { c.ServiceName = "" }, "service_name is required"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)

			err := cfg.ValidateClient()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalid)
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestValidateServerNeedsNoService(t *testing.T) {
	cfg := Default()
	cfg.SocketPath = "/tmp/gss.sock"
	assert.NoError(t, cfg.Validate())
	assert.ErrorIs(t, cfg.ValidateClient(), ErrInvalid)
}

func TestGssNameType(t *testing.T) {
	cfg := Default()
	nt, err := cfg.GssNameType()
	assert.NoError(t, err)
	assert.Equal(t, gssapi.GSS_NT_HOSTBASED_SERVICE, nt)

	cfg.NameType = "principal"
	nt, err = cfg.GssNameType()
	assert.NoError(t, err)
	assert.Equal(t, gssapi.GSS_KRB5_NT_PRINCIPAL_NAME, nt)
}
