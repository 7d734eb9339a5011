// SPDX-License-Identifier: Apache-2.0

// Package config loads the settings shared by gss-client and gss-server.
//
// Configuration comes from a single YAML file named by the --config flag or
// the GSS_HANDSHAKE_CONFIG environment variable.  There is no discovery;
// without either, the defaults apply and command-line flags fill the rest.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/golang-auth/gss-handshake"
)

// EnvConfig names the environment variable holding the config file path.
const EnvConfig = "GSS_HANDSHAKE_CONFIG"

// MaxSocketPath is the longest socket path that fits sockaddr_un.sun_path.
const MaxSocketPath = 107

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds the handshake settings.
type Config struct {
	// Provider is the registered GSSAPI provider name.
	Provider string `yaml:"provider"`

	SocketPath string `yaml:"socket_path"`

	// ServiceName is the target the client authenticates to, for example
	// host@server.example.
	ServiceName string `yaml:"service_name"`

	// NameType is how service and principal names are interpreted:
	// hostbased, user, principal or export.
	NameType string `yaml:"name_type"`

	// Principal is the server's acceptor identity.  Empty selects the
	// mechanism default.
	Principal string `yaml:"principal"`

	Keytab string `yaml:"keytab"`

	// Flags are the short names of the context flags to request and require.
	Flags []string `yaml:"flags"`

	MaxFrameSize uint32        `yaml:"max_frame_size"`
	IOTimeout    time.Duration `yaml:"io_timeout"`
	Backlog      int           `yaml:"backlog"`

	// AuditLog is a file the server appends CBOR handshake records to.
	AuditLog string `yaml:"audit_log"`

	Log LogConfig `yaml:"log"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn or error
	Format string `yaml:"format"` // text or json
}

// Default returns the configuration used before a file or flags are applied.
func Default() *Config {
	return &Config{
		Provider: "krb5",
		NameType: "hostbased",
		Flags:    []string{"mutual"},
		Backlog:  1,
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads the file named by path, or by GSS_HANDSHAKE_CONFIG when path is
// empty.  With neither set the defaults are returned.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		return Default(), nil
	}

	return LoadFile(path)
}

// LoadFile reads configuration from path on top of the defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()
	if err := cfg.decode(data); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	err := dec.Decode(c)
	if errors.Is(err, io.EOF) {
		// empty file
		return nil
	}

	return err
}

// ContextFlags returns the configured flags as a composite value.
func (c *Config) ContextFlags() (gssapi.ContextFlag, error) {
	return gssapi.ParseFlags(c.Flags)
}

// GssNameType returns the configured name type.
func (c *Config) GssNameType() (gssapi.GssNameType, error) {
	nt, err := gssapi.NameTypeFromString(c.NameType)
	if err != nil {
		return nil, fmt.Errorf("name type %q: %w", c.NameType, err)
	}

	return nt, nil
}

// Validate checks the settings common to both commands.
func (c *Config) Validate() error {
	var errs []error

	switch {
	case c.SocketPath == "":
		errs = append(errs, errors.New("socket_path is required"))
	case len(c.SocketPath) > MaxSocketPath:
		errs = append(errs, fmt.Errorf("socket_path is %d bytes, limit %d", len(c.SocketPath), MaxSocketPath))
	}

	if c.Provider == "" {
		errs = append(errs, errors.New("provider is required"))
	}
	if _, err := c.GssNameType(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.ContextFlags(); err != nil {
		errs = append(errs, err)
	}
	if c.IOTimeout < 0 {
		errs = append(errs, fmt.Errorf("io_timeout %s is negative", c.IOTimeout))
	}
	if c.Backlog < 0 {
		errs = append(errs, fmt.Errorf("backlog %d is negative", c.Backlog))
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}

	return nil
}

// ValidateClient additionally requires a target service name.
func (c *Config) ValidateClient() error {
	err := c.Validate()
	if c.ServiceName == "" {
		err = errors.Join(err, fmt.Errorf("%w: service_name is required", ErrInvalid))
	}

	return err
}
