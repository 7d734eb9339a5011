// SPDX-License-Identifier: Apache-2.0

// gss-client authenticates to a gss-server over a Unix socket.
//
// Usage:
//
//	gss-client -n <service> -s <socket-path> [flags]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/golang-auth/gss-handshake"
	"github.com/golang-auth/gss-handshake/config"
	"github.com/golang-auth/gss-handshake/handshake"
	"github.com/golang-auth/gss-handshake/identity"
	"github.com/golang-auth/gss-handshake/internal/logging"
	"github.com/golang-auth/gss-handshake/krb5"
	"github.com/golang-auth/gss-handshake/server"
)

// usageError reports a command line problem; the process exits with 2.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }
func (e usageError) ExitCode() int { return 2 }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()

	if err != nil {
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath      string
	debug           bool
	clientKeytab    string
	clientPrincipal string
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var opts options
	cfg, fs := flagSet(&opts, stderr)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		fmt.Fprintln(stderr, err)
		fs.Usage()
		return usageError{err.Error()}
	}
	if fs.NArg() > 0 {
		fs.Usage()
		return usageError{"unexpected argument: " + fs.Arg(0)}
	}

	if err := loadConfig(fs, &opts, cfg); err != nil {
		return err
	}

	if cfg.ServiceName == "" || cfg.SocketPath == "" {
		fmt.Fprintln(stderr, "gss-client: a service name and a socket path are required")
		fs.Usage()
		return usageError{"missing required flags"}
	}
	if err := cfg.ValidateClient(); err != nil {
		return err
	}

	logger, err := logging.New(stderr, cfg.Log.Level, cfg.Log.Format, opts.debug)
	if err != nil {
		return err
	}

	provider, err := newProvider(cfg, &opts)
	if err != nil {
		var ue usageError
		if errors.As(err, &ue) {
			fmt.Fprintln(stderr, "gss-client:", ue.msg)
			fs.Usage()
		}
		return err
	}

	return authenticate(ctx, cfg, provider, logger, stdout)
}

// flagSet binds the command line to a fresh Config.  Values given on the
// command line are re-applied over the config file by loadConfig.
func flagSet(opts *options, stderr io.Writer) (*config.Config, *pflag.FlagSet) {
	cfg := config.Default()

	fs := pflag.NewFlagSet("gss-client", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&opts.configPath, "config", "c", "", "configuration file (default $"+config.EnvConfig+")")
	fs.StringVarP(&cfg.ServiceName, "name", "n", "", "service to authenticate to, eg. host@server.example")
	fs.StringVarP(&cfg.SocketPath, "socket-path", "s", "", "server socket")
	fs.StringVar(&cfg.Provider, "provider", cfg.Provider, "GSSAPI provider, one of: "+strings.Join(gssapi.Providers(), ", "))
	fs.StringVar(&cfg.NameType, "name-type", cfg.NameType, "service name type: hostbased, user or principal")
	fs.StringSliceVarP(&cfg.Flags, "flags", "f", cfg.Flags, "context flags to request")
	fs.DurationVarP(&cfg.IOTimeout, "timeout", "t", 0, "per-frame I/O timeout (0 disables)")
	fs.StringVar(&opts.clientKeytab, "client-keytab", "", "authenticate from this keytab instead of the credential cache")
	fs.StringVar(&opts.clientPrincipal, "client-principal", "", "client principal (user@REALM) for --client-keytab")
	fs.BoolVarP(&opts.debug, "debug", "d", false, "debug logging, including token dumps")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: gss-client -n <service> -s <socket-path> [flags]\n\n%s", fs.FlagUsages())
	}

	return cfg, fs
}

// loadConfig reads the config file and re-applies the flags that were set
// explicitly, so the command line wins.
func loadConfig(fs *pflag.FlagSet, opts *options, cfg *config.Config) error {
	fromFile, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	flags := *cfg
	*cfg = *fromFile

	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "name":
			cfg.ServiceName = flags.ServiceName
		case "socket-path":
			cfg.SocketPath = flags.SocketPath
		case "provider":
			cfg.Provider = flags.Provider
		case "name-type":
			cfg.NameType = flags.NameType
		case "flags":
			cfg.Flags = flags.Flags
		case "timeout":
			cfg.IOTimeout = flags.IOTimeout
		}
	})

	return nil
}

func newProvider(cfg *config.Config, opts *options) (gssapi.Provider, error) {
	if opts.clientKeytab == "" {
		return newRegisteredProvider(cfg.Provider)
	}

	if cfg.Provider != krb5.ProviderName {
		return nil, usageError{"--client-keytab needs the krb5 provider"}
	}
	at := strings.LastIndexByte(opts.clientPrincipal, '@')
	if at < 1 || at == len(opts.clientPrincipal)-1 {
		return nil, usageError{"--client-keytab needs --client-principal user@REALM"}
	}

	src, err := krb5.NewKeytabTicketSource(opts.clientPrincipal[:at], opts.clientPrincipal[at+1:], opts.clientKeytab)
	if err != nil {
		return nil, fmt.Errorf("logging in from keytab %s: %w", opts.clientKeytab, err)
	}

	return krb5.New(krb5.WithTicketSource(src)), nil
}

func newRegisteredProvider(name string) (gssapi.Provider, error) {
	p, err := gssapi.NewProvider(name)
	if err != nil {
		return nil, fmt.Errorf("provider %q: %w (available: %s)", name, err, strings.Join(gssapi.Providers(), ", "))
	}

	return p, nil
}

func authenticate(ctx context.Context, cfg *config.Config, provider gssapi.Provider, logger *slog.Logger, stdout io.Writer) error {
	nt, err := cfg.GssNameType()
	if err != nil {
		return err
	}
	flags, err := cfg.ContextFlags()
	if err != nil {
		return err
	}

	engine := &handshake.Engine{
		Identity:     identity.New(provider, identity.WithNameType(nt)),
		Flags:        flags,
		MaxFrameSize: cfg.MaxFrameSize,
		IOTimeout:    cfg.IOTimeout,
		Logger:       logger,
	}

	fmt.Fprintf(stdout, "Trying to establish security context:\n  Service: %s\n  Socket: %s\n", cfg.ServiceName, cfg.SocketPath)

	conn, err := server.Dial(cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("unable to connect to the server: %w", err)
	}
	defer conn.Close()

	res, err := engine.Initiate(ctx, conn, cfg.ServiceName)
	if err != nil {
		return fmt.Errorf("unable to establish security context: %w", err)
	}

	logger.Info("security context established",
		"service", cfg.ServiceName, "peer", res.PeerName, "flags", res.Flags.String(), "rounds", res.Rounds)
	fmt.Fprintf(stdout, "Security context with %s successfully established.\n", cfg.ServiceName)

	return nil
}
