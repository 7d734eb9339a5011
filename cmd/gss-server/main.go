// SPDX-License-Identifier: Apache-2.0

// gss-server accepts connections on a Unix socket and authenticates each
// client with a GSSAPI context handshake, one connection at a time.
//
// Usage:
//
//	gss-server -s <socket-path> [-p <principal>] [-k <keytab>] [flags]
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
	_ "github.com/golang-auth/gss-handshake/krb5"
	"github.com/golang-auth/gss-handshake/server"
)

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }
func (e usageError) ExitCode() int { return 2 }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr, nil)
	stop()

	if err != nil {
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run serves until ctx is done.  ready, when non-nil, is closed once the
// socket is listening.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, ready chan<- struct{}) error {
	var (
		configPath string
		debug      bool
	)

	cfg := config.Default()
	fs := pflag.NewFlagSet("gss-server", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&configPath, "config", "c", "", "configuration file (default $"+config.EnvConfig+")")
	fs.StringVarP(&cfg.SocketPath, "socket-path", "s", "", "socket to listen on")
	fs.StringVarP(&cfg.Principal, "principal", "p", "", "acceptor identity, eg. host@server.example (default: any key in the keytab)")
	fs.StringVarP(&cfg.Keytab, "keytab", "k", "", "key table (default $KRB5_KTNAME or the system keytab)")
	fs.StringVar(&cfg.Provider, "provider", cfg.Provider, "GSSAPI provider, one of: "+strings.Join(gssapi.Providers(), ", "))
	fs.StringVar(&cfg.NameType, "name-type", cfg.NameType, "principal name type: hostbased, user or principal")
	fs.StringSliceVarP(&cfg.Flags, "flags", "f", cfg.Flags, "context flags required of clients")
	fs.DurationVarP(&cfg.IOTimeout, "timeout", "t", 0, "per-frame I/O timeout (0 disables)")
	fs.IntVar(&cfg.Backlog, "backlog", cfg.Backlog, "listen backlog")
	fs.StringVar(&cfg.AuditLog, "audit-log", "", "append a CBOR record of every handshake to this file")
	fs.BoolVarP(&debug, "debug", "d", false, "debug logging, including token dumps")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: gss-server -s <socket-path> [-p <principal>] [-k <keytab>] [flags]\n\n%s", fs.FlagUsages())
	}

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

	flags := *cfg
	fromFile, err := config.Load(configPath)
	if err != nil {
		return err
	}
	*cfg = *fromFile
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "socket-path":
			cfg.SocketPath = flags.SocketPath
		case "principal":
			cfg.Principal = flags.Principal
		case "keytab":
			cfg.Keytab = flags.Keytab
		case "provider":
			cfg.Provider = flags.Provider
		case "name-type":
			cfg.NameType = flags.NameType
		case "flags":
			cfg.Flags = flags.Flags
		case "timeout":
			cfg.IOTimeout = flags.IOTimeout
		case "backlog":
			cfg.Backlog = flags.Backlog
		case "audit-log":
			cfg.AuditLog = flags.AuditLog
		}
	})

	if cfg.SocketPath == "" {
		fmt.Fprintln(stderr, "gss-server: a socket path is required")
		fs.Usage()
		return usageError{"missing required flags"}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(stderr, cfg.Log.Level, cfg.Log.Format, debug)
	if err != nil {
		return err
	}

	return serve(ctx, cfg, logger, stdout, ready)
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, stdout io.Writer, ready chan<- struct{}) error {
	provider, err := gssapi.NewProvider(cfg.Provider)
	if err != nil {
		return fmt.Errorf("provider %q: %w (available: %s)", cfg.Provider, err, strings.Join(gssapi.Providers(), ", "))
	}
	nt, err := cfg.GssNameType()
	if err != nil {
		return err
	}
	flags, err := cfg.ContextFlags()
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Waiting for clients:\n  Principal: %s\n  Socket: %s\n  Keytab: %s\n",
		orDefault(cfg.Principal), cfg.SocketPath, orDefault(cfg.Keytab))

	adapter := identity.New(provider, identity.WithNameType(nt))
	cred, err := adapter.AcquireAcceptorCredential(cfg.Principal, cfg.Keytab)
	if err != nil {
		return fmt.Errorf("unable to acquire credentials: %w", err)
	}
	defer func() {
		if err := cred.Release(); err != nil {
			logger.Warn("releasing credential", "error", err)
		}
	}()

	opts := []server.DispatcherOption{server.WithCredential(cred), server.WithLogger(logger)}
	if cfg.AuditLog != "" {
		audit, err := server.OpenAuditLog(cfg.AuditLog)
		if err != nil {
			return err
		}
		defer audit.Close()
		opts = append(opts, server.WithAuditLog(audit))
	}

	l, err := server.Listen(cfg.SocketPath, cfg.Backlog)
	if err != nil {
		return fmt.Errorf("unable to create server: %w", err)
	}

	engine := &handshake.Engine{
		Identity:     adapter,
		Flags:        flags,
		MaxFrameSize: cfg.MaxFrameSize,
		IOTimeout:    cfg.IOTimeout,
		Logger:       logger,
	}
	d := server.NewDispatcher(l, engine, opts...)

	if ready != nil {
		close(ready)
	}
	err = d.Serve(ctx)

	st := d.Stats()
	logger.Info("server stopped", "accepted", st.Accepted, "established", st.Established, "failed", st.Failed)

	return err
}

func orDefault(s string) string {
	if s == "" {
		return "default"
	}
	return s
}
