// SPDX-License-Identifier: Apache-2.0

// Package handshake runs the GSSAPI security context establishment loop
// over a framed stream.
//
// The initiator always speaks first.  Each round feeds the peer's last token
// to the mechanism, sends whatever token the mechanism produced and, while
// the mechanism asks to continue, waits for the next token.  A handshake is
// one-shot: nothing is retried and the security context is deleted when the
// handshake returns, whatever the outcome.
package handshake

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/golang-auth/gss-handshake"
	"github.com/golang-auth/gss-handshake/framing"
	"github.com/golang-auth/gss-handshake/identity"
)

// Role selects the side of the handshake.
type Role int

const (
	RoleInitiator Role = iota
	RoleAcceptor
)

func (r Role) String() string {
	if r == RoleAcceptor {
		return "acceptor"
	}
	return "initiator"
}

// State is a handshake state.  StateEstablished and StateFailed are terminal.
type State int

const (
	StateStart State = iota
	StateNegotiating
	StateEstablished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateNegotiating:
		return "negotiating"
	case StateEstablished:
		return "established"
	case StateFailed:
		return "failed"
	}

	return "unknown"
}

// Result reports the outcome of a handshake.  It is returned on failure as
// well, describing how far the handshake got.
type Result struct {
	Role           Role
	State          State
	Flags          gssapi.ContextFlag // negotiated flags, valid once established
	PeerName       string             // authenticated peer identity, when the mechanism reports it
	ExpiresAt      gssapi.GssLifetime
	Rounds         int // mechanism steps performed
	TokensSent     int
	TokensReceived int
}

// Engine holds the settings shared by every handshake.  An Engine is
// read-only once in use and may be shared between goroutines.
type Engine struct {
	// Identity supplies the provider and imports target names.
	Identity *identity.Adapter

	// Flags are requested by the initiator and required of the finished
	// context on both sides.
	Flags gssapi.ContextFlag

	// MaxFrameSize bounds incoming tokens; zero selects the framing default.
	MaxFrameSize uint32

	// IOTimeout bounds each frame read and write; zero disables it.
	IOTimeout time.Duration

	Logger *slog.Logger
}

// Initiate establishes a context with the service named target over conn.
func (e *Engine) Initiate(ctx context.Context, conn net.Conn, target string) (*Result, error) {
	h := e.newRun(conn, RoleInitiator)

	name, err := e.Identity.ImportName(target)
	if err != nil {
		return h.fail(KindMechanism, err)
	}
	defer h.release(name)

	sc, err := e.Identity.Provider().InitSecContext(name, gssapi.WithInitiatorFlags(e.Flags))
	if err != nil {
		return h.fail(KindMechanism, fmt.Errorf("creating security context: %w", err))
	}

	return h.run(ctx, sc)
}

// Accept authenticates the initiator on conn using cred, which may be nil
// for the provider's default acceptor credential.  On success the result
// carries the initiator's name.
func (e *Engine) Accept(ctx context.Context, conn net.Conn, cred gssapi.Credential) (*Result, error) {
	h := e.newRun(conn, RoleAcceptor)

	var opts []gssapi.AcceptSecContextOption
	if cred != nil {
		opts = append(opts, gssapi.WithAcceptorCredential(cred))
	}

	sc, err := e.Identity.Provider().AcceptSecContext(opts...)
	if err != nil {
		return h.fail(KindMechanism, fmt.Errorf("creating security context: %w", err))
	}

	return h.run(ctx, sc)
}

// handshakeRun is the state of one handshake attempt
type handshakeRun struct {
	e     *Engine
	fc    *framing.Conn
	log   *slog.Logger
	res   Result
	round int
}

func (e *Engine) newRun(conn net.Conn, role Role) *handshakeRun {
	logger := e.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &handshakeRun{
		e:   e,
		fc:  framing.NewConn(conn, framing.WithMaxFrameSize(e.MaxFrameSize), framing.WithTimeout(e.IOTimeout)),
		log: logger.With("role", role.String()),
		res: Result{Role: role, State: StateStart},
	}
}

func (h *handshakeRun) fail(kind ErrorKind, err error) (*Result, error) {
	herr := &Error{Kind: kind, Role: h.res.Role, State: h.res.State, Round: h.round, Err: err}
	h.res.State = StateFailed
	h.log.Debug("handshake failed", "kind", kind.String(), "round", h.round, "error", err)

	return &h.res, herr
}

func (h *handshakeRun) release(name gssapi.GssName) {
	if name == nil {
		return
	}
	if err := name.Release(); err != nil {
		h.log.Warn("releasing name", "error", err)
	}
}

func (h *handshakeRun) run(ctx context.Context, sc gssapi.SecContext) (*Result, error) {
	defer func() {
		if err := sc.Delete(); err != nil {
			h.log.Warn("deleting security context", "error", err)
		}
	}()

	var tokIn []byte
	if h.res.Role == RoleAcceptor {
		var err error
		if tokIn, err = h.recv(ctx); err != nil {
			return h.fail(KindTransport, err)
		}
	}

	h.res.State = StateNegotiating

	for {
		tokOut, err := sc.Continue(tokIn)
		tokIn = nil
		h.res.Rounds++

		if err != nil {
			if len(tokOut) > 0 {
				// error tokens (eg. KRB-ERROR) are a courtesy to the peer
				_ = h.send(ctx, tokOut)
			}
			kind := stepError(err)
			if kind == KindProtocol {
				err = fmt.Errorf("%w: informational status only: %w", ErrProtocolViolation, err)
			}
			return h.fail(kind, err)
		}

		more := sc.ContinueNeeded()
		if len(tokOut) > 0 || more {
			if err := h.send(ctx, tokOut); err != nil {
				return h.fail(KindTransport, err)
			}
		}

		if !more {
			break
		}

		h.round++
		if tokIn, err = h.recv(ctx); err != nil {
			return h.fail(KindTransport, err)
		}
	}

	return h.establish(sc)
}

// establish confirms completion, records the peer and checks the flags.
func (h *handshakeRun) establish(sc gssapi.SecContext) (*Result, error) {
	info, err := sc.Inquire()
	if err != nil {
		return h.fail(KindMechanism, fmt.Errorf("inquiring context: %w", err))
	}
	defer h.release(info.InitiatorName)
	defer h.release(info.AcceptorName)

	if !info.FullyEstablished {
		return h.fail(KindProtocol, fmt.Errorf("%w: mechanism finished without establishing the context", ErrProtocolViolation))
	}

	h.res.State = StateEstablished
	h.res.Flags = info.Flags
	h.res.ExpiresAt = info.ExpiresAt

	peer := info.AcceptorName
	if h.res.Role == RoleAcceptor {
		peer = info.InitiatorName
	}
	if peer != nil || h.res.Role == RoleAcceptor {
		text, err := h.e.Identity.ExportName(peer)
		if err != nil {
			return h.fail(KindMechanism, err)
		}
		h.res.PeerName = text
	}

	if missing := info.Flags.Missing(h.e.Flags); missing != 0 {
		return h.fail(KindProtocol, fmt.Errorf("%w: missing %s", ErrFlagsNotSatisfied, missing))
	}

	h.log.Debug("security context established",
		"peer", h.res.PeerName, "flags", info.Flags.String(), "rounds", h.res.Rounds, "expires", info.ExpiresAt.String())

	return &h.res, nil
}

func (h *handshakeRun) send(ctx context.Context, tok []byte) error {
	if err := h.fc.Send(ctx, tok); err != nil {
		return err
	}
	h.res.TokensSent++

	if h.log.Enabled(ctx, slog.LevelDebug) {
		h.log.Debug("sent context token", "round", h.round, "bytes", len(tok), "token", formatToken(tok))
	}

	return nil
}

func (h *handshakeRun) recv(ctx context.Context) ([]byte, error) {
	tok, err := h.fc.Recv(ctx)
	if err != nil {
		return nil, fmt.Errorf("waiting for token: %w", err)
	}
	h.res.TokensReceived++

	if h.log.Enabled(ctx, slog.LevelDebug) {
		h.log.Debug("read context token", "round", h.round, "bytes", len(tok), "token", formatToken(tok))
	}

	return tok, nil
}

func formatToken(tok []byte) string {
	b := &strings.Builder{}

	bd := hex.Dumper(b)
	bd.Write(tok) //nolint:errcheck
	bd.Close()    //nolint:errcheck

	return b.String()
}
