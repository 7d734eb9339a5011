// SPDX-License-Identifier: Apache-2.0

// Package server accepts connections on a Unix socket and authenticates
// each one with the acceptor side of the handshake.
//
// Connections are handled strictly one at a time: the next connection is not
// accepted until the current handshake has finished and its connection is
// closed.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/golang-auth/gss-handshake"
	"github.com/golang-auth/gss-handshake/handshake"
)

// PeerCred holds the operating system credentials of a connected peer.
type PeerCred struct {
	PID int32
	UID uint32
	GID uint32
}

// Stats counts dispatcher activity.
type Stats struct {
	Accepted    int64
	Established int64
	Failed      int64
}

// Dispatcher serves handshakes on a listener.
type Dispatcher struct {
	listener   net.Listener
	engine     *handshake.Engine
	credential gssapi.Credential
	audit      *AuditLog
	logger     *slog.Logger

	accepted    atomic.Int64
	established atomic.Int64
	failed      atomic.Int64
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(d *Dispatcher)

// WithCredential sets the acceptor credential handed to every handshake.
// The credential must outlive the dispatcher.
func WithCredential(cred gssapi.Credential) DispatcherOption {
	return func(d *Dispatcher) {
		d.credential = cred
	}
}

// WithAuditLog records the outcome of every handshake.
func WithAuditLog(a *AuditLog) DispatcherOption {
	return func(d *Dispatcher) {
		d.audit = a
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher returns a dispatcher that owns l and closes it when Serve
// returns.
func NewDispatcher(l net.Listener, engine *handshake.Engine, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{listener: l, engine: engine, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Accepted:    d.accepted.Load(),
		Established: d.established.Load(),
		Failed:      d.failed.Load(),
	}
}

// Serve accepts and authenticates connections until ctx is cancelled or
// accepting fails.  Cancellation closes the listener, which for a
// *Listener also unlinks its socket file, and Serve returns nil once the
// close has finished.  A
// failed handshake is logged and does not stop the dispatcher.
func (d *Dispatcher) Serve(ctx context.Context) error {
	closed := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(closed)
		if err := d.listener.Close(); err != nil {
			d.logger.Warn("closing listener", "error", err)
		}
	})
	// the socket file must be gone by the time Serve returns
	defer func() {
		if stop() {
			d.listener.Close()
			return
		}
		<-closed
	}()

	d.logger.Info("listening for connections", "address", d.listener.Addr().String())

	for {
		conn, err := d.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				d.logger.Info("dispatcher stopped")
				return nil
			}
			return fmt.Errorf("accepting connection: %w", err)
		}

		d.handle(ctx, conn)
	}
}

func (d *Dispatcher) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	id := d.accepted.Add(1)
	logger := d.logger.With("conn", id)

	rec := AuditRecord{Time: time.Now().UTC()}

	peer, err := peerCredentials(conn)
	switch {
	case err == nil:
		logger = logger.With("peer_pid", peer.PID, "peer_uid", peer.UID, "peer_gid", peer.GID)
		rec.PeerPID, rec.PeerUID = &peer.PID, &peer.UID
	case !errors.Is(err, errors.ErrUnsupported):
		logger.Warn("reading peer credentials", "error", err)
	}

	logger.Info("accepted connection")

	res, err := d.engine.Accept(ctx, conn, d.credential)
	if res != nil {
		rec.Rounds = res.Rounds
		rec.Peer = res.PeerName
		rec.Flags = res.Flags.Names()
	}

	if err != nil {
		d.failed.Add(1)
		rec.Outcome = handshake.StateFailed.String()
		rec.Error = err.Error()
		var herr *handshake.Error
		if errors.As(err, &herr) {
			rec.ErrorKind = herr.Kind.String()
		}
		logger.Error("unable to establish security context", "error", err)
	} else {
		d.established.Add(1)
		rec.Outcome = handshake.StateEstablished.String()
		logger.Info("security context established",
			"peer", res.PeerName, "flags", res.Flags.String(), "rounds", res.Rounds)
	}

	if d.audit != nil {
		if err := d.audit.Record(rec); err != nil {
			logger.Warn("audit", "error", err)
		}
	}
}
