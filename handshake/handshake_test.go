// SPDX-License-Identifier: Apache-2.0

package handshake

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/golang-auth/gss-handshake"
	"github.com/golang-auth/gss-handshake/framing"
	"github.com/golang-auth/gss-handshake/identity"
	"github.com/golang-auth/gss-handshake/internal/mockgss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const target = "host@server.example"

type outcome struct {
	res *Result
	err error
}

func newEngine(p gssapi.Provider, flags gssapi.ContextFlag) *Engine {
	return &Engine{
		Identity:  identity.New(p),
		Flags:     flags,
		IOTimeout: 5 * time.Second,
	}
}

// runPair runs an initiator and an acceptor against each other over an
// in-memory connection.  Each side closes its end when it returns.
func runPair(t *testing.T, p gssapi.Provider, flags gssapi.ContextFlag) (ini, acc outcome) {
	t.Helper()

	a, b := net.Pipe()
	eng := newEngine(p, flags)
	ctx := context.Background()

	done := make(chan outcome, 1)
	go func() {
		res, err := eng.Accept(ctx, b, nil)
		b.Close()
		done <- outcome{res, err}
	}()

	res, err := eng.Initiate(ctx, a, target)
	a.Close()

	return outcome{res, err}, <-done
}

func requireHandshakeError(t *testing.T, err error) *Error {
	t.Helper()

	var herr *Error
	require.ErrorAs(t, err, &herr)
	return herr
}

func assertNoLeaks(t *testing.T, p *mockgss.Provider, contexts int) {
	t.Helper()

	c := p.Counters()
	names, ctxs := p.Outstanding()
	assert.Zero(t, names, "names not released")
	assert.Zero(t, ctxs, "contexts not deleted")
	assert.Zero(t, c.DoubleReleases)
	assert.Zero(t, c.DoubleDeletes)
	assert.Equal(t, contexts, c.Deletes)
}

func TestRounds(t *testing.T) {
	for _, k := range []int{0, 1, 3} {
		p := mockgss.New()
		p.Rounds = k

		ini, acc := runPair(t, p, gssapi.ContextFlagMutual)
		require.NoError(t, ini.err, "k=%d", k)
		require.NoError(t, acc.err, "k=%d", k)

		assert.Equal(t, StateEstablished, ini.res.State)
		assert.Equal(t, StateEstablished, acc.res.State)

		// k replies from the acceptor, each answered by the initiator
		assert.Equal(t, k, acc.res.TokensSent, "k=%d", k)
		assert.Equal(t, k, ini.res.TokensReceived, "k=%d", k)
		assert.Equal(t, max(k, 1), ini.res.TokensSent, "k=%d", k)
		assert.Equal(t, k+1, ini.res.Rounds, "k=%d", k)

		assertNoLeaks(t, p, 2)
	}
}

func TestScenario(t *testing.T) {
	assert := assert.New(t)

	p := mockgss.New()
	p.Rounds = 2
	p.Granted = gssapi.ContextFlagMutual | gssapi.ContextFlagInteg

	ini, acc := runPair(t, p, gssapi.ContextFlagMutual)
	require.NoError(t, ini.err)
	require.NoError(t, acc.err)

	assert.Equal(StateEstablished, ini.res.State)
	assert.Equal(StateEstablished, acc.res.State)
	assert.Equal("client@REALM", acc.res.PeerName)
	assert.Equal(target, ini.res.PeerName)
	assert.True(acc.res.Flags.Satisfies(gssapi.ContextFlagMutual))
	assert.Equal(gssapi.ContextFlagMutual|gssapi.ContextFlagInteg, ini.res.Flags)

	assertNoLeaks(t, p, 2)
	assert.Equal(1, p.Counters().Imports)
}

func TestFlagsNotSatisfied(t *testing.T) {
	p := mockgss.New()
	p.Granted = gssapi.ContextFlagInteg

	ini, acc := runPair(t, p, gssapi.ContextFlagMutual)

	for _, o := range []outcome{ini, acc} {
		assert.ErrorIs(t, o.err, ErrFlagsNotSatisfied)
		herr := requireHandshakeError(t, o.err)
		assert.Equal(t, KindProtocol, herr.Kind)
		assert.Equal(t, StateEstablished, herr.State, "check happens only once established")
		assert.Equal(t, StateFailed, o.res.State)
	}

	assertNoLeaks(t, p, 2)
}

func TestAcceptorMechanismFailure(t *testing.T) {
	p := mockgss.New()
	p.Rounds = 3
	p.FailAcceptAt = 2

	ini, acc := runPair(t, p, gssapi.ContextFlagMutual)

	herr := requireHandshakeError(t, acc.err)
	assert.Equal(t, KindMechanism, herr.Kind)
	assert.Equal(t, RoleAcceptor, herr.Role)
	assert.Equal(t, StateNegotiating, herr.State)
	assert.ErrorIs(t, acc.err, mockgss.ErrScriptedFailure)
	assert.Contains(t, acc.err.Error(), "minor=13")

	herr = requireHandshakeError(t, ini.err)
	assert.Equal(t, KindTransport, herr.Kind)
	assert.ErrorIs(t, ini.err, framing.ErrPeerClosed)

	assertNoLeaks(t, p, 2)
}

func TestInitiatorMechanismFailure(t *testing.T) {
	p := mockgss.New()
	p.FailInitAt = 1

	ini, acc := runPair(t, p, gssapi.ContextFlagMutual)

	herr := requireHandshakeError(t, ini.err)
	assert.Equal(t, KindMechanism, herr.Kind)
	assert.Equal(t, 0, herr.Round)
	assert.ErrorIs(t, ini.err, gssapi.ErrDefectiveToken)
	assert.Zero(t, ini.res.TokensSent)

	herr = requireHandshakeError(t, acc.err)
	assert.Equal(t, KindTransport, herr.Kind)
	assert.Equal(t, StateStart, herr.State)
	assert.ErrorIs(t, acc.err, framing.ErrPeerClosed)

	assertNoLeaks(t, p, 2)
}

func TestInformationalStatusIsViolation(t *testing.T) {
	p := mockgss.New()
	p.InfoOnlyAt = 1

	ini, _ := runPair(t, p, gssapi.ContextFlagMutual)

	herr := requireHandshakeError(t, ini.err)
	assert.Equal(t, KindProtocol, herr.Kind)
	assert.ErrorIs(t, ini.err, ErrProtocolViolation)
	assert.ErrorIs(t, ini.err, gssapi.InfoDuplicateToken)

	assertNoLeaks(t, p, 2)
}

func TestTransportFailure(t *testing.T) {
	p := mockgss.New()
	eng := newEngine(p, gssapi.ContextFlagMutual)

	// the peer reads the first token then hangs up mid-frame
	a, b := net.Pipe()
	go func() {
		_, _ = framing.ReadFrame(b, 0)
		_, _ = b.Write([]byte{0, 0, 0, 9, 'x'})
		b.Close()
	}()

	res, err := eng.Initiate(context.Background(), a, target)
	a.Close()

	herr := requireHandshakeError(t, err)
	assert.Equal(t, KindTransport, herr.Kind)
	assert.NotErrorIs(t, err, framing.ErrPeerClosed)
	assert.Equal(t, StateFailed, res.State)

	assertNoLeaks(t, p, 1)
}

func TestStalledPeer(t *testing.T) {
	p := mockgss.New()
	eng := newEngine(p, gssapi.ContextFlagMutual)
	eng.IOTimeout = 50 * time.Millisecond

	a, b := net.Pipe()
	defer b.Close()
	defer a.Close()

	_, err := eng.Accept(context.Background(), a, nil)
	herr := requireHandshakeError(t, err)
	assert.Equal(t, KindTransport, herr.Kind)
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)

	assertNoLeaks(t, p, 1)
}

func TestCancel(t *testing.T) {
	p := mockgss.New()
	eng := newEngine(p, gssapi.ContextFlagMutual)

	a, b := net.Pipe()
	defer b.Close()
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := eng.Accept(ctx, a, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assertNoLeaks(t, p, 1)
}

func TestImportFailure(t *testing.T) {
	p := mockgss.New()
	eng := newEngine(p, gssapi.ContextFlagMutual)

	a, b := net.Pipe()
	defer b.Close()
	defer a.Close()

	res, err := eng.Initiate(context.Background(), a, "not a service")
	herr := requireHandshakeError(t, err)
	assert.Equal(t, KindMechanism, herr.Kind)
	assert.Equal(t, StateStart, herr.State)
	assert.ErrorIs(t, err, identity.ErrNameImport)
	assert.Equal(t, StateFailed, res.State)
	assert.Zero(t, p.Counters().Contexts)
}

// lazyProvider hands out contexts that stop without establishing
type lazyProvider struct {
	*mockgss.Provider
	deletes int
}

type lazyContext struct {
	p *lazyProvider
}

func (p *lazyProvider) InitSecContext(gssapi.GssName, ...gssapi.InitSecContextOption) (gssapi.SecContext, error) {
	return lazyContext{p}, nil
}

func (c lazyContext) Continue([]byte) ([]byte, error) { return []byte("tok"), nil }
func (c lazyContext) ContinueNeeded() bool            { return false }
func (c lazyContext) Inquire() (*gssapi.SecContextInfo, error) {
	return &gssapi.SecContextInfo{LocallyInitiated: true}, nil
}
func (c lazyContext) Delete() error {
	c.p.deletes++
	return nil
}

func TestNotEstablishedIsViolation(t *testing.T) {
	p := &lazyProvider{Provider: mockgss.New()}
	eng := newEngine(p, gssapi.ContextFlagMutual)

	a, b := net.Pipe()
	defer b.Close()
	defer a.Close()
	go func() { _, _ = framing.ReadFrame(b, 0) }()

	res, err := eng.Initiate(context.Background(), a, target)
	herr := requireHandshakeError(t, err)
	assert.Equal(t, KindProtocol, herr.Kind)
	assert.ErrorIs(t, err, ErrProtocolViolation)
	assert.Equal(t, 1, res.TokensSent)
	assert.Equal(t, 1, p.deletes)
}

func TestErrorString(t *testing.T) {
	err := &Error{
		Kind:  KindMechanism,
		Role:  RoleAcceptor,
		State: StateNegotiating,
		Round: 2,
		Err:   gssapi.NewFatalStatus(gssapi.ErrBadMic, 5),
	}

	assert.Equal(t, "acceptor: mechanism error in negotiating state at round 2: "+
		"a token had an invalid signature (major=0x00060000 minor=5)", err.Error())
	assert.ErrorIs(t, err, gssapi.ErrBadMic)
}
