// SPDX-License-Identifier: Apache-2.0

// Package mockgss is a scripted GSSAPI provider for tests.  It speaks a
// trivial k-round token protocol and counts every handle it hands out so
// tests can check that names and contexts are released exactly once.
package mockgss

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/golang-auth/gss-handshake"
)

// ProviderName is the registry name of the mock provider.
const ProviderName = "mock"

// DefaultPeerName is the initiator identity reported to acceptors.
const DefaultPeerName = "client@REALM"

func init() {
	gssapi.RegisterProvider(ProviderName, func() (gssapi.Provider, error) {
		return New(), nil
	})
}

// Counters records handle activity on a Provider.
type Counters struct {
	Imports          int // names created by ImportName
	PeerNames        int // names created by Inquire
	Releases         int // successful name releases
	DoubleReleases   int // Release calls on an already released name
	Contexts         int // security contexts created
	Deletes          int // successful context deletes
	DoubleDeletes    int // Delete calls on an already deleted context
	Credentials      int
	CredReleases     int
	RegisteredKeytab string
}

// Provider is a mock gssapi.Provider.  Set the exported fields before use.
type Provider struct {
	// Rounds is the number of token exchanges needed after the initiator's
	// first token before the initiator is complete.
	Rounds int

	// Granted are the flags reported once the context is established.
	Granted gssapi.ContextFlag

	// PeerName is the initiator name reported to the acceptor.
	PeerName string

	// FailInitAt and FailAcceptAt make the n'th (1-based) Continue call on
	// the respective side fail.  Zero disables the failure.
	FailInitAt   int
	FailAcceptAt int

	// InfoOnlyAt makes the n'th initiator step return a bare informational
	// status.
	InfoOnlyAt int

	// RejectNames lists names that ImportName refuses.
	RejectNames []string

	mu sync.Mutex
	c  Counters
}

var _ gssapi.ProviderExtKrb5Identity = (*Provider)(nil)

// New returns a provider completing in one round and granting mutual
// authentication and integrity.
func New() *Provider {
	return &Provider{
		Rounds:   1,
		Granted:  gssapi.ContextFlagMutual | gssapi.ContextFlagInteg,
		PeerName: DefaultPeerName,
	}
}

// Counters returns a snapshot of the handle counters.
func (p *Provider) Counters() Counters {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.c
}

// Outstanding returns the number of names and contexts not yet released.
func (p *Provider) Outstanding() (names, contexts int) {
	c := p.Counters()
	return c.Imports + c.PeerNames - c.Releases, c.Contexts - c.Deletes
}

func (p *Provider) Name() string {
	return ProviderName
}

func (p *Provider) RegisterAcceptorIdentity(identity string) error {
	if identity == "" {
		return errors.New("empty keytab name")
	}
	p.mu.Lock()
	p.c.RegisteredKeytab = identity
	p.mu.Unlock()
	return nil
}

func (p *Provider) ImportName(name string, nameType gssapi.GssNameType) (gssapi.GssName, error) {
	if name == "" || strings.ContainsAny(name, " \t\n") {
		return nil, gssapi.NewFatalStatus(gssapi.ErrBadName, 1, fmt.Errorf("malformed name %q", name))
	}
	for _, r := range p.RejectNames {
		if r == name {
			return nil, gssapi.NewFatalStatus(gssapi.ErrBadName, 2, fmt.Errorf("unknown name %q", name))
		}
	}

	p.mu.Lock()
	p.c.Imports++
	p.mu.Unlock()

	return &mockName{p: p, text: name, nt: nameType}, nil
}

func (p *Provider) AcquireCredential(name gssapi.GssName, mechs []gssapi.GssMech, usage gssapi.CredUsage, lifetime *gssapi.GssLifetime) (gssapi.Credential, error) {
	c := &mockCred{p: p, usage: usage}
	if name != nil {
		disp, nt, err := name.Display()
		if err != nil {
			return nil, err
		}
		c.name, c.nt = disp, nt
	}

	p.mu.Lock()
	p.c.Credentials++
	p.mu.Unlock()

	return c, nil
}

func (p *Provider) InitSecContext(name gssapi.GssName, opts ...gssapi.InitSecContextOption) (gssapi.SecContext, error) {
	o := gssapi.InitSecContextOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	target, _, err := name.Display()
	if err != nil {
		return nil, err
	}

	return p.newContext(true, target, o.Flags), nil
}

func (p *Provider) AcceptSecContext(opts ...gssapi.AcceptSecContextOption) (gssapi.SecContext, error) {
	o := gssapi.AcceptSecContextOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if c, ok := o.Credential.(*mockCred); ok && c.usage == gssapi.CredUsageInitiateOnly {
		return nil, gssapi.NewFatalStatus(gssapi.ErrNoCred, 3)
	}

	return p.newContext(false, "", 0), nil
}

func (p *Provider) newContext(initiator bool, target string, flags gssapi.ContextFlag) *mockContext {
	p.mu.Lock()
	p.c.Contexts++
	p.mu.Unlock()

	return &mockContext{p: p, initiator: initiator, target: target, requested: flags, continueNeeded: true}
}

type mockName struct {
	p        *Provider
	text     string
	nt       gssapi.GssNameType
	released bool
}

func (n *mockName) Display() (string, gssapi.GssNameType, error) {
	if n.released {
		return "", nil, gssapi.ErrBadName
	}
	return n.text, n.nt, nil
}

func (n *mockName) Release() error {
	n.p.mu.Lock()
	defer n.p.mu.Unlock()

	if n.released {
		n.p.c.DoubleReleases++
		return gssapi.ErrBadName
	}
	n.released = true
	n.p.c.Releases++
	return nil
}

type mockCred struct {
	p     *Provider
	name  string
	nt    gssapi.GssNameType
	usage gssapi.CredUsage
}

func (c *mockCred) Release() error {
	c.p.mu.Lock()
	c.p.c.CredReleases++
	c.p.mu.Unlock()
	return nil
}

func (c *mockCred) Inquire() (*gssapi.CredInfo, error) {
	return &gssapi.CredInfo{
		Name:           c.name,
		NameType:       c.nt,
		AcceptorExpiry: gssapi.GssLifetime{Status: gssapi.GssLifetimeIndefinite},
		Usage:          c.usage,
		Mechs:          []gssapi.GssMech{gssapi.GSS_MECH_KRB5},
	}, nil
}

// mockContext implements a Rounds-round protocol.  Initiator step i emits
// "init-i" and asks to continue while i < Rounds.  Acceptor step j answers
// "acc-j" until its last step, which completes and emits "acc-final" (or
// nothing at all when Rounds is zero).  The initiator completes when it
// consumes "acc-final".
type mockContext struct {
	p              *Provider
	initiator      bool
	target         string
	requested      gssapi.ContextFlag
	step           int
	continueNeeded bool
	established    bool
	deleted        bool
}

var ErrScriptedFailure = errors.New("scripted mechanism failure")

func (c *mockContext) Continue(tokIn []byte) ([]byte, error) {
	if c.deleted {
		return nil, gssapi.NewFatalStatus(gssapi.ErrNoContext, 0)
	}
	if !c.continueNeeded {
		return nil, gssapi.NewFatalStatus(gssapi.ErrBadStatus, 0)
	}

	i := c.step
	c.step++

	if c.initiator {
		return c.initiatorStep(i, tokIn)
	}
	return c.acceptorStep(i, tokIn)
}

func (c *mockContext) initiatorStep(i int, tokIn []byte) ([]byte, error) {
	if c.p.FailInitAt == i+1 {
		c.continueNeeded = false
		return nil, gssapi.NewFatalStatus(gssapi.ErrDefectiveToken, 42, ErrScriptedFailure)
	}
	if c.p.InfoOnlyAt == i+1 {
		return nil, gssapi.NewInfoStatus(gssapi.InfoDuplicateToken)
	}

	var want []byte
	switch {
	case i == 0:
		want = nil
	case i == c.p.Rounds:
		want = []byte("acc-final")
	default:
		want = []byte(fmt.Sprintf("acc-%d", i-1))
	}
	if !bytes.Equal(want, tokIn) {
		c.continueNeeded = false
		return nil, gssapi.NewFatalStatus(gssapi.ErrDefectiveToken, 7, fmt.Errorf("initiator step %d: unexpected token %q", i, tokIn))
	}

	if i > 0 && i == c.p.Rounds {
		c.continueNeeded = false
		c.established = true
		return nil, nil
	}

	c.continueNeeded = i < c.p.Rounds
	if !c.continueNeeded {
		c.established = true
	}

	return []byte(fmt.Sprintf("init-%d", i)), nil
}

func (c *mockContext) acceptorStep(j int, tokIn []byte) ([]byte, error) {
	if c.p.FailAcceptAt == j+1 {
		c.continueNeeded = false
		return nil, gssapi.NewFatalStatus(gssapi.ErrFailure, 13, ErrScriptedFailure)
	}

	if want := fmt.Sprintf("init-%d", j); string(tokIn) != want {
		c.continueNeeded = false
		return nil, gssapi.NewFatalStatus(gssapi.ErrDefectiveToken, 8, fmt.Errorf("acceptor step %d: unexpected token %q", j, tokIn))
	}

	if j+1 < c.p.Rounds {
		return []byte(fmt.Sprintf("acc-%d", j)), nil
	}

	c.continueNeeded = false
	c.established = true
	if c.p.Rounds == 0 {
		return nil, nil
	}
	return []byte("acc-final"), nil
}

func (c *mockContext) ContinueNeeded() bool {
	return c.continueNeeded
}

func (c *mockContext) Inquire() (*gssapi.SecContextInfo, error) {
	if c.deleted {
		return nil, gssapi.ErrNoContext
	}

	info := &gssapi.SecContextInfo{
		Mech:             gssapi.GSS_MECH_KRB5,
		LocallyInitiated: c.initiator,
		FullyEstablished: c.established,
		ExpiresAt:        gssapi.GssLifetime{Status: gssapi.GssLifetimeIndefinite},
	}
	if c.established {
		info.Flags = c.p.Granted
	}

	if !c.initiator && c.established {
		info.InitiatorName = c.p.newPeerName(c.p.PeerName, gssapi.GSS_KRB5_NT_PRINCIPAL_NAME)
	}
	if c.initiator && c.target != "" {
		info.AcceptorName = c.p.newPeerName(c.target, gssapi.GSS_NT_HOSTBASED_SERVICE)
	}

	return info, nil
}

func (p *Provider) newPeerName(text string, nt gssapi.GssNameType) *mockName {
	p.mu.Lock()
	p.c.PeerNames++
	p.mu.Unlock()
	return &mockName{p: p, text: text, nt: nt}
}

func (c *mockContext) Delete() error {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()

	if c.deleted {
		c.p.c.DoubleDeletes++
		return gssapi.ErrNoContext
	}
	c.deleted = true
	c.p.c.Deletes++
	return nil
}
