// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/golang-auth/gss-handshake"
)

var (
	errEmptyKeytab     = errors.New("no keytab specified")
	errNotOurName      = errors.New("name was not issued by the krb5 provider")
	errCredReleased    = errors.New("credential already released")
	errNoInitiatorPart = errors.New("credential cannot be used to initiate")
	errNoAcceptorPart  = errors.New("credential cannot be used to accept")
)

// credential holds an acceptor keytab, an initiator ticket source or both.
// The name is a copy so the caller may release the GssName it was acquired
// with straight away.
type credential struct {
	usage    gssapi.CredUsage
	name     *principal
	keytab   *keytab.Keytab
	ktPath   string
	tickets  TicketSource
	released atomic.Bool
}

var _ gssapi.Credential = (*credential)(nil)

func (c *credential) Release() error {
	if c.released.Swap(true) {
		return gssapi.NewFatalStatus(gssapi.ErrNoCred, 0, errCredReleased)
	}
	c.keytab = nil
	c.tickets = nil

	return nil
}

func (c *credential) Inquire() (*gssapi.CredInfo, error) {
	if c.released.Load() {
		return nil, gssapi.NewFatalStatus(gssapi.ErrNoCred, 0, errCredReleased)
	}

	info := &gssapi.CredInfo{
		Usage:          c.usage,
		Mechs:          []gssapi.GssMech{gssapi.GSS_MECH_KRB5},
		AcceptorExpiry: gssapi.GssLifetime{Status: gssapi.GssLifetimeIndefinite},
	}
	switch {
	case c.name != nil:
		info.Name, info.NameType = c.name.display, c.name.nameType
	case c.tickets != nil:
		pr := principalFrom(c.tickets.Client())
		info.Name, info.NameType = pr.display, pr.nameType
	}

	return info, nil
}

func (c *credential) canInitiate() bool {
	return c.usage != gssapi.CredUsageAcceptOnly
}

func (c *credential) canAccept() bool {
	return c.usage != gssapi.CredUsageInitiateOnly
}

// credStore collects cred store options for AcquireCredentialFrom.
type credStore struct {
	opts map[int]string
}

func (s *credStore) SetOption(option int, value string) error {
	switch gssapi.CredStoreOpt(option) {
	case gssapi.CredStoreCCache, gssapi.CredStoreServerKeytab:
	default:
		return gssapi.NewFatalStatus(gssapi.ErrUnavailable, 0, fmt.Errorf("cred store option %d", option))
	}
	if s.opts == nil {
		s.opts = make(map[int]string)
	}
	s.opts[option] = value

	return nil
}

func (s *credStore) GetOption(option int) (string, bool) {
	v, ok := s.opts[option]
	return v, ok
}

// AcquireCredential loads the default credential for usage.  Mechanisms
// other than Kerberos and lifetime requests are not supported.
func (p *Provider) AcquireCredential(name gssapi.GssName, mechs []gssapi.GssMech, usage gssapi.CredUsage, lifetime *gssapi.GssLifetime) (gssapi.Credential, error) {
	for _, m := range mechs {
		if m != gssapi.GSS_MECH_KRB5 {
			return nil, gssapi.NewFatalStatus(gssapi.ErrBadMech, 0, fmt.Errorf("mechanism %s", m))
		}
	}

	return p.credential(name, usage, &credStore{})
}

// AcquireCredentialFrom acquires a credential from the locations named by
// opts.  The ccache and server keytab options are supported.
func (p *Provider) AcquireCredentialFrom(name gssapi.GssName, usage gssapi.CredUsage, opts ...gssapi.CredStoreOption) (gssapi.Credential, error) {
	store := &credStore{}
	for _, o := range opts {
		if err := o(store); err != nil {
			return nil, err
		}
	}

	return p.credential(name, usage, store)
}

// credential keeps a failed acquisition from becoming a typed nil.
func (p *Provider) credential(name gssapi.GssName, usage gssapi.CredUsage, store *credStore) (gssapi.Credential, error) {
	cred, err := p.acquire(name, usage, store)
	if err != nil {
		return nil, err
	}

	return cred, nil
}

func (p *Provider) acquire(name gssapi.GssName, usage gssapi.CredUsage, store *credStore) (*credential, error) {
	cred := &credential{usage: usage}

	if name != nil {
		kn, ok := name.(*krbName)
		if !ok {
			return nil, gssapi.NewFatalStatus(gssapi.ErrBadName, 0, errNotOurName)
		}
		if kn.released.Load() {
			return nil, gssapi.ErrBadName
		}
		pr := kn.principal
		cred.name = &pr
	}

	if cred.canAccept() {
		explicit, _ := store.GetOption(int(gssapi.CredStoreServerKeytab))
		if err := p.loadAcceptor(cred, p.keytabPath(explicit)); err != nil {
			return nil, err
		}
	}

	if cred.canInitiate() {
		ccache, _ := store.GetOption(int(gssapi.CredStoreCCache))
		if err := p.loadInitiator(cred, ccache); err != nil {
			return nil, err
		}
	}

	return cred, nil
}

func (p *Provider) loadAcceptor(cred *credential, path string) error {
	kt, err := keytab.Load(path)
	if err != nil {
		return gssapi.NewFatalStatus(gssapi.ErrNoCred, 0, fmt.Errorf("loading keytab %s: %w", path, err))
	}

	if !keytabHas(kt, cred.name) {
		who := "any principal"
		if cred.name != nil {
			who = cred.name.display
		}
		return gssapi.NewFatalStatus(gssapi.ErrNoCred, 0, fmt.Errorf("keytab %s has no key for %s", path, who))
	}

	cred.keytab, cred.ktPath = kt, path

	return nil
}

// keytabHas reports whether kt has a key for pr, or any key when pr is nil.
func keytabHas(kt *keytab.Keytab, pr *principal) bool {
	if pr == nil {
		return len(kt.Entries) > 0
	}

	for _, e := range kt.Entries {
		if pr.matches(types.PrincipalName{NameString: e.Principal.Components}, e.Principal.Realm) {
			return true
		}
	}

	return false
}

func (p *Provider) loadInitiator(cred *credential, ccache string) error {
	src := p.tickets
	if src == nil || ccache != "" {
		var err error
		if src, err = NewCCacheTicketSource(ccache); err != nil {
			return gssapi.NewFatalStatus(gssapi.ErrNoCred, 0, err)
		}
	}

	if cred.name != nil && !cred.name.matches(src.Client()) {
		client := principalFrom(src.Client())
		return gssapi.NewFatalStatus(gssapi.ErrNoCred, 0, fmt.Errorf("credentials are for %s, not %s", client.display, cred.name.display))
	}

	cred.tickets = src

	return nil
}
