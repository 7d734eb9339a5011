// SPDX-License-Identifier: Apache-2.0

/*
Package krb5 is a GSSAPI provider for the Kerberos V mechanism (RFC 4121)
built on gokrb5.  Importing the package registers it under the name "krb5":

	import _ "github.com/golang-auth/gss-handshake/krb5"

	p, err := gssapi.NewProvider("krb5")

Initiators use the credentials cache named by KRB5CCNAME and the
configuration named by KRB5_CONFIG.  Acceptors use the keytab registered with
RegisterAcceptorIdentity, or the one named by KRB5_KTNAME, falling back to
/etc/krb5.keytab.

Only context establishment is implemented; per-message tokens are not.
*/
package krb5

import (
	"strings"
	"sync"
	"time"

	"github.com/golang-auth/gss-handshake"
)

// ProviderName is the registry name of the provider.
const ProviderName = "krb5"

// DefaultClockSkew is the largest tolerated difference between the clocks of
// the two peers.
const DefaultClockSkew = 10 * time.Second

const defaultKeytab = "/etc/krb5.keytab"

func init() {
	gssapi.RegisterProvider(ProviderName, func() (gssapi.Provider, error) {
		return New(), nil
	})
}

// Provider implements gssapi.Provider for Kerberos V.
type Provider struct {
	tickets TicketSource
	skew    time.Duration

	mu     sync.Mutex
	keytab string
}

var (
	_ gssapi.ProviderExtKrb5Identity = (*Provider)(nil)
	_ gssapi.ProviderExtCredStore    = (*Provider)(nil)
)

// Option configures a Provider.
type Option func(p *Provider)

// WithTicketSource makes initiators obtain service tickets from src instead
// of the credentials cache.
func WithTicketSource(src TicketSource) Option {
	return func(p *Provider) {
		p.tickets = src
	}
}

// WithClockSkew sets the tolerated clock difference between peers.
func WithClockSkew(d time.Duration) Option {
	return func(p *Provider) {
		p.skew = d
	}
}

// New returns a provider configured by opts.
func New(opts ...Option) *Provider {
	p := &Provider{skew: DefaultClockSkew}
	for _, o := range opts {
		o(p)
	}

	return p
}

func (p *Provider) Name() string {
	return ProviderName
}

// RegisterAcceptorIdentity sets the keytab used by acceptor credentials that
// do not name one explicitly.  An optional "FILE:" prefix is accepted.
func (p *Provider) RegisterAcceptorIdentity(identity string) error {
	path := trimFilePrefix(identity)
	if path == "" {
		return gssapi.NewFatalStatus(gssapi.ErrNoCred, 0, errEmptyKeytab)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.keytab = path

	return nil
}

// keytabPath picks the keytab for an acceptor credential: an explicit path,
// then the registered identity, then the environment.
func (p *Provider) keytabPath(explicit string) string {
	if explicit != "" {
		return trimFilePrefix(explicit)
	}

	p.mu.Lock()
	registered := p.keytab
	p.mu.Unlock()
	if registered != "" {
		return registered
	}

	if kt := trimFilePrefix(envOr("KRB5_KTNAME", "")); kt != "" {
		return kt
	}

	return defaultKeytab
}

func trimFilePrefix(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(s), "FILE:")
}
