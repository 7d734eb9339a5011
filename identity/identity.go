// SPDX-License-Identifier: Apache-2.0

// Package identity binds human readable names to mechanism names and
// acceptor credentials.
//
// Two import flavors are supported and they are not interchangeable.  The
// default host-based service flavor takes "service@host" and lets the
// mechanism canonicalize the host and pick the realm; the principal flavor
// takes a literal mechanism principal such as "host/server.example@REALM".
// The same text can name different principals under the two flavors.
package identity

import (
	"errors"
	"fmt"

	"github.com/golang-auth/gss-handshake"
)

var (
	ErrNameImport            = errors.New("name import failed")
	ErrNameExport            = errors.New("name export failed")
	ErrCredentialAcquisition = errors.New("credential acquisition failed")
)

// Adapter wraps the name and credential operations of a provider.
type Adapter struct {
	provider gssapi.Provider
	nameType gssapi.GssNameType
}

// Option configures an Adapter.
type Option func(a *Adapter)

// WithNameType selects the import flavor used by ImportName.
func WithNameType(nt gssapi.GssNameType) Option {
	return func(a *Adapter) {
		a.nameType = nt
	}
}

// New returns an Adapter importing host-based service names unless another
// flavor is selected.
func New(p gssapi.Provider, opts ...Option) *Adapter {
	a := &Adapter{provider: p, nameType: gssapi.GSS_NT_HOSTBASED_SERVICE}
	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Provider returns the provider the adapter wraps.
func (a *Adapter) Provider() gssapi.Provider {
	return a.provider
}

// NameType returns the import flavor.
func (a *Adapter) NameType() gssapi.GssNameType {
	return a.nameType
}

// ImportName converts text to a mechanism name.  The caller owns the result
// and must release it.
func (a *Adapter) ImportName(text string) (gssapi.GssName, error) {
	name, err := a.provider.ImportName(text, a.nameType)
	if err != nil {
		return nil, fmt.Errorf("%w: %q as %s: %w", ErrNameImport, text, a.nameType, err)
	}

	return name, nil
}

// ExportName renders a mechanism name as text.  The name is not released.
func (a *Adapter) ExportName(name gssapi.GssName) (string, error) {
	if name == nil {
		return "", fmt.Errorf("%w: no name", ErrNameExport)
	}

	text, _, err := name.Display()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNameExport, err)
	}
	if text == "" {
		return "", fmt.Errorf("%w: mechanism returned an empty name", ErrNameExport)
	}

	return text, nil
}

// AcquireAcceptorCredential obtains an accept-only credential for principal,
// or for the mechanism's default acceptor identity when principal is empty.
// A non-empty keytab first rebinds the provider's default key table lookup.
func (a *Adapter) AcquireAcceptorCredential(principal, keytab string) (gssapi.Credential, error) {
	var name gssapi.GssName
	if principal != "" {
		var err error
		if name, err = a.ImportName(principal); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCredentialAcquisition, err)
		}
		defer name.Release() //nolint:errcheck
	}

	if keytab != "" {
		return a.acquireFromKeytab(name, keytab)
	}

	cred, err := a.provider.AcquireCredential(name, nil, gssapi.CredUsageAcceptOnly, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCredentialAcquisition, err)
	}

	return cred, nil
}

func (a *Adapter) acquireFromKeytab(name gssapi.GssName, keytab string) (gssapi.Credential, error) {
	switch p := a.provider.(type) {
	case gssapi.ProviderExtKrb5Identity:
		if err := p.RegisterAcceptorIdentity(keytab); err != nil {
			return nil, fmt.Errorf("%w: registering keytab %s: %w", ErrCredentialAcquisition, keytab, err)
		}
		cred, err := p.AcquireCredential(name, nil, gssapi.CredUsageAcceptOnly, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCredentialAcquisition, err)
		}
		return cred, nil

	case gssapi.ProviderExtCredStore:
		cred, err := p.AcquireCredentialFrom(name, gssapi.CredUsageAcceptOnly, gssapi.WithCredStoreServerKeytab(keytab))
		if err != nil {
			return nil, fmt.Errorf("%w: keytab %s: %w", ErrCredentialAcquisition, keytab, err)
		}
		return cred, nil
	}

	return nil, fmt.Errorf("%w: provider %s cannot use an explicit keytab: %w",
		ErrCredentialAcquisition, a.provider.Name(), gssapi.ErrUnavailable)
}
