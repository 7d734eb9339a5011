// SPDX-License-Identifier: Apache-2.0

package gssapi

// CredStoreOpt options are used to define the behaviour of the Credential Store extension methods.
type CredStoreOpt int

const (
	// CredStoreCCache is the name of the credential cache to use for aquiring initiator credentials.
	CredStoreCCache CredStoreOpt = 1 << iota
	// CredStoreServerKeytab is the name of the keytab to use for aquiring acceptor credentials.
	CredStoreServerKeytab
	// CredStoreRCache defines the name of the replay cache to use when acquiring acceptor credentials.
	CredStoreRCache
)

// CredStore defines a set of credential store extension options and their values.
type CredStore interface {
	SetOption(option int, value string) error
	GetOption(option int) (string, bool)
}

// CredStoreOption is a function type for configuring credential store options.
type CredStoreOption func(o CredStore) error

// WithCredStoreCCache configures the name of the credential cache to use for aquiring initiator credentials
func WithCredStoreCCache(cache string) CredStoreOption {
	return func(s CredStore) error {
		return s.SetOption(int(CredStoreCCache), cache)
	}
}

// WithCredStoreServerKeytab configures the name of the keytab to use for aquiring acceptor credentials.
func WithCredStoreServerKeytab(keytab string) CredStoreOption {
	return func(s CredStore) error {
		return s.SetOption(int(CredStoreServerKeytab), keytab)
	}
}

// WithCredStoreRCache configures the name of the replay cache to use when acquiring acceptor credentials.
func WithCredStoreRCache(rCache string) CredStoreOption {
	return func(s CredStore) error {
		return s.SetOption(int(CredStoreRCache), rCache)
	}
}

// ProviderExtCredStore extends the Provider interface with credential store extension functionality.
// Providers implementing this interface support acquiring credentials from an explicit
// credential store location rather than the mechanism default.
type ProviderExtCredStore interface {
	Provider

	// AcquireCredentialFrom acquires a credential from the credential store or stores configured by opts
	//
	// Parameters:
	//   - name: the name of the principal to acquire credentials for, or nil for the default
	//   - usage: the desired credential usage
	//   - opts: optional credential store options
	AcquireCredentialFrom(name GssName, usage CredUsage, opts ...CredStoreOption) (Credential, error)
}

// ProviderExtKrb5Identity extends the Provider interface with the Kerberos-style ability to
// rebind the default acceptor key table, as krb5_gss_register_acceptor_identity does.
type ProviderExtKrb5Identity interface {
	Provider
	RegisterAcceptorIdentity(identity string) error
}
