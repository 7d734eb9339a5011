// SPDX-License-Identifier: Apache-2.0

package gssapi

import (
	"errors"
	"slices"
	"sync"
)

var ErrProviderNotFound = errors.New("provider not found")

var registry struct {
	sync.Mutex
	libs map[string]ProviderConstructor
}

func init() {
	registry.libs = make(map[string]ProviderConstructor)
}

// ProviderConstructor defines the function signature passed to RegisterProvider, used
// by the registration interface to create new instances of a provider.
type ProviderConstructor func() (Provider, error)

// RegisterProvider associates the supplied provider factory with the unique
// name for the provider. If a provider with name is already registered, the new
// factory function will replace the existing registration.
//
// GSSAPI providers must register themselves by calling RegisterProvider in their
// init() function. Providers should document the unique name used in their call
// to RegisterProvider.
//
// Parameters:
//   - name: unique name (identifier) of the provider. The author should document this
//     identifier for consumption by users of the provider.
//   - f: function that can be used to instantiate the provider
//
// The function always succeeds.
func RegisterProvider(name string, f ProviderConstructor) {
	registry.Lock()
	defer registry.Unlock()

	registry.libs[name] = f
}

// NewProvider is used to instantiate a provider given its unique name. It does this by calling
// the provider factory function registered against the name.
//
// Parameters:
//   - name: unique name of a previously registered provider
//
// Returns:
//   - p: provider instance
//   - err: ErrProviderNotFound if name is not registered, or the constructor's error
func NewProvider(name string) (p Provider, err error) {
	registry.Lock()
	f, ok := registry.libs[name]
	registry.Unlock()

	if !ok {
		return nil, ErrProviderNotFound
	}

	return f()
}

// Providers returns the sorted names of the registered providers.
func Providers() []string {
	registry.Lock()
	defer registry.Unlock()

	names := make([]string, 0, len(registry.libs))
	for name := range registry.libs {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}

// InitSecContextOptions holds the optional parameters for initializing a security context.
// These options correspond to the optional parameters of GSS_Init_sec_context from RFC 2743 § 2.2.1.
type InitSecContextOptions struct {
	Credential Credential  // Source credential for context establishment
	Mech       GssMech     // Specific mechanism to use
	Flags      ContextFlag // Requested protection flags
}

// InitSecContextOption is a function type for configuring InitSecContext options.
type InitSecContextOption func(o *InitSecContextOptions)

// WithInitiatorCredential supports the use of a source credential when initiating a security context,
// corresponding to the claimant_cred_handle parameter to GSS_Init_sec_context from the RFC.
func WithInitiatorCredential(cred Credential) InitSecContextOption {
	return func(o *InitSecContextOptions) {
		o.Credential = cred
	}
}

// WithInitiatorMech supports the use of a specific mechanism when establishing the context,
// corresponding to the mech_type parameter to GSS_Init_sec_context from the RFC.
func WithInitiatorMech(mech GssMech) InitSecContextOption {
	return func(o *InitSecContextOptions) {
		o.Mech = mech
	}
}

// WithInitiatorFlags allows the caller to control the requested protection flags when establishing
// a security context, corresponding to the *_req_flag parameters of GSS_Init_sec_context from the RFC.
func WithInitiatorFlags(flags ContextFlag) InitSecContextOption {
	return func(o *InitSecContextOptions) {
		o.Flags = flags
	}
}

// AcceptSecContextOptions holds the optional parameters for accepting a security context.
// These options correspond to the optional parameters of GSS_Accept_sec_context from RFC 2743 § 2.2.2.
type AcceptSecContextOptions struct {
	Credential Credential // Acceptor credential for context establishment
}

// AcceptSecContextOption is a function type for configuring AcceptSecContext options.
type AcceptSecContextOption func(o *AcceptSecContextOptions)

// WithAcceptorCredential supports the use of a specifc credential when accepting a security context,
// corresponding to the acceptor_cred_handle parameter to GSS_Accept_sec_context from the RFC.
func WithAcceptorCredential(cred Credential) AcceptSecContextOption {
	return func(o *AcceptSecContextOptions) {
		o.Credential = cred
	}
}

// Provider is the interface that defines the top level GSSAPI functions that
// create name, credential and security contexts
type Provider interface {
	// Name returns the unique name of the provider.
	Name() string

	// ImportName corresponds to the GSS_Import_name function from RFC 2743 § 2.4.5.
	// Parameters:
	//   name:     A name-type specific octet-string
	//   nameType: One of the supported [GssNameType] constants
	// Returns:
	//   A GSSAPI Internal Name (IN) that should be freed using GssName.Release()
	ImportName(name string, nameType GssNameType) (GssName, error) // RFC 2743 § 2.4.5

	// AcquireCredential corresponds to the GSS_Acquire_cred function from RFC 2743 § 2.1.1.
	// Parameters:
	//   name:     A GSSAPI Internal Name, or nil to use the default.
	//   mechs:    A set of [GssMech] constants, or nil for the system default.
	//   usage:    Intended credential usage: initiate only, accept only, or both.
	//   lifetime: Desired credential lifetime, or nil for the default.
	// Returns:
	//   A GSSAPI credential suitable for InitSecContext or AcceptSecContext, based on the usage.
	AcquireCredential(name GssName, mechs []GssMech, usage CredUsage, lifetime *GssLifetime) (Credential, error) // RFC 2743 § 2.1.1

	// InitSecContext corresponds to the GSS_Init_sec_context function from RFC 2743 § 2.2.1.
	// Parameters:
	//   name: The GSSAPI Internal Name of the target.
	//   opts: Optional context establishment parameters, see [InitSecContextOption].
	// Returns:
	//   A uninitialized GSSAPI security context ready for exchanging tokens with the peer when
	//   the first call to [SecContext.Continue] with an empty input token is made.
	//   [SecContext.ContinueNeeded] will be true when this call returns successfully.
	InitSecContext(name GssName, opts ...InitSecContextOption) (SecContext, error) // RFC 2743 § 2.2.1

	// AcceptSecContext corresponds to the GSS_Accept_sec_context function from RFC 2743 § 2.2.2.
	// Parameters:
	//   opts: Optional context establishment parameters, see [AcceptSecContextOption].
	// Returns:
	//   A GSSAPI security context waiting for the initiator's first token, which is
	//   passed to [SecContext.Continue].
	AcceptSecContext(opts ...AcceptSecContextOption) (SecContext, error) // RFC 2743 § 2.2.2
}
