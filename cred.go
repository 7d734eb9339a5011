// SPDX-License-Identifier: Apache-2.0

package gssapi

// GSSAPI Credential Management, RFC 2743 § 2.1

// CredUsage defines the intended usage for credentials as specified in RFC 2743 § 2.1.1.
type CredUsage int

// Credential usage values as defined in RFC 2743 § 2.1.1
const (
	// CredUsageInitiateAndAccept indicates the credential may be used for both initiating and accepting contexts
	CredUsageInitiateAndAccept CredUsage = iota
	// CredUsageInitiateOnly indicates the credential may only be used for initiating contexts
	CredUsageInitiateOnly
	// CredUsageAcceptOnly indicates the credential may only be used for accepting contexts
	CredUsageAcceptOnly
)

func (u CredUsage) String() string {
	switch u {
	case CredUsageInitiateAndAccept:
		return "initiate and accept"
	case CredUsageInitiateOnly:
		return "initiate only"
	case CredUsageAcceptOnly:
		return "accept only"
	}

	return "unknown"
}

// CredInfo contains information about a credential returned by Inquire.
type CredInfo struct {
	Name           string      // String representation of the credential name, empty for the default identity
	NameType       GssNameType // Type of the credential name
	AcceptorExpiry GssLifetime // Expiry time for acceptor credential elements
	Usage          CredUsage   // Types of credentials held (accept, initiator, or both)
	Mechs          []GssMech   // Set of mechanisms supported by this credential
}

// Credential represents the CREDENTIAL HANDLE type from RFC 2743.
//
// An acceptor credential is loaded once and shared, read-only, by every
// security context it authenticates.  It must outlive those contexts.
type Credential interface {
	// Release releases the credential when it is no longer required.
	// This method corresponds to GSS_Release_cred from RFC 2743 § 2.1.2.
	Release() error // RFC 2743 § 2.1.2

	// Inquire returns information about the credential, implementing the GSS_Inquire_cred call
	// from RFC 2743 § 2.1.3.
	Inquire() (info *CredInfo, err error) // RFC 2743 § 2.1.3
}
