// SPDX-License-Identifier: Apache-2.0

package gssapi

// GSSAPI Security-Context Management, RFC 2743 § 2.2

// SecContextInfo contains information about a security context returned by the Inquire method.
//
// InitiatorName and AcceptorName are new names owned by the caller, which must release them.
// Either may be nil if the mechanism does not (yet) know it.
type SecContextInfo struct {
	InitiatorName    GssName     // The initiator name (MN - mechanism name)
	AcceptorName     GssName     // The acceptor name (MN - mechanism name)
	Mech             GssMech     // The mechanism used by the context
	Flags            ContextFlag // The protection flags available
	ExpiresAt        GssLifetime // Context expiration information
	LocallyInitiated bool        // True if the caller initiated the security context
	FullyEstablished bool        // True once the context is fully established
}

// SecContext represents a GSSAPI security context. A security context is created through the
// (possible mutual) authentication of an initiator to an acceptor. Authentication is achieved
// by exchanging tokens between the parties until both agree that the process is complete.
type SecContext interface {
	// Delete clears context-specific information. It must be called on any non-nil SecContext
	// to release associated resources. This call implements GSS_Delete_sec_context from
	// RFC 2743 § 2.2.3; no output token is produced.
	Delete() error // RFC 2743 § 2.2.3

	// Inquire returns information about the security context, implementing GSS_Inquire_context from
	// RFC 2743 § 2.2.6.
	//
	// The value of Flags may change during the authentication process as more protection is
	// added to the context and is only final once FullyEstablished is true.
	Inquire() (info *SecContextInfo, err error) // RFC 2743 § 2.2.6

	// ContinueNeeded indicates whether more context-initialization tokens need to be exchanged with
	// the peer to complete the security context. This call is equivalent to checking for the
	// GSS_S_CONTINUE_NEEDED status from GSS_Init_sec_context or GSS_Accept_sec_context.
	ContinueNeeded() bool

	// Continue is used by initiators and acceptors during the context-initialization loop
	// to process a token from the peer. It is equivalent to calling GSS_Init_sec_context or
	// GSS_Accept_sec_context.  Initiators make the first call with an empty token.
	//
	// The caller should check the result of ContinueNeeded to determine whether the initialization
	// loop has completed.  Fatal failures are reported as FatalStatus errors.
	//
	// Parameters:
	//   - tokIn: Context initialization token received from the peer
	//
	// Returns:
	//   - tokOut: New token to send to the peer; zero length if no token should be sent
	//   - err: Error if one occurred, otherwise nil
	Continue(tokIn []byte) (tokOut []byte, err error)
}
