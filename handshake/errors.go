// SPDX-License-Identifier: Apache-2.0

package handshake

import (
	"errors"
	"fmt"

	"github.com/golang-auth/gss-handshake"
)

var (
	// ErrFlagsNotSatisfied means the context was established but lacks
	// protection that was required of it.
	ErrFlagsNotSatisfied = errors.New("negotiated flags do not include all requested flags")

	// ErrProtocolViolation means the mechanism reported a status the
	// token loop cannot act on.
	ErrProtocolViolation = errors.New("unexpected mechanism status")
)

// ErrorKind classifies handshake failures.
type ErrorKind int

const (
	// KindMechanism covers name, credential and context-step failures
	// reported by the provider.
	KindMechanism ErrorKind = iota
	// KindTransport covers frame I/O failures, including the peer closing
	// the connection and timeouts.
	KindTransport
	// KindProtocol covers statuses the loop cannot act on and contexts that
	// do not satisfy the requested flags.
	KindProtocol
)

func (k ErrorKind) String() string {
	switch k {
	case KindMechanism:
		return "mechanism"
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	}

	return "unknown"
}

// Error describes a failed handshake.
type Error struct {
	Kind  ErrorKind
	Role  Role
	State State // state the engine was in when the failure happened
	Round int   // zero-based mechanism step
	Err   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s error in %s state at round %d: %v", e.Role, e.Kind, e.State, e.Round, e.Err)
	if detail := gssapi.StatusDetail(e.Err); detail != "" {
		msg += " (" + detail + ")"
	}

	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// stepError classifies an error returned by SecContext.Continue.  A bare
// informational status means the provider processed the token but did not
// say how to proceed.
func stepError(err error) ErrorKind {
	var fs gssapi.FatalStatus
	if errors.As(err, &fs) {
		return KindMechanism
	}

	var is gssapi.InfoStatus
	if errors.As(err, &is) {
		return KindProtocol
	}

	return KindMechanism
}
