// SPDX-License-Identifier: Apache-2.0

package gssapi

import (
	"errors"
	"fmt"
	"strings"
)

// InfoStatus carries supplementary (informational) status codes.  During
// context establishment a provider returns an InfoStatus on its own only
// when a token was processed but something about it was unusual, eg. it
// was a duplicate of an earlier token.
type InfoStatus struct {
	InformationCode InformationCode // The informational status code
	MechErrors      []error         // Mechanism-specific errors
}

// FatalStatus represents a failed mechanism call.  It is the Go form of the
// major/minor status pair from RFC 2743 § 1.2.1: FatalErrorCode is the
// routine error from the major status and MinorCode is the
// mechanism-specific minor status.
type FatalStatus struct {
	InfoStatus                    // Embedded informational status
	FatalErrorCode FatalErrorCode // The fatal error code
	MinorCode      uint32         // Mechanism specific status, zero if not available
}

// FatalErrorCode represents fatal error codes. Values of runtime error codes are the same as
// the C bindings for compatibility. See RFC 2744 § 3.9.1.
type FatalErrorCode uint32

// InformationCode represents informational status codes. Values of runtime info codes are the same as
// the C bindings for compatibility. See RFC 2744 § 3.9.1.
type InformationCode uint32

const (
	complete FatalErrorCode = iota
	errBadMech
	errBadName
	errBadNameType
	errBadBindings
	errBadStatus
	errBadMic
	errNoCred
	errNoContext
	errDefectiveToken
	errDefectiveCredential
	errCredentialsExpired
	errContextExpired
	errFailure
	errBadQop
	errUnauthorized
	errUnavailable
	errDuplicateElement
	errNameNotMn
)

const (
	infoContinueNeeded InformationCode = 1 << iota
	infoDuplicateToken
	infoOldToken
	infoUnseqToken
	infoGapToken
)

var ErrBadMech = errors.New("an unsupported mechanism was requested")
var ErrBadName = errors.New("an invalid name was supplied")
var ErrBadNameType = errors.New("a supplied name was of an unsupported type")
var ErrBadBindings = errors.New("incorrect channel bindings were supplied")
var ErrBadStatus = errors.New("an invalid status code was supplied")
var ErrBadMic = errors.New("a token had an invalid signature")
var ErrNoCred = errors.New("no credentials were supplied, or the credentials were unavailable or inaccessible")
var ErrNoContext = errors.New("no context has been established")
var ErrDefectiveToken = errors.New("invalid token was supplied")
var ErrDefectiveCredential = errors.New("invalid credential was supplied")
var ErrCredentialsExpired = errors.New("the referenced credentials have expired")
var ErrContextExpired = errors.New("the context has expired")
var ErrFailure = errors.New("unspecified GSS failure.  Minor code may provide more information")
var ErrBadQop = errors.New("the quality-of-protection (QOP) requested could not be provided")
var ErrUnauthorized = errors.New("the operation is forbidden by local security policy")
var ErrUnavailable = errors.New("the operation or option is not available or supported")
var ErrDuplicateElement = errors.New("the requested credential element already exists")
var ErrNameNotMn = errors.New("the provided name was not mechanism specific (MN)")

//nolint:staticcheck // ST1012 these aren't actually errors
var InfoContinueNeeded = errors.New("the routine must be called again to complete its function")

//nolint:staticcheck // ST1012 these aren't actually errors
var InfoDuplicateToken = errors.New(`the token was a duplicate of an earlier token`)

//nolint:staticcheck // ST1012 these aren't actually errors
var InfoOldToken = errors.New("the token's validity period has expired")

//nolint:staticcheck // ST1012 these aren't actually errors
var InfoUnseqToken = errors.New("a later token has already been processed")

//nolint:staticcheck // ST1012 these aren't actually errors
var InfoGapToken = errors.New("an expected per-message token was not received")

// indexed by FatalErrorCode
var fatalErrors = []error{
	nil,
	ErrBadMech,
	ErrBadName,
	ErrBadNameType,
	ErrBadBindings,
	ErrBadStatus,
	ErrBadMic,
	ErrNoCred,
	ErrNoContext,
	ErrDefectiveToken,
	ErrDefectiveCredential,
	ErrCredentialsExpired,
	ErrContextExpired,
	ErrFailure,
	ErrBadQop,
	ErrUnauthorized,
	ErrUnavailable,
	ErrDuplicateElement,
	ErrNameNotMn,
}

var infoErrors = []struct {
	code InformationCode
	err  error
}{
	{infoContinueNeeded, InfoContinueNeeded},
	{infoDuplicateToken, InfoDuplicateToken},
	{infoOldToken, InfoOldToken},
	{infoUnseqToken, InfoUnseqToken},
	{infoGapToken, InfoGapToken},
}

// NewFatalStatus builds a FatalStatus for err, one of the ErrXxx variables
// above, with an optional minor status and mechanism errors.  Unknown
// errors map to ErrFailure.
func NewFatalStatus(err error, minor uint32, mechErrs ...error) FatalStatus {
	code := errFailure
	for i, e := range fatalErrors {
		if e != nil && e == err {
			code = FatalErrorCode(i)
			break
		}
	}

	return FatalStatus{
		InfoStatus:     InfoStatus{MechErrors: mechErrs},
		FatalErrorCode: code,
		MinorCode:      minor,
	}
}

// NewInfoStatus builds an informational status from one or more of the
// InfoXxx variables.
func NewInfoStatus(infos ...error) InfoStatus {
	var code InformationCode
	for _, info := range infos {
		for _, ie := range infoErrors {
			if ie.err == info {
				code |= ie.code
			}
		}
	}

	return InfoStatus{InformationCode: code}
}

// Fatal returns the sentinel error matching the routine error code.
func (s FatalStatus) Fatal() error {
	if s.FatalErrorCode == complete || int(s.FatalErrorCode) >= len(fatalErrors) {
		return ErrBadStatus
	}

	return fatalErrors[s.FatalErrorCode]
}

// Major returns the major status word in the C bindings layout: the
// routine error in bits 16-23 and supplementary information in bits 0-15.
func (s FatalStatus) Major() uint32 {
	return uint32(s.FatalErrorCode)<<16 | uint32(s.InformationCode)
}

// Minor returns the mechanism specific status code.
func (s FatalStatus) Minor() uint32 {
	return s.MinorCode
}

func (s InfoStatus) Unwrap() []error {
	ret := []error{}

	for _, ie := range infoErrors {
		if s.InformationCode&ie.code > 0 {
			ret = append(ret, ie.err)
		}
	}

	return ret
}

func (s InfoStatus) Error() string {
	infoErrs := s.Unwrap()
	infoStrings := make([]string, len(infoErrs))
	for i, err := range infoErrs {
		infoStrings[i] = err.Error()
	}

	return strings.Join(infoStrings, "; ")
}

func (s FatalStatus) Unwrap() []error {
	ret := []error{}

	if s.FatalErrorCode != complete {
		ret = append(ret, s.Fatal())
	}

	ret = append(ret, s.MechErrors...)
	ret = append(ret, s.InfoStatus.Unwrap()...)

	return ret
}

func (s FatalStatus) Error() string {
	var parts []string

	if s.FatalErrorCode != complete {
		fatal := s.Fatal()
		// only include the spiel about maybe the minor code being helpful if we do
		// actually have a mech error (from the minor code)
		if !(fatal == ErrFailure && len(s.MechErrors) > 0) {
			parts = append(parts, fatal.Error())
		}
	}

	if s.MechErrors != nil {
		mechStrs := make([]string, len(s.MechErrors))
		for i, e := range s.MechErrors {
			mechStrs[i] = e.Error()
		}
		parts = append(parts, strings.Join(mechStrs, "; "))
	}

	infoErrs := s.InfoStatus.Error()
	if infoErrs != "" {
		parts = append(parts, "Additionally: "+infoErrs)
	}

	return strings.Join(parts, ".  ")
}

// StatusDetail renders the major/minor status of err for diagnostics, or
// the empty string if err carries no mechanism status.
func StatusDetail(err error) string {
	var fs FatalStatus
	if !errors.As(err, &fs) {
		return ""
	}

	return fmt.Sprintf("major=0x%08x minor=%d", fs.Major(), fs.Minor())
}
