// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"errors"

	"github.com/jcmturner/gokrb5/v8/iana/errorcode"
	"github.com/jcmturner/gokrb5/v8/messages"

	"github.com/golang-auth/gss-handshake"
)

var (
	errContextComplete = errors.New("security context already established")
	errContextFailed   = errors.New("security context establishment already failed")
	errUnexpectedToken = errors.New("unexpected context token")
	errMutualFailed    = errors.New("mutual authentication failed")
)

// routine errors for Kerberos error codes; anything else is ErrFailure
var krbErrorStatus = map[int32]error{
	errorcode.KDC_ERR_S_PRINCIPAL_UNKNOWN: gssapi.ErrBadName,
	errorcode.KRB_AP_ERR_NOKEY:            gssapi.ErrNoCred,
	errorcode.KRB_AP_ERR_NOT_US:           gssapi.ErrNoCred,
	errorcode.KRB_AP_ERR_TKT_EXPIRED:      gssapi.ErrCredentialsExpired,
	errorcode.KRB_AP_ERR_TKT_NYV:          gssapi.ErrDefectiveCredential,
	errorcode.KRB_AP_ERR_BAD_INTEGRITY:    gssapi.ErrBadMic,
	errorcode.KRB_AP_ERR_MODIFIED:         gssapi.ErrBadMic,
	errorcode.KRB_AP_ERR_BADMATCH:         gssapi.ErrDefectiveToken,
	errorcode.KRB_AP_ERR_MSG_TYPE:         gssapi.ErrDefectiveToken,
	errorcode.KRB_AP_ERR_MUT_FAIL:         gssapi.ErrDefectiveToken,
}

// krbStatus converts a Kerberos error to a fatal status whose minor code
// is the Kerberos error code.
func krbStatus(ke messages.KRBError) gssapi.FatalStatus {
	fatal, ok := krbErrorStatus[ke.ErrorCode]
	if !ok {
		fatal = gssapi.ErrFailure
	}

	return gssapi.NewFatalStatus(fatal, uint32(ke.ErrorCode), ke)
}

// statusFor wraps err, which may be or contain a KRBError, as a fatal
// status.  fallback is used for errors that carry no Kerberos code.
func statusFor(err error, fallback error) gssapi.FatalStatus {
	var ke messages.KRBError
	if errors.As(err, &ke) {
		return krbStatus(ke)
	}

	var fs gssapi.FatalStatus
	if errors.As(err, &fs) {
		return fs
	}

	return gssapi.NewFatalStatus(fallback, 0, err)
}
