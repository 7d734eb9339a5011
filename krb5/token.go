// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/jcmturner/gofork/encoding/asn1"
	"github.com/jcmturner/gokrb5/v8/asn1tools"
	"github.com/jcmturner/gokrb5/v8/messages"

	"github.com/golang-auth/gss-handshake"
)

// Inner context token IDs, RFC 4121 § 4.1.
var (
	tokIDAPReq    = [2]byte{0x01, 0x00}
	tokIDAPRep    = [2]byte{0x02, 0x00}
	tokIDKrbError = [2]byte{0x03, 0x00}
)

// authChksumLen is the length of the authenticator checksum up to and
// including the context flags.  Delegation is not supported so the
// optional fields that follow are never present.
const authChksumLen = 24

var errShortToken = errors.New("context token too short")

func mechOID() asn1.ObjectIdentifier {
	return asn1.ObjectIdentifier{1, 2, 840, 113554, 1, 2, 2}
}

// isKrb5 reports whether oid names the Kerberos mechanism, including the
// pre-RFC 1964 OID some older peers still send.
func isKrb5(oid asn1.ObjectIdentifier) bool {
	der, err := asn1.Marshal(oid)
	if err != nil || len(der) < 2 {
		return false
	}

	// strip the tag and the short-form length
	mech, err := gssapi.MechFromOid(gssapi.Oid(der[2:]))
	return err == nil && mech == gssapi.GSS_MECH_KRB5
}

// contextToken is the RFC 2743 § 3.1 framed Kerberos context token.  Exactly
// one of the message fields is set.
type contextToken struct {
	tokID    [2]byte
	apReq    *messages.APReq
	apRep    *apRep
	krbError *messages.KRBError
}

func newAPReqToken(m messages.APReq) contextToken {
	return contextToken{tokID: tokIDAPReq, apReq: &m}
}

func newAPRepToken(m apRep) contextToken {
	return contextToken{tokID: tokIDAPRep, apRep: &m}
}

func newKrbErrorToken(m messages.KRBError) contextToken {
	return contextToken{tokID: tokIDKrbError, krbError: &m}
}

func (t *contextToken) marshal() ([]byte, error) {
	var (
		body []byte
		err  error
	)

	switch t.tokID {
	case tokIDAPReq:
		body, err = t.apReq.Marshal()
	case tokIDAPRep:
		body, err = t.apRep.marshal()
	case tokIDKrbError:
		body, err = t.krbError.Marshal()
	default:
		return nil, fmt.Errorf("unknown context token ID %x", t.tokID)
	}
	if err != nil {
		return nil, fmt.Errorf("marshalling context token %x: %w", t.tokID, err)
	}

	b, _ := asn1.Marshal(mechOID())
	b = append(b, t.tokID[:]...)
	b = append(b, body...)

	return asn1tools.AddASNAppTag(b, 0), nil
}

func (t *contextToken) unmarshal(b []byte) error {
	*t = contextToken{}

	var oid asn1.ObjectIdentifier
	rest, err := asn1.UnmarshalWithParams(b, &oid, "application,explicit,tag:0")
	if err != nil {
		return fmt.Errorf("reading context token mechanism: %w", err)
	}
	if !isKrb5(oid) {
		return fmt.Errorf("%w: context token mechanism is %s", gssapi.ErrBadMech, oid)
	}
	if len(rest) < 2 {
		return errShortToken
	}

	t.tokID = [2]byte{rest[0], rest[1]}
	body := rest[2:]

	switch t.tokID {
	case tokIDAPReq:
		var m messages.APReq
		if err = m.Unmarshal(body); err == nil {
			t.apReq = &m
		}
	case tokIDAPRep:
		var m apRep
		if err = m.unmarshal(body); err == nil {
			t.apRep = &m
		}
	case tokIDKrbError:
		var m messages.KRBError
		if err = m.Unmarshal(body); err == nil {
			t.krbError = &m
		}
	}
	if err != nil {
		return fmt.Errorf("reading context token %x: %w", t.tokID, err)
	}

	return nil
}

// newAuthenticatorChksum builds the RFC 4121 § 4.1.1 authenticator
// checksum carrying the requested context flags.  The channel binding hash
// is left zero.
func newAuthenticatorChksum(flags gssapi.ContextFlag) []byte {
	a := make([]byte, authChksumLen)
	binary.LittleEndian.PutUint32(a[:4], 16)
	binary.LittleEndian.PutUint32(a[20:24], uint32(flags))

	return a
}

func chksumFlags(cksum []byte) gssapi.ContextFlag {
	return gssapi.ContextFlag(binary.LittleEndian.Uint32(cksum[20:24]))
}
