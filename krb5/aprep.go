// SPDX-License-Identifier: Apache-2.0

package krb5

// gokrb5 can read but not build KRB_AP_REP messages; this version adds
// marshalling so an acceptor can answer a mutual authentication request.

import (
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/jcmturner/gofork/encoding/asn1"
	"github.com/jcmturner/gokrb5/v8/asn1tools"
	"github.com/jcmturner/gokrb5/v8/crypto"
	"github.com/jcmturner/gokrb5/v8/iana"
	"github.com/jcmturner/gokrb5/v8/iana/asnAppTag"
	"github.com/jcmturner/gokrb5/v8/iana/keyusage"
	"github.com/jcmturner/gokrb5/v8/iana/msgtype"
	"github.com/jcmturner/gokrb5/v8/krberror"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"
)

// apRep is RFC 4120 § 5.5.2 KRB_AP_REP.
type apRep struct {
	PVNO    int                 `asn1:"explicit,tag:0"`
	MsgType int                 `asn1:"explicit,tag:1"`
	EncPart types.EncryptedData `asn1:"explicit,tag:2"`
}

type encAPRepPart struct {
	CTime          time.Time           `asn1:"generalized,explicit,tag:0"`
	Cusec          int                 `asn1:"explicit,tag:1"`
	Subkey         types.EncryptionKey `asn1:"optional,explicit,tag:2"`
	SequenceNumber int64               `asn1:"optional,explicit,tag:3"`
}

// newAPRep answers an authenticator with the same client time, encrypted
// in the ticket session key.
func newAPRep(tkt messages.Ticket, sessionKey types.EncryptionKey, cTime time.Time, cusec int) (apRep, error) {
	seq, err := newSequenceNumber()
	if err != nil {
		return apRep{}, err
	}

	part := encAPRepPart{CTime: cTime, Cusec: cusec, SequenceNumber: seq}
	m, err := part.marshal()
	if err != nil {
		return apRep{}, krberror.Errorf(err, krberror.EncodingError, "marshalling AP-REP enc-part")
	}

	ed, err := crypto.GetEncryptedData(m, sessionKey, uint32(keyusage.AP_REP_ENCPART), tkt.EncPart.KVNO)
	if err != nil {
		return apRep{}, krberror.Errorf(err, krberror.EncryptingError, "encrypting AP-REP enc-part")
	}

	return apRep{PVNO: iana.PVNO, MsgType: msgtype.KRB_AP_REP, EncPart: ed}, nil
}

// newSequenceNumber returns a random initial sequence number below 2^30.
// Older MIT releases treat sequence numbers as signed.
func newSequenceNumber() (int64, error) {
	seq, err := rand.Int(rand.Reader, big.NewInt(math.MaxUint32))
	if err != nil {
		return 0, err
	}

	return seq.Int64() & 0x3fffffff, nil
}

func (a *apRep) unmarshal(b []byte) error {
	_, err := asn1.UnmarshalWithParams(b, a, fmt.Sprintf("application,explicit,tag:%v", asnAppTag.APREP))
	if err != nil {
		return unmarshalReplyError(b, err)
	}
	if a.MsgType != msgtype.KRB_AP_REP {
		return krberror.NewErrorf(krberror.KRBMsgError, "message ID does not indicate a KRB_AP_REP. Expected: %v; Actual: %v", msgtype.KRB_AP_REP, a.MsgType)
	}

	return nil
}

func (a *apRep) marshal() ([]byte, error) {
	b, err := asn1.Marshal(*a)
	if err != nil {
		return nil, err
	}

	return asn1tools.AddASNAppTag(b, asnAppTag.APREP), nil
}

func (a *apRep) decryptEncPart(sessionKey types.EncryptionKey) (encAPRepPart, error) {
	var part encAPRepPart

	b, err := crypto.DecryptEncPart(a.EncPart, sessionKey, uint32(keyusage.AP_REP_ENCPART))
	if err != nil {
		return part, krberror.Errorf(err, krberror.DecryptingError, "decrypting AP-REP enc-part")
	}
	if err = part.unmarshal(b); err != nil {
		return part, krberror.Errorf(err, krberror.EncodingError, "unmarshalling AP-REP enc-part")
	}

	return part, nil
}

func (p *encAPRepPart) unmarshal(b []byte) error {
	_, err := asn1.UnmarshalWithParams(b, p, fmt.Sprintf("application,explicit,tag:%v", asnAppTag.EncAPRepPart))
	if err != nil {
		return krberror.Errorf(err, krberror.EncodingError, "AP_REP unmarshal error")
	}

	return nil
}

func (p *encAPRepPart) marshal() ([]byte, error) {
	b, err := asn1.Marshal(*p)
	if err != nil {
		return nil, err
	}

	return asn1tools.AddASNAppTag(b, asnAppTag.EncAPRepPart), nil
}

// unmarshalReplyError returns the KRB-ERROR carried in b when a peer
// answered with an error instead of the expected message.
func unmarshalReplyError(b []byte, err error) error {
	if _, ok := err.(asn1.StructuralError); ok {
		var krbErr messages.KRBError
		if krbErr.Unmarshal(b) == nil {
			return krbErr
		}
	}

	return krberror.Errorf(err, krberror.EncodingError, "failed to unmarshal message")
}
