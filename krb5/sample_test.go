// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"encoding/binary"
	"time"

	"github.com/jcmturner/gokrb5/v8/iana/msgtype"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/test/testdata"
	"github.com/jcmturner/gokrb5/v8/types"
)

// Sample data from MIT Kerberos v1.19.1

// from src/tests/asn.1/ktest.h
const (
	sampleUsec           = 123456
	sampleSeqNumber     = 17
	sampleFlags          = 0xFEDCBA98
	sampleError          = 0x3C
	samplePrincipalName = "hftsai/extra@ATHENA.MIT.EDU"
	sampleData           = "krb5data"
)

func ktestMakeSampleApRepEncPart() encAPRepPart {
	tm, _ := time.Parse(testdata.TEST_TIME_FORMAT, testdata.TEST_TIME)
	return encAPRepPart{
		CTime:          tm,
		Cusec:          sampleUsec,
		Subkey:         ktestMakeSampleKeyblock(),
		SequenceNumber: sampleSeqNumber,
	}
}

func ktestMakeSampleKeyblock() types.EncryptionKey {
	kv := []byte("12345678")
	return types.EncryptionKey{
		KeyType:  1,
		KeyValue: kv,
	}
}

func ktestMakeSampleEncData() types.EncryptedData {
	return types.EncryptedData{
		EType:  0,
		KVNO:   5,
		Cipher: []byte(testdata.TEST_CIPHERTEXT),
	}
}

func ktestMakeSampleTicket() messages.Ticket {
	pn, realm := types.ParseSPNString(samplePrincipalName)
	return messages.Ticket{
		TktVNO:  5,
		Realm:   realm,
		SName:   pn,
		EncPart: ktestMakeSampleEncData(),
	}
}

func ktestMakeSampleApReq() (aprep messages.APReq) {
	aprep = messages.APReq{
		PVNO:                   5,
		MsgType:                msgtype.KRB_AP_REQ,
		APOptions:              types.NewKrbFlags(),
		Ticket:                 ktestMakeSampleTicket(),
		EncryptedAuthenticator: ktestMakeSampleEncData(),
	}

	binary.BigEndian.PutUint32(aprep.APOptions.Bytes[0:], sampleFlags)
	return
}

func ktestMakeSampleApRep() (aprep apRep) {
	aprep = apRep{
		PVNO:    5,
		MsgType: msgtype.KRB_AP_REP,
		EncPart: ktestMakeSampleEncData(),
	}

	return
}

func ktestMakeSampleError() (krberr messages.KRBError) {
	pn, realm := types.ParseSPNString(samplePrincipalName)
	tm, _ := time.Parse(testdata.TEST_TIME_FORMAT, testdata.TEST_TIME)
	krberr = messages.KRBError{
		PVNO:      5,
		MsgType:   msgtype.KRB_ERROR,
		CTime:     tm,
		Cusec:     sampleUsec,
		STime:     tm,
		Susec:     sampleUsec,
		ErrorCode: sampleError,
		CRealm:    realm,
		CName:     pn,
		Realm:     realm,
		SName:     pn,
		EText:     sampleData,
		EData:     []byte(sampleData),
	}

	return
}
