// SPDX-License-Identifier: Apache-2.0

package gssapi

import (
	"encoding/asn1"
	"fmt"
)

// Oid represents an Object Identifier as used throughout GSSAPI. Elements of the byte slice
// represent the DER encoding of the object identifier, excluding the ASN.1 header (two bytes:
// tag value 0x06 and length) as per the Microsoft documentation on object identifiers.
type Oid []byte

// String returns the dotted-decimal form of the object identifier.
func (o Oid) String() string {
	if len(o) == 0 || len(o) > 127 {
		return ""
	}

	der := append([]byte{0x06, byte(len(o))}, o...)
	var id asn1.ObjectIdentifier
	if _, err := asn1.Unmarshal(der, &id); err != nil {
		return fmt.Sprintf("%x", []byte(o))
	}

	return id.String()
}
