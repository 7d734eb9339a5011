// SPDX-License-Identifier: Apache-2.0

package gssapi

import "slices"

// GssMech describes an available GSSAPI mechanism. GSSAPI mechanisms are identified by unique
// object identifiers (OIDs).
type GssMech interface {
	// Oid returns the object identifier corresponding to the mechanism.
	Oid() Oid
	// OidString returns a printable version of the object identifier associated with the mechanism.
	OidString() string
	// String returns a printable version of the mechanism name.
	String() string
}

type gssMechImpl int

// Well known GSSAPI mechanisms.
const (
	// Official Kerberos Mechanism (IETF)
	GSS_MECH_KRB5 gssMechImpl = iota
	_GSS_MECH_LAST
)

var mechs = []struct {
	id        gssMechImpl
	mech      string
	oidString string
	oid       Oid
	altOids   []Oid
}{
	{GSS_MECH_KRB5,
		"GSS_MECH_KRB5",
		"1.2.840.113554.1.2.2",
		[]byte{0x2a, 0x86, 0x48, 0x86, 0xf7, 0x12, 0x1, 0x2, 0x2},
		[]Oid{
			{0x2b, 0x6, 0x1, 0x5, 0x2}, // 1.3.6.1.5.2
		}},
}

func (mech gssMechImpl) Oid() Oid {
	if mech >= _GSS_MECH_LAST {
		panic(ErrBadMech)
	}

	return mechs[mech].oid
}

func (mech gssMechImpl) OidString() string {
	if mech >= _GSS_MECH_LAST {
		panic(ErrBadMech)
	}

	return mechs[mech].oidString
}

func (mech gssMechImpl) String() string {
	if mech >= _GSS_MECH_LAST {
		panic(ErrBadMech)
	}

	return mechs[mech].mech
}

// MechFromOid returns a mechanism implementation from an OID.
//
// Returns ErrBadMech if the OID is not recognized.
func MechFromOid(oid Oid) (GssMech, error) {
	for i, mech := range mechs {
		if slices.Equal(mech.oid, oid) {
			return gssMechImpl(i), nil
		}

		for _, alt := range mech.altOids {
			if slices.Equal(alt, oid) {
				return gssMechImpl(i), nil
			}
		}
	}

	return nil, ErrBadMech
}
