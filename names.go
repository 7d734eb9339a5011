// SPDX-License-Identifier: Apache-2.0

package gssapi

import (
	"slices"
	"strings"
)

// GssNameType describes an available GSSAPI Name Type (NT) as described in
// RFC 2743 § 4.
type GssNameType interface {
	// Oid returns the object identifier corresponding to the name type.
	Oid() Oid
	// OidString returns a printable version of the object identifier associated with the name type.
	OidString() string
	// String returns a printable version of the name type.
	String() string
}

// gssNameTypeImpl is an internal type that implements the GssNameType interface for the
// well-known name types.
type gssNameTypeImpl int

// GssName represents GSSAPI names (types INTERNAL NAME and MN) as described in RFC 2743 § 4.
//
// Every GssName returned by a provider is owned by the caller and must be released
// exactly once using Release.
type GssName interface {
	// Display implements GSS_Display_Name from RFC 2743 § 2.4.4.
	// It returns a string representation of the name and its type.
	//
	// Returns:
	//   - disp: string representation of the name
	//   - nt: type of the name
	//   - err: error if one occurred, otherwise nil
	Display() (disp string, nt GssNameType, err error) // RFC 2743 § 2.4.4

	// Release implements GSS_Release_Name from RFC 2743 § 2.4.6.
	// It releases the name when it is no longer required.
	//
	// Returns:
	//   - error if one occurred, otherwise nil
	Release() error // RFC 2743 § 2.4.6
}

const (
	// Host-based name form (RFC 2743 § 4.1),      "service@host" or just "service"
	GSS_NT_HOSTBASED_SERVICE gssNameTypeImpl = iota

	// User name form (RFC 2743 § 4.2),            "username" : named local user
	GSS_NT_USER_NAME

	// Exported name type (RFC 2743 § 4.7),         Mech-independent exported name type from RFC 2743 § 3.2
	GSS_NT_EXPORT_NAME

	// Kerberos Principal Name (RFC 1964 § 2.1.1)   Kerberos principal name with optional @REALM
	GSS_KRB5_NT_PRINCIPAL_NAME

	_GSS_NAME_TYPE_LAST
)

var nameTypes = []struct {
	id        gssNameTypeImpl
	name      string
	short     string
	oidString string
	oid       Oid
	altOids   []Oid
}{
	{GSS_NT_HOSTBASED_SERVICE,
		"GSS_NT_HOSTBASED_SERVICE",
		"hostbased",
		"1.2.840.113554.1.2.1.4",
		[]byte{0x2a, 0x86, 0x48, 0x86, 0xf7, 0x12, 0x1, 0x2, 0x1, 0x4},
		[]Oid{
			{0x2b, 0x6, 0x1, 0x5, 0x6, 0x2}, // 1.3.6.1.5.6.2
		}},

	{GSS_NT_USER_NAME,
		"GSS_NT_USER_NAME",
		"user",
		"1.2.840.113554.1.2.1.1",
		[]byte{0x2a, 0x86, 0x48, 0x86, 0xf7, 0x12, 0x1, 0x2, 0x1, 0x1},
		nil},

	{GSS_NT_EXPORT_NAME,
		"GSS_NT_EXPORT_NAME",
		"export",
		"1.3.6.1.5.6.4",
		[]byte{0x2b, 0x6, 0x1, 0x5, 0x6, 0x4},
		nil},

	{GSS_KRB5_NT_PRINCIPAL_NAME,
		"GSS_KRB5_NT_PRINCIPAL_NAME",
		"principal",
		"1.2.840.113554.1.2.2.1",
		[]byte{0x2a, 0x86, 0x48, 0x86, 0xf7, 0x12, 0x1, 0x2, 0x2, 0x1},
		[]Oid{
			{0x2a, 0x86, 0x48, 0x82, 0xf7, 0x12, 0x1, 0x2, 0x2}, // 1.2.840.48018.1.2.2
		}},
}

func (nt gssNameTypeImpl) Oid() Oid {
	if nt >= _GSS_NAME_TYPE_LAST {
		panic(ErrBadNameType)
	}

	return nameTypes[nt].oid
}

func (nt gssNameTypeImpl) OidString() string {
	if nt >= _GSS_NAME_TYPE_LAST {
		panic(ErrBadNameType)
	}

	return nameTypes[nt].oidString
}

func (nt gssNameTypeImpl) String() string {
	if nt >= _GSS_NAME_TYPE_LAST {
		panic(ErrBadNameType)
	}

	return nameTypes[nt].name
}

// NameTypeFromOid returns the name type associated with an OID.
//
// Returns ErrBadNameType if the OID is not recognized.
func NameTypeFromOid(oid Oid) (GssNameType, error) {
	for i, nt := range nameTypes {
		if slices.Equal(nt.oid, oid) {
			return gssNameTypeImpl(i), nil
		}

		for _, alt := range nt.altOids {
			if slices.Equal(alt, oid) {
				return gssNameTypeImpl(i), nil
			}
		}
	}

	return nil, ErrBadNameType
}

// NameTypeFromString maps a configuration keyword ("hostbased", "user",
// "principal", "export") or the full constant name to a name type.
func NameTypeFromString(s string) (GssNameType, error) {
	s = strings.TrimSpace(s)
	for i, nt := range nameTypes {
		if strings.EqualFold(nt.short, s) || nt.name == s {
			return gssNameTypeImpl(i), nil
		}
	}

	return nil, ErrBadNameType
}
