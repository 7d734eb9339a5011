// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/jcmturner/gokrb5/v8/iana/nametype"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/golang-auth/gss-handshake"
)

// principal is a parsed Kerberos name.  An empty realm matches any realm.
type principal struct {
	display  string
	nameType gssapi.GssNameType
	pn       types.PrincipalName
	realm    string
}

// krbName is the provider's GssName.  It owns no Kerberos state so Release
// only records that the caller is done with it.
type krbName struct {
	principal
	released atomic.Bool
}

var _ gssapi.GssName = (*krbName)(nil)

func (n *krbName) Display() (string, gssapi.GssNameType, error) {
	if n.released.Load() {
		return "", nil, gssapi.ErrBadName
	}

	return n.display, n.nameType, nil
}

func (n *krbName) Release() error {
	if n.released.Swap(true) {
		return gssapi.ErrBadName
	}

	return nil
}

// ImportName parses a host-based service ("service@host", or "service" for
// the local host), a user name ("user" or "user@REALM") or a Kerberos
// principal ("a/b@REALM").  Exported names are not supported.
func (p *Provider) ImportName(name string, nameType gssapi.GssNameType) (gssapi.GssName, error) {
	if nameType == nil {
		nameType = gssapi.GSS_NT_HOSTBASED_SERVICE
	}

	pr, err := parseName(name, nameType)
	if err != nil {
		return nil, err
	}

	return &krbName{principal: pr}, nil
}

func parseName(name string, nameType gssapi.GssNameType) (principal, error) {
	if name == "" {
		return principal{}, gssapi.NewFatalStatus(gssapi.ErrBadName, 0, fmt.Errorf("empty name"))
	}

	pr := principal{display: name, nameType: nameType}

	switch nameType {
	case gssapi.GSS_NT_HOSTBASED_SERVICE:
		service, host, found := strings.Cut(name, "@")
		if !found || host == "" {
			h, err := os.Hostname()
			if err != nil {
				return principal{}, gssapi.NewFatalStatus(gssapi.ErrBadName, 0, fmt.Errorf("finding local host name: %w", err))
			}
			host = h
		}
		if service == "" || strings.ContainsAny(service, "/@") || strings.ContainsAny(host, "/@") {
			return principal{}, badName(name, nameType)
		}
		pr.pn = types.PrincipalName{
			NameType:   nametype.KRB_NT_SRV_HST,
			NameString: []string{service, strings.ToLower(host)},
		}

	case gssapi.GSS_NT_USER_NAME, gssapi.GSS_KRB5_NT_PRINCIPAL_NAME:
		pn, realm := types.ParseSPNString(name)
		if strings.HasSuffix(name, "@") || slices.Contains(pn.NameString, "") {
			return principal{}, badName(name, nameType)
		}
		if nameType == gssapi.GSS_NT_USER_NAME && len(pn.NameString) != 1 {
			return principal{}, badName(name, nameType)
		}
		pr.pn, pr.realm = pn, realm

	default:
		return principal{}, gssapi.NewFatalStatus(gssapi.ErrBadNameType, 0, fmt.Errorf("name type %s", nameType))
	}

	return pr, nil
}

func badName(name string, nameType gssapi.GssNameType) error {
	return gssapi.NewFatalStatus(gssapi.ErrBadName, 0, fmt.Errorf("%q is not a valid %s", name, nameType))
}

// principalFrom describes a name seen on the wire.
func principalFrom(pn types.PrincipalName, realm string) principal {
	return principal{
		display:  pn.PrincipalNameString() + "@" + realm,
		nameType: gssapi.GSS_KRB5_NT_PRINCIPAL_NAME,
		pn:       pn,
		realm:    realm,
	}
}

func (pr principal) name() *krbName {
	return &krbName{principal: pr}
}

// spn is the service principal in the form gokrb5 uses for ticket requests.
func (pr principal) spn() string {
	return pr.pn.PrincipalNameString()
}

func (pr principal) matches(pn types.PrincipalName, realm string) bool {
	if pr.realm != "" && pr.realm != realm {
		return false
	}

	return slices.EqualFunc(pr.pn.NameString, pn.NameString, func(a, b string) bool {
		return a == b || (pr.pn.NameType == nametype.KRB_NT_SRV_HST && strings.EqualFold(a, b))
	})
}
