// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"os"
	"strings"
	"testing"

	"github.com/jcmturner/gokrb5/v8/iana/nametype"
	"github.com/stretchr/testify/assert"

	"github.com/golang-auth/gss-handshake"
)

func TestImportName(t *testing.T) {
	t.Parallel()

	host, err := os.Hostname()
	if err != nil {
		t.Skipf("no host name: %v", err)
	}

	tests := []struct {
		name      string
		nt        gssapi.GssNameType
		wantParts []string
		wantType  int32
		wantRealm string
	}{
		{"host@server.example", gssapi.GSS_NT_HOSTBASED_SERVICE, []string{"host", "server.example"}, nametype.KRB_NT_SRV_HST, ""},
		{"HTTP@Server.Example", gssapi.GSS_NT_HOSTBASED_SERVICE, []string{"HTTP", "server.example"}, nametype.KRB_NT_SRV_HST, ""},
		{"nfs", gssapi.GSS_NT_HOSTBASED_SERVICE, []string{"nfs", strings.ToLower(host)}, nametype.KRB_NT_SRV_HST, ""},
		{"alice", gssapi.GSS_NT_USER_NAME, []string{"alice"}, nametype.KRB_NT_PRINCIPAL, ""},
		{"alice@EXAMPLE.COM", gssapi.GSS_NT_USER_NAME, []string{"alice"}, nametype.KRB_NT_PRINCIPAL, "EXAMPLE.COM"},
		{"host/server.example@EXAMPLE.COM", gssapi.GSS_KRB5_NT_PRINCIPAL_NAME, []string{"host", "server.example"}, nametype.KRB_NT_PRINCIPAL, "EXAMPLE.COM"},
	}

	p := New()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert := NewAssert(t)

			n, err := p.ImportName(tc.name, tc.nt)
			assert.NoErrorFatal(err)

			kn := n.(*krbName)
			assert.Equal(tc.wantParts, kn.pn.NameString)
			assert.Equal(tc.wantType, kn.pn.NameType)
			assert.Equal(tc.wantRealm, kn.realm)

			disp, nt, err := n.Display()
			assert.NoError(err)
			assert.Equal(tc.name, disp)
			assert.Equal(tc.nt, nt)

			assert.NoError(n.Release())
			assert.ErrorIs(n.Release(), gssapi.ErrBadName)
			_, _, err = n.Display()
			assert.ErrorIs(err, gssapi.ErrBadName)
		})
	}
}

func TestImportNameErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		nt   gssapi.GssNameType
		want error
	}{
		{"", gssapi.GSS_NT_HOSTBASED_SERVICE, gssapi.ErrBadName},
		{"@server.example", gssapi.GSS_NT_HOSTBASED_SERVICE, gssapi.ErrBadName},
		{"host/x@server.example", gssapi.GSS_NT_HOSTBASED_SERVICE, gssapi.ErrBadName},
		{"alice/admin", gssapi.GSS_NT_USER_NAME, gssapi.ErrBadName},
		{"alice@", gssapi.GSS_NT_USER_NAME, gssapi.ErrBadName},
		{"a//b@REALM", gssapi.GSS_KRB5_NT_PRINCIPAL_NAME, gssapi.ErrBadName},
		{"alice", gssapi.GSS_NT_EXPORT_NAME, gssapi.ErrBadNameType},
	}

	p := New()
	for _, tc := range tests {
		_, err := p.ImportName(tc.name, tc.nt)
		assert.ErrorIs(t, err, tc.want, "name %q as %s", tc.name, tc.nt)
	}
}

func TestPrincipalMatches(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	svc, err := parseName("HTTP@host.test.gokrb5", gssapi.GSS_NT_HOSTBASED_SERVICE)
	assert.NoError(err)
	user, err := parseName("testuser1@TEST.GOKRB5", gssapi.GSS_NT_USER_NAME)
	assert.NoError(err)

	wire := principalFrom(svc.pn, "TEST.GOKRB5")
	assert.Equal("HTTP/host.test.gokrb5@TEST.GOKRB5", wire.display)
	assert.Equal(gssapi.GSS_KRB5_NT_PRINCIPAL_NAME, wire.nameType)

	// host-based names match in any realm, case-insensitively
	assert.True(svc.matches(wire.pn, "TEST.GOKRB5"))
	assert.True(svc.matches(wire.pn, "OTHER.REALM"))
	upper := wire.pn
	upper.NameString = []string{"HTTP", "HOST.TEST.GOKRB5"}
	assert.True(svc.matches(upper, "TEST.GOKRB5"))

	assert.True(user.matches(user.pn, "TEST.GOKRB5"))
	assert.False(user.matches(user.pn, "OTHER.REALM"))
	assert.False(user.matches(svc.pn, "TEST.GOKRB5"))
}
