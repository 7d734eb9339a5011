// SPDX-License-Identifier: Apache-2.0

/*
Package gssapi defines the security mechanism capability consumed by the
handshake engine: names, credentials, security contexts and the providers
that create them.

A provider wraps a concrete mechanism (see the krb5 sub-package) and is
obtained from the registry by name:

	p, err := gssapi.NewProvider("krb5")

The handshake, identity, framing and server packages build the
token-exchange protocol on top of this interface; they never depend on a
concrete mechanism.
*/
package gssapi
