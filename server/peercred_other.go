// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package server

import (
	"errors"
	"net"
)

func peerCredentials(net.Conn) (*PeerCred, error) {
	return nil, errors.ErrUnsupported
}
