// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"net"

	"golang.org/x/sys/unix"
)

// peerCredentials returns the SO_PEERCRED credentials of a Unix socket peer.
func peerCredentials(conn net.Conn) (*PeerCred, error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return nil, errors.ErrUnsupported
	}

	raw, err := uc.SyscallConn()
	if err != nil {
		return nil, err
	}

	var ucred *unix.Ucred
	var serr error
	err = raw.Control(func(fd uintptr) {
		ucred, serr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return nil, err
	}
	if serr != nil {
		return nil, serr
	}

	return &PeerCred{PID: ucred.Pid, UID: ucred.Uid, GID: ucred.Gid}, nil
}
