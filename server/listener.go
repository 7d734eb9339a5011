// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// MaxSocketPath is the longest socket path that fits sockaddr_un.sun_path
// with its terminating NUL.
const MaxSocketPath = 107

// DefaultBacklog is the listen backlog.  One pending connection is queued
// while a handshake is in progress; further attempts may be refused.
const DefaultBacklog = 1

// ErrPathTooLong is returned for socket paths longer than MaxSocketPath.
var ErrPathTooLong = errors.New("socket path is too long")

// Listener is a Unix stream socket listener that removes its socket file
// when closed.
type Listener struct {
	*net.UnixListener

	path     string
	once     sync.Once
	closeErr error
}

// Listen creates a Unix stream socket bound to path with the given listen
// backlog.  A stale socket file at path is removed first.  backlog <= 0
// selects DefaultBacklog.
func Listen(path string, backlog int) (*Listener, error) {
	if err := CheckPath(path); err != nil {
		return nil, err
	}
	if backlog <= 0 {
		backlog = DefaultBacklog
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale socket %s: %w", path, err)
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("creating socket: %w", err)
	}
	unix.CloseOnExec(fd)

	// the descriptor is owned by f from here on
	f := os.NewFile(uintptr(fd), path)
	defer f.Close()

	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		return nil, fmt.Errorf("binding to %s: %w", path, err)
	}

	if err := unix.Listen(fd, backlog); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("listening at %s: %w", path, err)
	}

	// FileListener duplicates the descriptor
	fl, err := net.FileListener(f)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("listening at %s: %w", path, err)
	}

	ul, ok := fl.(*net.UnixListener)
	if !ok {
		fl.Close()
		os.Remove(path)
		return nil, fmt.Errorf("listening at %s: unexpected listener type %T", path, fl)
	}

	return &Listener{UnixListener: ul, path: path}, nil
}

// CheckPath reports configuration problems with a socket path.
func CheckPath(path string) error {
	if path == "" {
		return errors.New("socket path is required")
	}
	if len(path) > MaxSocketPath {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrPathTooLong, len(path), MaxSocketPath)
	}

	return nil
}

// Path returns the filesystem path of the socket.
func (l *Listener) Path() string {
	return l.path
}

// Close stops listening and unlinks the socket file.  It is safe to call
// more than once.
func (l *Listener) Close() error {
	l.once.Do(func() {
		l.closeErr = l.UnixListener.Close()
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) && l.closeErr == nil {
			l.closeErr = fmt.Errorf("removing socket %s: %w", l.path, err)
		}
	})

	return l.closeErr
}

// Dial connects to the Unix stream socket at path.
func Dial(path string) (*net.UnixConn, error) {
	if err := CheckPath(path); err != nil {
		return nil, err
	}

	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", path, err)
	}

	return conn, nil
}
