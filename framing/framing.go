// SPDX-License-Identifier: Apache-2.0

// Package framing carries opaque context tokens over a byte stream.
//
// Every token travels as one frame: a 4 byte unsigned length in network
// (big-endian) byte order followed by exactly that many payload bytes.
// There is no magic number, version or checksum; the length width and byte
// order are fixed parts of the wire protocol and do not depend on the host.
package framing

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// LengthSize is the width of the frame length prefix in bytes.
const LengthSize = 4

// DefaultMaxFrameSize bounds the payload length accepted by ReadFrame when the
// caller does not supply a limit.  Kerberos AP-REQ tokens carrying a PAC are
// typically a few kilobytes, so this leaves plenty of headroom.
const DefaultMaxFrameSize = 1 << 20

var (
	// ErrPeerClosed is returned by ReadFrame when the stream ends cleanly
	// before any byte of a new frame arrives.
	ErrPeerClosed = errors.New("peer closed the connection")

	// ErrFrameTooLarge is returned when a frame length exceeds the
	// configured maximum.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
)

// WriteFrame writes payload to w as a single frame.  Short writes are
// retried until the whole frame has been written; a write that makes no
// progress without reporting an error fails with io.ErrShortWrite.
func WriteFrame(w io.Writer, payload []byte) error {
	if uint64(len(payload)) > math.MaxUint32 {
		return fmt.Errorf("writing frame of %d bytes: %w", len(payload), ErrFrameTooLarge)
	}

	buf := make([]byte, LengthSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[LengthSize:], payload)

	for off := 0; off < len(buf); {
		n, err := w.Write(buf[off:])
		off += n
		if err != nil {
			return fmt.Errorf("writing frame (%d of %d bytes sent): %w", off, len(buf), err)
		}
		if n == 0 {
			return fmt.Errorf("writing frame (%d of %d bytes sent): %w", off, len(buf), io.ErrShortWrite)
		}
	}

	return nil
}

// ReadFrame reads one frame from r and returns its payload.  max limits the
// accepted payload length; zero selects DefaultMaxFrameSize.
//
// A stream that ends before the first byte of the length prefix yields
// ErrPeerClosed.  A stream that ends part way through a frame yields an
// error wrapping io.ErrUnexpectedEOF.  A zero length frame yields an empty,
// non-nil payload.
func ReadFrame(r io.Reader, max uint32) ([]byte, error) {
	if max == 0 {
		max = DefaultMaxFrameSize
	}

	var prefix [LengthSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrPeerClosed
		}
		return nil, fmt.Errorf("reading frame length: %w", err)
	}

	size := binary.BigEndian.Uint32(prefix[:])
	if size > max {
		return nil, fmt.Errorf("frame length %d, limit %d: %w", size, max, ErrFrameTooLarge)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		// the prefix has already been consumed, so any EOF here is premature
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("reading %d byte frame: %w", size, err)
	}

	return payload, nil
}
