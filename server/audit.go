// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// AuditRecord describes one handshake attempt.
type AuditRecord struct {
	Time      time.Time `cbor:"time"`
	Outcome   string    `cbor:"outcome"` // "established" or "failed"
	Peer      string    `cbor:"peer,omitempty"`
	Flags     []string  `cbor:"flags,omitempty"`
	Rounds    int       `cbor:"rounds"`
	ErrorKind string    `cbor:"error_kind,omitempty"`
	Error     string    `cbor:"error,omitempty"`
	PeerPID   *int32    `cbor:"peer_pid,omitempty"`
	PeerUID   *uint32   `cbor:"peer_uid,omitempty"`
}

var auditEncMode cbor.EncMode
var auditDecMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encOptions.TimeTag = cbor.EncTagRequired
	auditEncMode, err = encOptions.EncMode()
	if err != nil {
		panic("server: CBOR encoder initialization failed: " + err.Error())
	}

	auditDecMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("server: CBOR decoder initialization failed: " + err.Error())
	}
}

// AuditLog appends a CBOR sequence (RFC 8742) of AuditRecords to a writer.
type AuditLog struct {
	mu     sync.Mutex
	enc    *cbor.Encoder
	closer io.Closer
}

// NewAuditLog writes records to w.
func NewAuditLog(w io.Writer) *AuditLog {
	return &AuditLog{enc: auditEncMode.NewEncoder(w)}
}

// OpenAuditLog appends records to the file at path, creating it if needed.
func OpenAuditLog(path string) (*AuditLog, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}

	a := NewAuditLog(f)
	a.closer = f

	return a, nil
}

// Record appends r to the log.
func (a *AuditLog) Record(r AuditRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.enc.Encode(r); err != nil {
		return fmt.Errorf("writing audit record: %w", err)
	}

	return nil
}

// Close closes the underlying file, if the log owns one.
func (a *AuditLog) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

// ReadAuditLog decodes every record from r.
func ReadAuditLog(r io.Reader) ([]AuditRecord, error) {
	dec := auditDecMode.NewDecoder(r)

	var records []AuditRecord
	for {
		var rec AuditRecord
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return records, fmt.Errorf("reading audit record %d: %w", len(records), err)
		}
		records = append(records, rec)
	}
}
