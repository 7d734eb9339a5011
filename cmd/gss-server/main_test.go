// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/golang-auth/gss-handshake"
	"github.com/golang-auth/gss-handshake/config"
	"github.com/golang-auth/gss-handshake/handshake"
	"github.com/golang-auth/gss-handshake/identity"
	"github.com/golang-auth/gss-handshake/internal/mockgss"
	"github.com/golang-auth/gss-handshake/server"
)

func shortDir(t *testing.T) string {
	t.Helper()

	dir, err := os.MkdirTemp("", "gsssrv")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	return dir
}

func TestUsage(t *testing.T) {
	t.Setenv(config.EnvConfig, "")

	tests := []struct {
		name string
		args []string
	}{
		{"no socket", nil},
		{"stray argument", []string{"-s", "/tmp/x.sock", "extra"}},
		{"unknown flag", []string{"--bogus"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			err := run(context.Background(), tc.args, &stdout, &stderr, nil)

			var ue usageError
			require.ErrorAs(t, err, &ue)
			assert.Equal(t, 2, ue.ExitCode())
			assert.Contains(t, stderr.String(), "Usage: gss-server")
		})
	}
}

func TestUnknownFlagOutput(t *testing.T) {
	var stderr bytes.Buffer
	err := run(context.Background(), []string{"--bogus"}, &bytes.Buffer{}, &stderr, nil)

	var ue usageError
	require.ErrorAs(t, err, &ue)
	assert.Contains(t, stderr.String(), "unknown flag: --bogus")
	assert.Contains(t, stderr.String(), "Usage: gss-server")
}

func TestInvalidConfig(t *testing.T) {
	t.Setenv(config.EnvConfig, "")

	err := run(context.Background(), []string{"-s", "/tmp/x.sock", "-f", "telepathy"}, &bytes.Buffer{}, &bytes.Buffer{}, nil)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestServe(t *testing.T) {
	t.Setenv(config.EnvConfig, "")
	dir := shortDir(t)
	sock := filepath.Join(dir, "s")
	audit := filepath.Join(dir, "audit.cbor")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var stdout, stderr bytes.Buffer
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, []string{"-s", sock, "--provider", mockgss.ProviderName, "--audit-log", audit, "-t", "5s"},
			&stdout, &stderr, ready)
	}()

	select {
	case <-ready:
	case err := <-done:
		t.Fatalf("server exited early: %v\n%s", err, stderr.String())
	}

	eng := &handshake.Engine{
		Identity:  identity.New(mockgss.New()),
		Flags:     gssapi.ContextFlagMutual,
		IOTimeout: 5 * time.Second,
	}
	conn, err := server.Dial(sock)
	require.NoError(t, err)
	res, err := eng.Initiate(context.Background(), conn, "host@server.example")
	conn.Close()
	require.NoError(t, err)
	assert.Equal(t, handshake.StateEstablished, res.State)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	_, err = os.Stat(sock)
	assert.True(t, os.IsNotExist(err), "socket should be unlinked on shutdown")
	assert.Contains(t, stdout.String(), "Socket: "+sock)

	f, err := os.Open(audit)
	require.NoError(t, err)
	defer f.Close()
	records, err := server.ReadAuditLog(f)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "established", records[0].Outcome)
	assert.Equal(t, mockgss.DefaultPeerName, records[0].Peer)
}

func TestUnknownProvider(t *testing.T) {
	t.Setenv(config.EnvConfig, "")

	var stderr bytes.Buffer
	err := run(context.Background(), []string{"-s", "/tmp/x.sock", "--provider", "nosuch"}, &bytes.Buffer{}, &stderr, nil)
	assert.ErrorIs(t, err, gssapi.ErrProviderNotFound)
	assert.ErrorContains(t, err, "available: krb5, "+mockgss.ProviderName)

	// the help text lists them too
	stderr.Reset()
	assert.NoError(t, run(context.Background(), []string{"-h"}, &bytes.Buffer{}, &stderr, nil))
	assert.Contains(t, stderr.String(), "one of: krb5, "+mockgss.ProviderName)
}
