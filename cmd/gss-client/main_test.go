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

func startServer(t *testing.T) string {
	t.Helper()

	dir, err := os.MkdirTemp("", "gsscli")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "s")

	l, err := server.Listen(path, server.DefaultBacklog)
	require.NoError(t, err)

	eng := &handshake.Engine{
		Identity:  identity.New(mockgss.New()),
		Flags:     gssapi.ContextFlagMutual,
		IOTimeout: 5 * time.Second,
	}
	d := server.NewDispatcher(l, eng)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return path
}

func TestUsage(t *testing.T) {
	t.Setenv(config.EnvConfig, "")

	tests := []struct {
		name string
		args []string
	}{
		{"nothing", nil},
		{"no socket", []string{"-n", "host@server.example"}},
		{"no name", []string{"-s", "/tmp/x.sock"}},
		{"unknown flag", []string{"--bogus"}},
		{"keytab without principal", []string{"-n", "host@server.example", "-s", "/tmp/x.sock", "--client-keytab", "/tmp/kt"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			err := run(context.Background(), tc.args, &stdout, &stderr)

			var ue usageError
			require.ErrorAs(t, err, &ue)
			assert.Equal(t, 2, ue.ExitCode())
			assert.NotEmpty(t, stderr.String(), "usage errors explain themselves")
		})
	}
}

func TestUnknownFlagOutput(t *testing.T) {
	var stderr bytes.Buffer
	err := run(context.Background(), []string{"--bogus"}, &bytes.Buffer{}, &stderr)

	var ue usageError
	require.ErrorAs(t, err, &ue)
	assert.Contains(t, stderr.String(), "unknown flag: --bogus")
	assert.Contains(t, stderr.String(), "Usage: gss-client")
}

func TestAuthenticate(t *testing.T) {
	t.Setenv(config.EnvConfig, "")
	path := startServer(t)

	var stdout, stderr bytes.Buffer
	err := run(context.Background(),
		[]string{"-n", "host@server.example", "-s", path, "--provider", mockgss.ProviderName, "-t", "5s"},
		&stdout, &stderr)
	require.NoError(t, err, stderr.String())

	assert.Contains(t, stdout.String(), "Service: host@server.example")
	assert.Contains(t, stdout.String(), "Security context with host@server.example successfully established.")
}

func TestAuthenticateFromConfig(t *testing.T) {
	path := startServer(t)

	cfgPath := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(
		"provider: mock\nservice_name: host@server.example\nsocket_path: "+path+"\nflags: [mutual]\n"), 0o600))
	t.Setenv(config.EnvConfig, cfgPath)

	var stdout bytes.Buffer
	assert.NoError(t, run(context.Background(), nil, &stdout, &bytes.Buffer{}))

	// flags override the file
	err := run(context.Background(), []string{"-f", "deleg"}, &bytes.Buffer{}, &bytes.Buffer{})
	assert.ErrorIs(t, err, handshake.ErrFlagsNotSatisfied)
}

func TestAuthenticateNoServer(t *testing.T) {
	t.Setenv(config.EnvConfig, "")

	err := run(context.Background(),
		[]string{"-n", "host@server.example", "-s", filepath.Join(t.TempDir(), "none"), "--provider", mockgss.ProviderName},
		&bytes.Buffer{}, &bytes.Buffer{})
	require.Error(t, err)
	assert.NotImplements(t, (*interface{ ExitCode() int })(nil), err)
	assert.Contains(t, err.Error(), "unable to connect")
}

func TestUnknownProvider(t *testing.T) {
	t.Setenv(config.EnvConfig, "")

	err := run(context.Background(),
		[]string{"-n", "host@server.example", "-s", "/tmp/x.sock", "--provider", "nosuch"},
		&bytes.Buffer{}, &bytes.Buffer{})
	assert.ErrorIs(t, err, gssapi.ErrProviderNotFound)
	assert.ErrorContains(t, err, "krb5")
	assert.ErrorContains(t, err, mockgss.ProviderName)
}
