// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"fmt"
	"os"

	"github.com/jcmturner/gokrb5/v8/client"
	"github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/credentials"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"
)

// TicketSource supplies service tickets to an initiator.
type TicketSource interface {
	// Client returns the initiator principal and its realm.
	Client() (types.PrincipalName, string)

	// ServiceTicket returns a ticket for the service principal spn, in the
	// form "service/host", and the session key that goes with it.
	ServiceTicket(spn string) (messages.Ticket, types.EncryptionKey, error)
}

// clientSource is a TicketSource backed by a gokrb5 client, which talks to
// the KDC when the ticket is not already cached.
type clientSource struct {
	cl *client.Client
}

func (s clientSource) Client() (types.PrincipalName, string) {
	return s.cl.Credentials.CName(), s.cl.Credentials.Domain()
}

func (s clientSource) ServiceTicket(spn string) (messages.Ticket, types.EncryptionKey, error) {
	tkt, key, err := s.cl.GetServiceTicket(spn)
	if err != nil {
		return tkt, key, fmt.Errorf("getting service ticket for %q: %w", spn, err)
	}

	return tkt, key, nil
}

// NewCCacheTicketSource returns a TicketSource that uses the credentials
// cache at ccachePath, or the one named by KRB5CCNAME when empty.
func NewCCacheTicketSource(ccachePath string) (TicketSource, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	if ccachePath == "" {
		ccachePath = envOr("KRB5CCNAME", fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid()))
	}

	ccache, err := credentials.LoadCCache(trimFilePrefix(ccachePath))
	if err != nil {
		return nil, fmt.Errorf("loading credentials cache: %w", err)
	}

	cl, err := client.NewFromCCache(ccache, cfg, client.DisablePAFXFAST(true))
	if err != nil {
		return nil, fmt.Errorf("creating krb5 client: %w", err)
	}

	if err := cl.AffirmLogin(); err != nil {
		return nil, fmt.Errorf("checking TGT: %w", err)
	}

	return clientSource{cl: cl}, nil
}

// NewKeytabTicketSource returns a TicketSource that logs in as user@realm
// with the key from the keytab at keytabPath.
func NewKeytabTicketSource(user, realm, keytabPath string) (TicketSource, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	kt, err := keytab.Load(trimFilePrefix(keytabPath))
	if err != nil {
		return nil, fmt.Errorf("loading keytab: %w", err)
	}

	cl := client.NewWithKeytab(user, realm, kt, cfg, client.DisablePAFXFAST(true))
	if err := cl.AffirmLogin(); err != nil {
		return nil, fmt.Errorf("logging in as %s@%s: %w", user, realm, err)
	}

	return clientSource{cl: cl}, nil
}

func loadConfig() (*config.Config, error) {
	path := envOr("KRB5_CONFIG", "/etc/krb5.conf")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	return cfg, nil
}

func envOr(name, fallback string) string {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}

	return fallback
}
