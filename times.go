// SPDX-License-Identifier: Apache-2.0

package gssapi

import "time"

// GssLifetimeStatus defines the possible states of a GssLifetime
// instance
type GssLifetimeStatus int

const (
	// Indicates that the lifetime ExpiresAt value is valid
	GssLifetimeAvailable GssLifetimeStatus = iota

	// Indicates that the lifetime has expired and the ExpiresAt value is not valid
	GssLifetimeExpired

	// Indicates that the lifetime is indefinite;  the ExpiresAt value is not valid
	GssLifetimeIndefinite
)

// GssLifetime represents the possible context and credential lifetimes.  The status is
// kept separate from the expiry time rather than overloading magic values as RFC 2744 does.
type GssLifetime struct {
	Status    GssLifetimeStatus
	ExpiresAt time.Time
}

// LifetimeAt returns a lifetime that ends at t, or an expired lifetime if t is
// not in the future.  The zero time means indefinite.
func LifetimeAt(t time.Time) GssLifetime {
	switch {
	case t.IsZero():
		return GssLifetime{Status: GssLifetimeIndefinite}
	case !t.After(time.Now()):
		return GssLifetime{Status: GssLifetimeExpired}
	}

	return GssLifetime{Status: GssLifetimeAvailable, ExpiresAt: t}
}

func (l GssLifetime) String() string {
	switch l.Status {
	case GssLifetimeExpired:
		return "expired"
	case GssLifetimeIndefinite:
		return "indefinite"
	}

	return l.ExpiresAt.Round(time.Second).String()
}
