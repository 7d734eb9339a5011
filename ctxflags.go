// SPDX-License-Identifier: Apache-2.0
package gssapi

import (
	"fmt"
	"strings"
)

type ContextFlag uint32

// GSS-API request context flags - the same as C bindings for compatibility
const (
	ContextFlagDeleg    ContextFlag = 1 << iota // delegate credentials, not currently supported
	ContextFlagMutual                           // request remote peer authenticates itself
	ContextFlagReplay                           // enable replay detection for signed/sealed messages
	ContextFlagSequence                         // enable detection of out of sequence signed/sealed messages
	ContextFlagConf                             // confidentiality available
	ContextFlagInteg                            // integrity available
	ContextFlagAnon                             // do not transfer initiator identity to acceptor
)

var flagNames = []struct {
	flag  ContextFlag
	short string
	long  string
}{
	{ContextFlagDeleg, "deleg", "Delegation"},
	{ContextFlagMutual, "mutual", "Mutual authentication"},
	{ContextFlagReplay, "replay", "Message replay detection"},
	{ContextFlagSequence, "sequence", "Out of sequence message detection"},
	{ContextFlagConf, "conf", "Confidentiality"},
	{ContextFlagInteg, "integ", "Integrity"},
	{ContextFlagAnon, "anon", "Anonymous"},
}

// FlagList returns a slice of individual flags derived from the
// composite value f
func FlagList(f ContextFlag) (fl []ContextFlag) {
	t := ContextFlag(1)
	for i := 0; i < 32; i++ {
		if f&t != 0 {
			fl = append(fl, t)
		}

		t <<= 1
	}

	return
}

// FlagName returns a human-readable description of a context flag value
func FlagName(f ContextFlag) string {
	for _, n := range flagNames {
		if n.flag == f {
			return n.long
		}
	}

	return "Unknown"
}

func (f ContextFlag) String() string {
	var names []string
	for _, flag := range FlagList(f) {
		names = append(names, FlagName(flag))
	}

	return strings.Join(names, ", ")
}

// Missing returns the requested flags that are not present in f.
func (f ContextFlag) Missing(requested ContextFlag) ContextFlag {
	return requested &^ f
}

// Satisfies reports whether every flag in requested is also set in f.
func (f ContextFlag) Satisfies(requested ContextFlag) bool {
	return f.Missing(requested) == 0
}

// ParseFlags converts short flag names ("mutual", "integ", ...) into a
// composite flag value.  Names are case insensitive.
func ParseFlags(names []string) (ContextFlag, error) {
	var f ContextFlag

outer:
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		for _, n := range flagNames {
			if n.short == name {
				f |= n.flag
				continue outer
			}
		}

		return 0, fmt.Errorf("unknown context flag %q", name)
	}

	return f, nil
}

// Names returns the short names of the flags set in f, the inverse of
// ParseFlags.  Unknown bits are skipped.
func (f ContextFlag) Names() []string {
	var names []string
	for _, flag := range FlagList(f) {
		for _, n := range flagNames {
			if n.flag == flag {
				names = append(names, n.short)
			}
		}
	}

	return names
}
