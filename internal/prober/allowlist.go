package prober

import (
	"fmt"
	"net/netip"
	"strings"

	"golang.org/x/net/idna"
)

// defaultTargets is the compiled-in set of hosts a probe may contact.
var defaultTargets = [...]string{
	"8.8.8.8",
	"1.1.1.1",
	"9.9.9.9",
	"208.67.222.222",
	"www.google.com",
	"www.cloudflare.com",
}

// AllowList is an immutable set of hosts that may be probed.
type AllowList struct {
	entries map[string]struct{}
	order   []string
}

// NewAllowList validates entries and builds an allow-list from them.
// Each entry must be a bare IP literal or domain name: no scheme, path or port.
func NewAllowList(entries ...string) (*AllowList, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("allow-list must contain at least one target")
	}
	list := &AllowList{
		entries: make(map[string]struct{}, len(entries)),
		order:   make([]string, 0, len(entries)),
	}
	for _, entry := range entries {
		if err := validateHost(entry); err != nil {
			return nil, fmt.Errorf("allow-list entry %q: %w", entry, err)
		}
		if _, dup := list.entries[entry]; dup {
			continue
		}
		list.entries[entry] = struct{}{}
		list.order = append(list.order, entry)
	}
	return list, nil
}

// DefaultAllowList returns the compiled-in allow-list.
func DefaultAllowList() *AllowList {
	list, err := NewAllowList(defaultTargets[:]...)
	if err != nil {
		panic("invalid built-in allow-list: " + err.Error())
	}
	return list
}

// Contains reports whether target exactly matches an entry. Matching is case-sensitive.
func (a *AllowList) Contains(target string) bool {
	_, ok := a.entries[target]
	return ok
}

// Targets returns the entries in declaration order.
func (a *AllowList) Targets() []string {
	out := make([]string, len(a.order))
	copy(out, a.order)
	return out
}

// Len returns the number of entries.
func (a *AllowList) Len() int {
	return len(a.order)
}

func validateHost(entry string) error {
	if entry == "" {
		return fmt.Errorf("empty host")
	}
	if strings.TrimSpace(entry) != entry {
		return fmt.Errorf("surrounding whitespace")
	}
	if strings.Contains(entry, "://") || strings.ContainsAny(entry, "/?#@") {
		return fmt.Errorf("must be a bare host without scheme or path")
	}
	if addr, err := netip.ParseAddr(entry); err == nil {
		if addr.Zone() != "" {
			return fmt.Errorf("zoned addresses are not allowed")
		}
		return nil
	}
	if strings.Contains(entry, ":") {
		return fmt.Errorf("port or malformed address")
	}
	ascii, err := idna.Lookup.ToASCII(entry)
	if err != nil {
		return fmt.Errorf("invalid domain name: %w", err)
	}
	if ascii != entry {
		return fmt.Errorf("domain must be given in lower-case ASCII form %q", ascii)
	}
	if strings.HasPrefix(entry, ".") || strings.HasSuffix(entry, ".") || !strings.Contains(entry, ".") {
		return fmt.Errorf("domain must be fully qualified without a trailing dot")
	}
	return nil
}
