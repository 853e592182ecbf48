// Package lnaddress parses lightning addresses (user@domain identifiers that
// resolve to LNURL-pay endpoints).
package lnaddress

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmpty     = errors.New("lightning address is empty")
	ErrMalformed = errors.New("lightning address must be of the form user@domain")
)

// Address is a parsed lightning address
type Address struct {
	Local  string
	Domain string
}

// Parse validates and splits a lightning address
func Parse(raw string) (*Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrEmpty
	}

	local, domain, ok := strings.Cut(raw, "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
		return nil, fmt.Errorf("%w: %q", ErrMalformed, raw)
	}
	if !strings.Contains(domain, ".") {
		return nil, fmt.Errorf("%w: %q", ErrMalformed, raw)
	}

	return &Address{Local: local, Domain: domain}, nil
}

// WellKnownURL returns the LNURL-pay metadata endpoint for the address
func (a *Address) WellKnownURL() string {
	return fmt.Sprintf("https://%s/.well-known/lnurlp/%s", a.Domain, a.Local)
}

func (a *Address) String() string {
	return a.Local + "@" + a.Domain
}
