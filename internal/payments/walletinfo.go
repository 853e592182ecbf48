package payments

import (
	"net/url"
	"strings"
)

// walletProviders maps known relay hostname fragments to friendly wallet
// names. Classification is cosmetic only and never gates behavior.
var walletProviders = []struct {
	fragment string
	name     string
}{
	{"getalby.com", "Alby"},
	{"mutinywallet.com", "Mutiny"},
	{"coinos.io", "Coinos"},
	{"primal.net", "Primal"},
	{"zeuspay.com", "Zeus"},
	{"lnwallet.app", "LNWallet"},
}

// WalletProviderName classifies a relay URL into a friendly wallet name,
// falling back to "Unknown" for unrecognized hosts.
func WalletProviderName(relayURL string) string {
	host := relayURL
	if u, err := url.Parse(relayURL); err == nil && u.Host != "" {
		host = u.Host
	}
	host = strings.ToLower(host)

	for _, p := range walletProviders {
		if strings.Contains(host, p.fragment) {
			return p.name
		}
	}
	return "Unknown"
}
