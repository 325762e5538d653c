package domain

import "strings"

// Canonical tickers are the store's primary key: upper-case base concatenated
// with "USDT" ("BTCUSDT"). Each venue has its own native naming; these
// functions are the only place that knows the mapping. Anything that does not
// resolve to a USDT perp maps to "" and must be discarded by the caller.

// IsCanonical reports whether s already satisfies the canonical pattern.
func IsCanonical(s string) bool {
	if !strings.HasSuffix(s, "USDT") || len(s) == len("USDT") {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// CanonicalFromBybit maps a Bybit linear symbol to a canonical ticker.
// Bybit already concatenates ("BTCUSDT"); USDC perps, inverse contracts and
// dated futures fail the pattern and are rejected.
func CanonicalFromBybit(symbol string) string {
	if IsCanonical(symbol) {
		return symbol
	}
	return ""
}

// CanonicalFromOKX maps an OKX instId to a canonical ticker. Only
// "{BASE}-USDT-SWAP" qualifies; multi-hyphen bases, margined spot pairs and
// non-USDT swaps are rejected.
func CanonicalFromOKX(instID string) string {
	parts := strings.Split(instID, "-")
	if len(parts) != 3 || parts[0] == "" || parts[1] != "USDT" || parts[2] != "SWAP" {
		return ""
	}
	ticker := parts[0] + "USDT"
	if !IsCanonical(ticker) {
		return ""
	}
	return ticker
}
