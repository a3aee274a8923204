package withdrawal

import (
	"strings"
	"unicode/utf8"

	"github.com/shieldcustody/withdrawal-backend/internal/domain/errors"
	"github.com/shieldcustody/withdrawal-backend/internal/domain/values"
)

// maxMemoBytes is the Zcash memo field size
const maxMemoBytes = 512

// zcashAddressValidator classifies addresses by prefix and length.
// Checksum verification (Base58Check, Bech32m) is a node-layer concern
// and intentionally absent here.
type zcashAddressValidator struct{}

// NewZcashAddressValidator returns the default prefix-based validator
func NewZcashAddressValidator() AddressValidator {
	return zcashAddressValidator{}
}

func (zcashAddressValidator) ValidateAddress(address string) AddressInfo {
	address = strings.TrimSpace(address)

	switch {
	case hasAnyPrefix(address, "t1", "t3") && len(address) == 35:
		return AddressInfo{Valid: true, Type: "transparent"}
	case hasAnyPrefix(address, "tm", "t2") && len(address) == 35:
		// testnet transparent
		return AddressInfo{Valid: true, Type: "transparent"}
	case strings.HasPrefix(address, "zs") && len(address) >= 70 && len(address) <= 90:
		return AddressInfo{Valid: true, Shielded: true, Type: "sapling"}
	case strings.HasPrefix(address, "u1") && len(address) >= 50 && len(address) <= 500:
		return AddressInfo{Valid: true, Shielded: true, Type: "unified"}
	case strings.HasPrefix(address, "zc") && len(address) == 95:
		// legacy sprout
		return AddressInfo{Valid: true, Shielded: true, Type: "sprout"}
	default:
		return AddressInfo{Type: "unknown"}
	}
}

func (zcashAddressValidator) ValidateAmount(amount values.Amount) error {
	if !amount.IsPositive() {
		return errors.NewValidationError("AMOUNT_NOT_POSITIVE",
			"withdrawal amount must be positive")
	}
	return nil
}

func (zcashAddressValidator) ValidateMemo(memo string) error {
	if memo == "" {
		return nil
	}
	if len(memo) > maxMemoBytes {
		return errors.NewValidationError("MEMO_TOO_LONG",
			"memo exceeds 512 bytes")
	}
	if !utf8.ValidString(memo) {
		return errors.NewValidationError("MEMO_NOT_UTF8",
			"memo must be valid UTF-8 or hex")
	}
	return nil
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
