package audit

import "strings"

// Redaction is computed once, at the serialization boundary, from a
// static field-name policy table plus a value-shape heuristic for
// shielded addresses. Classification is a closed decision: a value is
// either kept plain, fully redacted, or partially redacted.

// RedactionClass is the closed set of redaction outcomes
type RedactionClass int

const (
	RedactPlain RedactionClass = iota
	RedactFull
	RedactPartial
)

const fullRedactionMarker = "[REDACTED]"

// fullRedactFields are metadata keys whose values are always dropped
// entirely, regardless of shape
var fullRedactFields = map[string]struct{}{
	"key":           {},
	"keys":          {},
	"private_key":   {},
	"privatekey":    {},
	"spending_key":  {},
	"viewing_key":   {},
	"seed":          {},
	"mnemonic":      {},
	"password":      {},
	"secret":        {},
	"token":         {},
	"auth":          {},
	"authorization": {},
	"memo":          {},
}

// partialRedactFields are metadata keys holding addresses or long
// identifiers, kept recognizable as first6...last4
var partialRedactFields = map[string]struct{}{
	"address":        {},
	"from_address":   {},
	"to_address":     {},
	"destination":    {},
	"source":         {},
	"transaction_id": {},
	"txid":           {},
	"operation_id":   {},
}

// ClassifyField decides the redaction class for a metadata entry
func ClassifyField(name string, value interface{}) RedactionClass {
	key := strings.ToLower(name)

	if _, ok := fullRedactFields[key]; ok {
		return RedactFull
	}
	if _, ok := partialRedactFields[key]; ok {
		return RedactPartial
	}
	if s, ok := value.(string); ok && LooksShielded(s) {
		return RedactPartial
	}
	return RedactPlain
}

// RedactMetadata returns a redacted copy of the metadata map. The input
// is never mutated; events hold only the redacted form.
func RedactMetadata(metadata map[string]interface{}) map[string]interface{} {
	if metadata == nil {
		return nil
	}

	out := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		switch ClassifyField(k, v) {
		case RedactFull:
			out[k] = fullRedactionMarker
		case RedactPartial:
			if s, ok := v.(string); ok {
				out[k] = RedactIdentifier(s)
			} else {
				out[k] = fullRedactionMarker
			}
		default:
			out[k] = v
		}
	}
	return out
}

// RedactIdentifier shortens an address or identifier to first6...last4.
// Values too short to carry both ends are fully masked.
func RedactIdentifier(s string) string {
	if len(s) <= 10 {
		return fullRedactionMarker
	}
	return s[:6] + "..." + s[len(s)-4:]
}

// LooksShielded reports whether a string has the shape of a shielded
// payment address (sapling, unified, or legacy sprout)
func LooksShielded(s string) bool {
	switch {
	case strings.HasPrefix(s, "zs") && len(s) >= 70:
		return true
	case strings.HasPrefix(s, "u1") && len(s) >= 50:
		return true
	case strings.HasPrefix(s, "zc") && len(s) >= 90:
		return true
	}
	return false
}
