package audit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const saplingAddr = "zs1z7rejlpsa98s2rrrfkwmaxu53e4ue0ulcrw0h4x5g8jl04tak0d3mm47vdtahatqrlkngh9sly"

func TestClassifyField(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value interface{}
		want  RedactionClass
	}{
		{"secret key fully redacted", "viewing_key", "zxviews1...", RedactFull},
		{"case-insensitive policy match", "Password", "hunter2", RedactFull},
		{"memo fully redacted", "memo", "private note", RedactFull},
		{"address partially redacted", "to_address", "t1abcdefghijklmnop", RedactPartial},
		{"txid partially redacted", "txid", strings.Repeat("ab", 32), RedactPartial},
		{"shielded shape caught by heuristic", "note", saplingAddr, RedactPartial},
		{"plain value untouched", "retry_count", 3, RedactPlain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyField(tt.key, tt.value))
		})
	}
}

func TestRedactMetadata(t *testing.T) {
	in := map[string]interface{}{
		"spending_key": "secret-material",
		"to_address":   "t1abcdefghijklmnopqrstuvwxyz12345",
		"attempt":      2,
	}

	out := RedactMetadata(in)

	assert.Equal(t, "[REDACTED]", out["spending_key"])
	assert.Equal(t, "t1abcd...2345", out["to_address"])
	assert.Equal(t, 2, out["attempt"])

	// input map must not be mutated
	assert.Equal(t, "secret-material", in["spending_key"])
}

func TestRedactMetadata_Nil(t *testing.T) {
	assert.Nil(t, RedactMetadata(nil))
}

func TestRedactIdentifier(t *testing.T) {
	assert.Equal(t, "zs1z7r...9sly", RedactIdentifier(saplingAddr))
	// too short to keep both ends
	assert.Equal(t, "[REDACTED]", RedactIdentifier("short"))
}

func TestLooksShielded(t *testing.T) {
	assert.True(t, LooksShielded(saplingAddr))
	assert.True(t, LooksShielded("u1"+strings.Repeat("q", 60)))
	assert.False(t, LooksShielded("t1abcdefghijklmnopqrstuvwxyz12345"))
	assert.False(t, LooksShielded("zs1short"))
}
