package values

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shieldcustody/withdrawal-backend/internal/domain/errors"
)

func TestNewAmount(t *testing.T) {
	tests := []struct {
		name     string
		zatoshis int64
		wantErr  string
	}{
		{
			name:     "zero is valid",
			zatoshis: 0,
		},
		{
			name:     "typical amount",
			zatoshis: 150_000_000,
		},
		{
			name:     "maximum supply is valid",
			zatoshis: MaxSupplyZatoshis,
		},
		{
			name:     "negative rejected",
			zatoshis: -1,
			wantErr:  "AMOUNT_OUT_OF_RANGE",
		},
		{
			name:     "above maximum supply rejected",
			zatoshis: MaxSupplyZatoshis + 1,
			wantErr:  "AMOUNT_OUT_OF_RANGE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewAmount(tt.zatoshis)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, errors.Code(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.zatoshis, a.Zatoshis())
		})
	}
}

func TestNewAmount_FailuresAreIndependentErrors(t *testing.T) {
	_, err1 := NewAmount(-5)
	_, err2 := NewAmount(-7)
	require.Error(t, err1)
	require.Error(t, err2)
	assert.NotSame(t, err1, err2)

	var app1, app2 *errors.AppError
	require.ErrorAs(t, err1, &app1)
	require.ErrorAs(t, err2, &app2)
	assert.Equal(t, int64(-5), app1.Details["zatoshis"])
	assert.Equal(t, int64(-7), app2.Details["zatoshis"])

	// the shared sentinel must stay untouched
	assert.Nil(t, errors.ErrAmountOutOfRange.Details)
}

func TestAmount_StringRoundTrip(t *testing.T) {
	for _, z := range []int64{0, 1, 12345, ZatoshisPerZEC, MaxSupplyZatoshis} {
		a := MustNewAmount(z)
		parsed, err := ParseAmount(a.String())
		require.NoError(t, err)
		assert.True(t, a.Equal(parsed), "round trip changed value for %d", z)
	}
}

func TestParseAmount_Malformed(t *testing.T) {
	for _, s := range []string{"", "1.5", "abc", "0x10", "-"} {
		_, err := ParseAmount(s)
		require.Error(t, err, "input %q", s)
		assert.Equal(t, "AMOUNT_MALFORMED", errors.Code(err))
	}
}

func TestAmount_Add(t *testing.T) {
	a := MustNewAmount(100)
	b := MustNewAmount(50)

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, int64(150), sum.Zatoshis())

	// Sum past the supply cap must fail, not clamp
	max := MustNewAmount(MaxSupplyZatoshis)
	_, err = max.Add(MustNewAmount(1))
	require.Error(t, err)
	assert.Equal(t, "AMOUNT_OVERFLOW", errors.Code(err))
}

func TestAmount_Sub(t *testing.T) {
	a := MustNewAmount(100)

	diff, err := a.Sub(MustNewAmount(40))
	require.NoError(t, err)
	assert.Equal(t, int64(60), diff.Zatoshis())

	_, err = a.Sub(MustNewAmount(101))
	require.Error(t, err)
	assert.Equal(t, "AMOUNT_UNDERFLOW", errors.Code(err))
}

func TestAmount_ZECDisplay(t *testing.T) {
	a := MustNewAmount(150_000_000)
	assert.Equal(t, "1.5", a.ZEC().String())

	a = MustNewAmount(1)
	assert.Equal(t, "0.00000001", a.ZEC().String())
}

func TestAmountFromZEC(t *testing.T) {
	a, err := AmountFromZEC(decimal.RequireFromString("1.5"))
	require.NoError(t, err)
	assert.Equal(t, int64(150_000_000), a.Zatoshis())

	// Sub-zatoshi precision is not representable
	_, err = AmountFromZEC(decimal.RequireFromString("0.000000001"))
	require.Error(t, err)

	_, err = AmountFromZEC(decimal.RequireFromString("-1"))
	require.Error(t, err)
}

func TestAmount_JSONRoundTrip(t *testing.T) {
	a := MustNewAmount(2_100_000_000_000_000)

	data, err := json.Marshal(a)
	require.NoError(t, err)
	assert.Equal(t, `"2100000000000000"`, string(data))

	var back Amount
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, a.Equal(back))

	// Bare integers from older producers still decode
	var legacy Amount
	require.NoError(t, json.Unmarshal([]byte(`12345`), &legacy))
	assert.Equal(t, int64(12345), legacy.Zatoshis())
}

func TestAmount_Cmp(t *testing.T) {
	small := MustNewAmount(1)
	big := MustNewAmount(2)

	assert.Equal(t, -1, small.Cmp(big))
	assert.Equal(t, 1, big.Cmp(small))
	assert.Equal(t, 0, small.Cmp(small))
	assert.True(t, big.GreaterThan(small))
	assert.True(t, small.IsPositive())
	assert.True(t, Zero().IsZero())
}
