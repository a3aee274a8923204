package values

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/shieldcustody/withdrawal-backend/internal/domain/errors"
)

// Amount represents an exact monetary value in zatoshis, the smallest
// unit of ZEC. All arithmetic is integer arithmetic; the only floating
// or decimal representation is the explicit display conversion.
type Amount struct {
	zatoshis int64
}

const (
	// ZatoshisPerZEC is the number of base units in one ZEC
	ZatoshisPerZEC int64 = 100_000_000

	// MaxSupplyZatoshis is the protocol maximum supply (21M ZEC)
	MaxSupplyZatoshis int64 = 21_000_000 * ZatoshisPerZEC
)

// NewAmount creates an Amount from a zatoshi count
func NewAmount(zatoshis int64) (Amount, error) {
	if zatoshis < 0 || zatoshis > MaxSupplyZatoshis {
		return Amount{}, errors.ErrAmountOutOfRange.WithDetails(map[string]interface{}{
			"zatoshis": zatoshis,
		})
	}
	return Amount{zatoshis: zatoshis}, nil
}

// MustNewAmount creates an Amount and panics on error (for constants/tests)
func MustNewAmount(zatoshis int64) Amount {
	a, err := NewAmount(zatoshis)
	if err != nil {
		panic(err)
	}
	return a
}

// ParseAmount parses a base-10 zatoshi string. ParseAmount and String
// round-trip losslessly.
func ParseAmount(s string) (Amount, error) {
	z, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Amount{}, errors.NewValidationError("AMOUNT_MALFORMED",
			"amount must be a base-10 integer zatoshi value").WithCause(err)
	}
	return NewAmount(z)
}

// AmountFromZEC converts a decimal ZEC value to an exact Amount.
// Fails if the value carries sub-zatoshi precision.
func AmountFromZEC(zec decimal.Decimal) (Amount, error) {
	z := zec.Mul(decimal.NewFromInt(ZatoshisPerZEC))
	if !z.IsInteger() {
		return Amount{}, errors.NewValidationError("AMOUNT_PRECISION",
			"ZEC value has sub-zatoshi precision")
	}
	if !z.BigInt().IsInt64() {
		return Amount{}, errors.ErrAmountOutOfRange
	}
	return NewAmount(z.IntPart())
}

// Zero returns the zero Amount
func Zero() Amount {
	return Amount{}
}

// Zatoshis returns the exact integer value
func (a Amount) Zatoshis() int64 {
	return a.zatoshis
}

// String returns the base-10 zatoshi representation
func (a Amount) String() string {
	return strconv.FormatInt(a.zatoshis, 10)
}

// ZEC returns the display value in ZEC. The conversion is for display
// only; never feed the result back into arithmetic.
func (a Amount) ZEC() decimal.Decimal {
	return decimal.New(a.zatoshis, -8)
}

// IsZero reports whether the amount is zero
func (a Amount) IsZero() bool {
	return a.zatoshis == 0
}

// IsPositive reports whether the amount is strictly positive
func (a Amount) IsPositive() bool {
	return a.zatoshis > 0
}

// Cmp returns -1, 0, or 1 comparing a to other
func (a Amount) Cmp(other Amount) int {
	switch {
	case a.zatoshis < other.zatoshis:
		return -1
	case a.zatoshis > other.zatoshis:
		return 1
	default:
		return 0
	}
}

// Equal reports whether two amounts are identical
func (a Amount) Equal(other Amount) bool {
	return a.zatoshis == other.zatoshis
}

// GreaterThan reports whether a exceeds other
func (a Amount) GreaterThan(other Amount) bool {
	return a.zatoshis > other.zatoshis
}

// Add returns a + other, failing with AMOUNT_OVERFLOW if the sum would
// exceed the maximum supply
func (a Amount) Add(other Amount) (Amount, error) {
	sum := a.zatoshis + other.zatoshis
	if sum < a.zatoshis || sum > MaxSupplyZatoshis {
		return Amount{}, errors.ErrAmountOverflow.WithDetails(map[string]interface{}{
			"lhs": a.zatoshis,
			"rhs": other.zatoshis,
		})
	}
	return Amount{zatoshis: sum}, nil
}

// Sub returns a - other, failing with AMOUNT_UNDERFLOW if the result
// would be negative
func (a Amount) Sub(other Amount) (Amount, error) {
	if other.zatoshis > a.zatoshis {
		return Amount{}, errors.ErrAmountUnderflow.WithDetails(map[string]interface{}{
			"lhs": a.zatoshis,
			"rhs": other.zatoshis,
		})
	}
	return Amount{zatoshis: a.zatoshis - other.zatoshis}, nil
}

// MarshalJSON encodes the amount as a zatoshi string so stored values
// round-trip exactly regardless of the consumer's number handling
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Accept bare integers from older producers
		var z int64
		if numErr := json.Unmarshal(data, &z); numErr != nil {
			return fmt.Errorf("invalid amount encoding: %w", err)
		}
		parsed, aerr := NewAmount(z)
		if aerr != nil {
			return aerr
		}
		*a = parsed
		return nil
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
