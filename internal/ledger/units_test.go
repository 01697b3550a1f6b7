package ledger

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUnits(t *testing.T) {
	tests := []struct {
		amount   string
		decimals uint8
		want     string
	}{
		{"1", 18, "1000000000000000000"},
		{"0.5", 18, "500000000000000000"},
		{"100", 0, "100"},
		{"12.345", 6, "12345000"},
		{" 7 ", 2, "700"},
		{"0", 18, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			got, err := ParseUnits(tt.amount, tt.decimals)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestParseUnitsRejects(t *testing.T) {
	for _, amount := range []string{"", "abc", "-1", "1.234"} {
		t.Run(amount, func(t *testing.T) {
			_, err := ParseUnits(amount, 2)
			assert.ErrorIs(t, err, ErrInvalidAmount)
		})
	}
}

func TestFormatUnits(t *testing.T) {
	v, _ := new(big.Int).SetString("1500000000000000000", 10)
	assert.Equal(t, "1.5", FormatUnits(v, 18))
	assert.Equal(t, "0", FormatUnits(big.NewInt(0), 18))
	assert.Equal(t, "0", FormatUnits(nil, 18))
	assert.Equal(t, "42", FormatUnits(big.NewInt(42), 0))
}

func TestUnitsRoundTrip(t *testing.T) {
	for _, amount := range []string{"1", "0.000000000000000001", "12.345", "99999999.5", "250"} {
		for _, dec := range []uint8{18, 9} {
			raw, err := ParseUnits(amount, dec)
			if dec == 9 && amount == "0.000000000000000001" {
				assert.Error(t, err)
				continue
			}
			require.NoError(t, err)
			assert.Equal(t, amount, FormatUnits(raw, dec), "amount %s decimals %d", amount, dec)
		}
	}
}
