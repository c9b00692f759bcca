package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMoney(t *testing.T) {
	cases := []struct {
		in  string
		out int64
		ok  bool
	}{
		{"1", 100, true},
		{"1.0", 100, true},
		{"1.23", 123, true},
		{"1,23", 123, true},
		{"0.01", 1, true},
		{" 2.50 ", 250, true},
		{"110.00", 11000, true},
		{"-5", -500, true},
		{"1.005", 0, false},
		{"abc", 0, false},
		{"1.2.3", 0, false},
		{"", 0, false},
		{"99999999999999999999", 0, false},
		{"100000000000", MaxAmountCents, true},
		{"100000000000.01", 0, false},
		{"-100000000000.01", 0, false},
		{"92233720368547758.07", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseMoney(tc.in)
		if tc.ok {
			require.NoError(t, err, tc.in)
			assert.Equal(t, tc.out, got.Cents, tc.in)
		} else {
			assert.Error(t, err, tc.in)
			assert.True(t, IsValidation(err), tc.in)
		}
	}
}

func TestParseMoney_EmptyIsMissing(t *testing.T) {
	_, err := ParseMoney("  ")
	assert.ErrorIs(t, err, ErrMissingAmount)
}

func TestMoneyString(t *testing.T) {
	assert.Equal(t, "110", Money{Cents: 11000}.String())
	assert.Equal(t, "12.5", Money{Cents: 1250}.String())
	assert.Equal(t, "0.01", Money{Cents: 1}.String())
	assert.Equal(t, "0", Money{}.String())
	assert.Equal(t, "-10", Money{Cents: -1000}.String())
}

func TestMoneyArithmetic(t *testing.T) {
	a := Money{Cents: 6000}
	b := Money{Cents: 5000}
	assert.Equal(t, Money{Cents: 11000}, a.Add(b))
	assert.Equal(t, Money{Cents: 1000}, a.Sub(b))
	assert.Equal(t, Money{Cents: -5000}, b.Neg())
	assert.Equal(t, Money{}, b.Sub(a).MaxZero())
	assert.True(t, a.GreaterThan(b))
	assert.False(t, a.GreaterThan(a))
}

func TestMoneyPercentage(t *testing.T) {
	assert.Equal(t, 110.0, Money{Cents: 11000}.Percentage(Money{Cents: 10000}))
	assert.Equal(t, 33.33, Money{Cents: 100}.Percentage(Money{Cents: 300}))
	assert.Equal(t, 0.0, Money{Cents: 500}.Percentage(Money{}))
}

func TestMoneyJSON(t *testing.T) {
	out, err := json.Marshal(Money{Cents: 1234})
	require.NoError(t, err)
	assert.Equal(t, `"12.34"`, string(out))

	var fromNumber, fromString Money
	require.NoError(t, json.Unmarshal([]byte(`12.34`), &fromNumber))
	require.NoError(t, json.Unmarshal([]byte(`"12.34"`), &fromString))
	assert.Equal(t, int64(1234), fromNumber.Cents)
	assert.Equal(t, fromNumber, fromString)

	var bad Money
	assert.Error(t, json.Unmarshal([]byte(`"1.234"`), &bad))
}

func TestRepeatedSumIsExact(t *testing.T) {
	var total Money
	tenth, err := ParseMoney("0.10")
	require.NoError(t, err)
	for i := 0; i < 1000; i++ {
		total = total.Add(tenth)
	}
	assert.Equal(t, "100", total.String())
}
