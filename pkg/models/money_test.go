package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoneyFromFloat(t *testing.T) {
	tests := []struct {
		name  string
		input float64
		want  Money
	}{
		{name: "exact cents", input: 12.34, want: 1234},
		{name: "zero", input: 0, want: 0},
		{name: "rounds half up", input: 0.005, want: 1},
		{name: "float artifact rounds cleanly", input: 19.99, want: 1999},
		{name: "large amount", input: 123456.78, want: 12345678},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MoneyFromFloat(tt.input))
		})
	}
}

func TestMoney_Mul(t *testing.T) {
	// 3 x 19.99 must be exactly 59.97, never 59.970000000000006.
	unitPrice := MoneyFromFloat(19.99)
	total := unitPrice.Mul(3)

	assert.Equal(t, Money(5997), total)
	assert.Equal(t, "59.97", total.String())
}

func TestMoney_String(t *testing.T) {
	assert.Equal(t, "0.00", Money(0).String())
	assert.Equal(t, "0.05", Money(5).String())
	assert.Equal(t, "100.00", Money(10000).String())
	assert.Equal(t, "-12.50", Money(-1250).String())
}

func TestMoney_JSON(t *testing.T) {
	type wrapper struct {
		Amount Money `json:"amount"`
	}

	out, err := json.Marshal(wrapper{Amount: Money(1999)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":19.99}`, string(out))

	var in wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"amount":19.99}`), &in))
	assert.Equal(t, Money(1999), in.Amount)
}
