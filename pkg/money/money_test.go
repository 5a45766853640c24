package money_test

import (
	"testing"

	"github.com/cymbal-labs/ucp-engine/pkg/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdd_SameCurrency(t *testing.T) {
	a := money.New(499, "USD")
	b := money.New(101, "USD")

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, int64(600), sum.AmountMinor)
	assert.Equal(t, "USD", sum.Currency)
}

func TestAdd_CurrencyMismatch(t *testing.T) {
	a := money.New(499, "USD")
	b := money.New(101, "EUR")

	_, err := a.Add(b)
	assert.Error(t, err)
}

func TestSub_CanGoNegative(t *testing.T) {
	a := money.New(100, "USD")
	b := money.New(250, "USD")

	diff, err := a.Sub(b)
	require.NoError(t, err)
	assert.Equal(t, int64(-150), diff.AmountMinor)
	assert.True(t, diff.IsNegative())
	assert.Equal(t, int64(0), diff.FloorZero().AmountMinor)
}

func TestMul(t *testing.T) {
	assert.Equal(t, int64(1497), money.New(499, "USD").Mul(3).AmountMinor)
	assert.True(t, money.New(499, "USD").Mul(0).IsZero())
}

func TestClampMinor(t *testing.T) {
	assert.Equal(t, int64(499), money.ClampMinor(600, 499))
	assert.Equal(t, int64(499), money.ClampMinor(499, 499))
	assert.Equal(t, int64(100), money.ClampMinor(100, 499))
}

func TestFormat_USD(t *testing.T) {
	assert.Equal(t, "$4.99", money.New(499, "USD").Format())
	assert.Equal(t, "$0.00", money.New(0, "USD").Format())
	assert.Equal(t, "-$1.05", money.New(-105, "USD").Format())
}

func TestFormat_UnknownCurrencyFallsBack(t *testing.T) {
	m := money.New(499, "ZZZ")
	assert.Equal(t, "499 ZZZ", m.Format())
}
