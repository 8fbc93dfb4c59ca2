package sale

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_Transitions(t *testing.T) {
	assert.True(t, StatusCompleted.CanTransitionTo(StatusVoided))
	assert.False(t, StatusVoided.CanTransitionTo(StatusVoided))
	assert.False(t, StatusVoided.CanTransitionTo(StatusCompleted))
	assert.False(t, StatusCompleted.CanTransitionTo(StatusCompleted))

	assert.True(t, StatusVoided.IsTerminal())
	assert.False(t, StatusCompleted.IsTerminal())
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("Completed")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, s)

	s, err = ParseStatus("Voided")
	require.NoError(t, err)
	assert.Equal(t, StatusVoided, s)

	for _, bad := range []string{"", "Pending", "voided"} {
		_, err := ParseStatus(bad)
		assert.Error(t, err, bad)
	}
}

func TestSale_Void(t *testing.T) {
	s := &Sale{ID: "s-1", Status: StatusCompleted}

	require.NoError(t, s.Void())
	assert.Equal(t, StatusVoided, s.Status)

	err := s.Void()
	require.Error(t, err)
	var te *InvalidStateTransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, StatusVoided, te.Current)
	assert.Equal(t, StatusVoided, s.Status)
}

func TestSale_GrandTotalAndVerify(t *testing.T) {
	s := &Sale{
		ID:       "s-1",
		Subtotal: d("47.50"),
		Tax:      d("4.75"),
		Discount: d("2.25"),
		Items: []SaleItem{
			{LineTotal: d("30.00")},
			{LineTotal: d("17.50")},
		},
	}

	assert.Equal(t, "50.00", s.GrandTotal().StringFixed(2))
	assert.NoError(t, s.Verify())

	s.Subtotal = d("47.49")
	assert.Error(t, s.Verify())
}

func TestSaleFilter_Matches(t *testing.T) {
	s := &Sale{Status: StatusCompleted, CashierID: "ana"}

	assert.True(t, SaleFilter{}.Matches(s))
	assert.True(t, SaleFilter{Status: StatusCompleted, CashierID: "ana"}.Matches(s))
	assert.False(t, SaleFilter{Status: StatusVoided}.Matches(s))
	assert.False(t, SaleFilter{CashierID: "ben"}.Matches(s))
}
