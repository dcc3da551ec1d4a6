package domain

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot(t *testing.T) ProductSnapshot {
	t.Helper()
	snap, err := NewProductSnapshot("Trail Shoe", "SHOE-42", "trail-shoe", map[string]string{"size": "42"})
	require.NoError(t, err)
	return snap
}

func TestNewOrderItemValidation(t *testing.T) {
	order := newTestOrder(t)
	snap := testSnapshot(t)
	product := uuid.New()

	cases := []struct {
		name      string
		order     *Order
		productID uuid.UUID
		quantity  int
		price     Money
		snapshot  ProductSnapshot
		want      error
	}{
		{"missing order", nil, product, 1, usd(5), snap, ErrOrderRequired},
		{"missing product", order, uuid.Nil, 1, usd(5), snap, ErrProductIDRequired},
		{"zero quantity", order, product, 0, usd(5), snap, ErrInvalidQuantity},
		{"negative quantity", order, product, -3, usd(5), snap, ErrInvalidQuantity},
		{"missing price", order, product, 1, Money{}, snap, ErrNegativeAmount},
		{"missing snapshot", order, product, 1, usd(5), ProductSnapshot{}, ErrProductSnapshotRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := newOrderItem(tc.order, tc.productID, uuid.NullUUID{}, tc.quantity, tc.price, tc.snapshot)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestOrderItemUpdateQuantity(t *testing.T) {
	item, err := newOrderItem(newTestOrder(t), uuid.New(), uuid.NullUUID{}, 2, usd(7), testSnapshot(t))
	require.NoError(t, err)
	assert.True(t, item.TotalPrice().Equal(usd(14)))

	assert.ErrorIs(t, item.updateQuantity(0), ErrInvalidQuantity)
	assert.ErrorIs(t, item.updateQuantity(-1), ErrInvalidQuantity)
	assert.Equal(t, 2, item.Quantity())

	require.NoError(t, item.updateQuantity(5))
	assert.Equal(t, 5, item.Quantity())
	assert.True(t, item.TotalPrice().Equal(usd(35)))
}

func TestProductSnapshotIsFrozen(t *testing.T) {
	attrs := map[string]string{"color": "red"}
	snap, err := NewProductSnapshot("Mug", "MUG-1", "mug", attrs)
	require.NoError(t, err)

	attrs["color"] = "blue"
	assert.Equal(t, "red", snap.Attributes()["color"])

	got := snap.Attributes()
	got["color"] = "green"
	assert.Equal(t, "red", snap.Attributes()["color"])

	data, err := json.Marshal(snap)
	require.NoError(t, err)
	var decoded ProductSnapshot
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, snap, decoded)

	_, err = NewProductSnapshot(" ", "X", "x", nil)
	assert.ErrorIs(t, err, ErrProductSnapshotRequired)
}
