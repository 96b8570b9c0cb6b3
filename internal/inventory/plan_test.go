package inventory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/checkout-saga/internal/events"
)

func TestNormalize(t *testing.T) {
	got := Normalize([]events.Item{
		{ProductID: "P2", Quantity: 1},
		{ProductID: "P1", Quantity: 2},
		{ProductID: "P2", Quantity: 3},
	})
	assert.Equal(t, []events.Item{
		{ProductID: "P1", Quantity: 2},
		{ProductID: "P2", Quantity: 4},
	}, got)
}

func TestPlan(t *testing.T) {
	stock := map[string]int{"P1": 5, "P2": 3}

	for _, tt := range []struct {
		name   string
		items  []events.Item
		want   map[string]int
		reason string
	}{
		{
			name:  "all available",
			items: []events.Item{{ProductID: "P1", Quantity: 2}, {ProductID: "P2", Quantity: 3}},
			want:  map[string]int{"P1": 3, "P2": 0},
		},
		{
			name:   "one short",
			items:  []events.Item{{ProductID: "P1", Quantity: 1}, {ProductID: "P2", Quantity: 10}},
			reason: "insufficient stock: P2",
		},
		{
			name:   "unknown",
			items:  []events.Item{{ProductID: "X", Quantity: 1}},
			reason: "unknown product: X",
		},
		{
			name:   "zero quantity",
			items:  []events.Item{{ProductID: "P1", Quantity: 0}},
			reason: "invalid quantity: P1 (0)",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			next, err := Plan(stock, tt.items)
			if tt.reason != "" {
				require.Error(t, err)
				assert.True(t, Rejection(err))
				assert.EqualError(t, err, tt.reason)
				assert.Nil(t, next)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, next)
		})
	}
	assert.Equal(t, map[string]int{"P1": 5, "P2": 3}, stock, "input is not mutated")
}
