package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func indexOf(order []string, t string) int {
	for i, v := range order {
		if v == t {
			return i
		}
	}
	return -1
}

func TestOrder(t *testing.T) {
	t.Run("referenced types come first", func(t *testing.T) {
		deps := map[string][]string{
			"deals":    {"companies", "contacts"},
			"contacts": {"companies"},
		}
		order := Order(deps)
		assert.Equal(t, []string{"companies", "contacts", "deals"}, order)
		assert.Less(t, indexOf(order, "companies"), indexOf(order, "contacts"))
		assert.Less(t, indexOf(order, "contacts"), indexOf(order, "deals"))
	})

	t.Run("independent types share a level", func(t *testing.T) {
		deps := map[string][]string{
			"tickets": {"contacts"},
			"deals":   {"contacts"},
		}
		assert.Equal(t, [][]string{{"contacts"}, {"deals", "tickets"}}, Levels(deps, "products"))
	})

	t.Run("cycles release the lexically smallest type", func(t *testing.T) {
		deps := map[string][]string{
			"contacts":  {"companies"},
			"companies": {"contacts"},
			"deals":     {"contacts"},
		}
		assert.Equal(t, []string{"companies", "contacts", "deals"}, Order(deps))
		// same answer regardless of map iteration
		for i := 0; i < 20; i++ {
			assert.Equal(t, []string{"companies", "contacts", "deals"}, Order(deps))
		}
	})

	t.Run("types depending on a cycle wait for it", func(t *testing.T) {
		deps := map[string][]string{
			"accounts": {"deals"},
			"deals":    {"tickets"},
			"tickets":  {"deals"},
		}
		for i := 0; i < 20; i++ {
			assert.Equal(t, [][]string{{"deals"}, {"accounts", "tickets"}}, Levels(deps))
		}
	})

	t.Run("cycle below another cycle is released first", func(t *testing.T) {
		deps := map[string][]string{
			"a": {"b", "y"},
			"b": {"a"},
			"y": {"z"},
			"z": {"y"},
		}
		order := Order(deps)
		assert.Equal(t, []string{"y", "z", "a", "b"}, order)
	})

	t.Run("self references are ignored", func(t *testing.T) {
		assert.Equal(t, []string{"companies"}, Order(map[string][]string{"companies": {"companies"}}))
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, Order(nil))
	})
}
