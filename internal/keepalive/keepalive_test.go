package keepalive

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func resetRegistry() {
	mu.Lock()
	defer mu.Unlock()
	slots = make([]slot, 0, InitialSlots)
	freeList = nil
	numLive = 0
}

func TestAcquire_ReusesSlots(t *testing.T) {
	resetRegistry()
	var someData float64
	acquired := make([]KeepAlive, 0, InitialSlots)
	for range InitialSlots {
		acquired = append(acquired, Acquire(&someData))
	}
	require.Len(t, slots, InitialSlots)
	for _, k := range acquired {
		k.Release()
	}
	acquired = acquired[:0]
	for range InitialSlots {
		acquired = append(acquired, Acquire(&someData))
	}
	require.Len(t, slots, InitialSlots)

	// The registry grows when all slots are in use.
	for range InitialSlots {
		acquired = append(acquired, Acquire(&someData))
	}
	require.Len(t, slots, 2*InitialSlots)
	for _, k := range acquired {
		k.Release()
	}
	require.Equal(t, 0, NumAcquired())
	require.Panics(t, acquired[0].Release)
}

func TestListAcquired(t *testing.T) {
	resetRegistry()
	a, b := "a", "b"
	ka := Acquire(&a)
	kb := Acquire(&b)
	require.Equal(t, 2, NumAcquired())
	require.ElementsMatch(t, []any{&a, &b}, ListAcquired())
	ka.Release()
	require.Equal(t, []any{&b}, ListAcquired())
	kb.Release()
	require.Empty(t, ListAcquired())
}
