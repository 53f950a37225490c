package lifecycle

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codeready-toolchain/tarsy-telemetry/internal/storage"
)

func TestAllowedFromMatchesSpecEdgeSet(t *testing.T) {
	cases := map[storage.Lifecycle][]storage.Lifecycle{
		storage.LifecycleCapturing:  {storage.LifecycleDetected},
		storage.LifecycleEnded:      {storage.LifecycleDetected, storage.LifecycleCapturing},
		storage.LifecycleParsed:     {storage.LifecycleEnded},
		storage.LifecycleSummarized: {storage.LifecycleParsed},
		storage.LifecycleArchived:   {storage.LifecycleParsed, storage.LifecycleSummarized},
		storage.LifecycleFailed: {
			storage.LifecycleDetected, storage.LifecycleCapturing, storage.LifecycleEnded,
			storage.LifecycleParsed, storage.LifecycleSummarized,
		},
	}

	for to, want := range cases {
		got := AllowedFrom(to)
		sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
		sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })
		assert.ElementsMatch(t, want, got, "AllowedFrom(%s)", to)
	}
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, IsTerminal(storage.LifecycleArchived))
	assert.True(t, IsTerminal(storage.LifecycleFailed))
	assert.False(t, IsTerminal(storage.LifecycleDetected))
	assert.False(t, IsTerminal(storage.LifecycleEnded))
}
