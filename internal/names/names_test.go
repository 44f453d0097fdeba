package names

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomShape(t *testing.T) {
	for i := 0; i < 50; i++ {
		parts := strings.Split(Room(nil), "-")
		require.Len(t, parts, 3)
		assert.Contains(t, adjectives, parts[0])
		assert.NotEqual(t, parts[1], parts[2])
	}
}

func TestRoomSkipsTakenNames(t *testing.T) {
	seen := map[string]bool{}
	first := Room(nil)
	seen[first] = true

	calls := 0
	name := Room(func(n string) bool {
		calls++
		return calls < 5 || seen[n]
	})
	assert.False(t, seen[name])
	assert.GreaterOrEqual(t, calls, 5)
}

func TestIdentity(t *testing.T) {
	parts := strings.Split(Identity(), "-")
	require.Len(t, parts, 2)
	assert.Contains(t, adjectives, parts[0])
	assert.Contains(t, people, parts[1])
}
