package idgen

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNanoID(t *testing.T) {
	for _, length := range []int{8, 12, 24} {
		id := NanoID(length)()
		assert.Len(t, id, length)
		for _, c := range id {
			assert.True(t, (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z'), "unexpected %q in %q", c, id)
		}
	}
}

func TestNanoID_Uniqueness(t *testing.T) {
	gen := NanoID(12)
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := gen()
		_, dup := seen[id]
		require.False(t, dup, "duplicate at iteration %d: %q", i, id)
		seen[id] = struct{}{}
	}
}

func TestUUIDv7(t *testing.T) {
	id := UUIDv7()()
	u, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), u.Version())
	assert.NotEqual(t, id, UUIDv7()())
}

func TestUUIDv7_SortsByTime(t *testing.T) {
	gen := UUIDv7()
	prev := gen()
	for i := 0; i < 50; i++ {
		next := gen()
		assert.Less(t, prev, next)
		prev = next
	}
}

func TestPrefixed(t *testing.T) {
	id := Prefixed("ses_", NanoID(6))()
	assert.True(t, strings.HasPrefix(id, "ses_"))
	assert.Len(t, id, 10)
}

func TestDefault(t *testing.T) {
	_, err := uuid.Parse(New())
	assert.NoError(t, err)
}
