package helpers

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFoldErrors(t *testing.T) {
	t.Parallel()

	assert.NoError(t, FoldErrors(nil))
	assert.NoError(t, FoldErrors([]error{nil, nil}))

	e1 := fmt.Errorf("first")
	e2 := fmt.Errorf("second")
	err := FoldErrors([]error{nil, e1, nil, e2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first")
	assert.Contains(t, err.Error(), "second")
}

func TestAtomicError(t *testing.T) {
	t.Parallel()

	a := new(AtomicError)
	err, set := a.Load()
	assert.NoError(t, err)
	assert.False(t, set)

	e1 := fmt.Errorf("first")
	prev, wasSet := a.StoreOnce(e1)
	assert.NoError(t, prev)
	assert.False(t, wasSet)

	prev, wasSet = a.StoreOnce(fmt.Errorf("second"))
	assert.Equal(t, e1, prev)
	assert.True(t, wasSet)

	err, set = a.Load()
	assert.Equal(t, e1, err)
	assert.True(t, set)
}
