package squad

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDispatcherCloseStopsAcceptingWork(t *testing.T) {
	t.Parallel()

	d := newDispatcher(4)
	ran := make(chan struct{})
	require.NoError(t, d.do(func() { close(ran) }))
	<-ran

	d.close()

	require.ErrorIs(t, d.do(func() {}), errDispatcherClosed)
	_, err := d.call(func() (interface{}, error) { return nil, nil })
	require.ErrorIs(t, err, errDispatcherClosed)

	// Closing again is a no-op.
	d.close()
}

func TestDispatcherCloseDrainsQueuedWork(t *testing.T) {
	t.Parallel()

	d := newDispatcher(8)
	n := 0
	for i := 0; i < 5; i++ {
		require.NoError(t, d.do(func() { n++ }))
	}
	d.close()
	require.Equal(t, 5, n)
}
