package fusion

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAtomicAddFloat64_SingleThreaded(t *testing.T) {
	data := []float64{1.0}
	atomicAddFloat64(data, 0, 2.5)
	require.Equal(t, 3.5, data[0])
}

func TestAtomicAddFloat64_ConcurrentAddsAllLand(t *testing.T) {
	data := make([]float64, 1)
	const goroutines = 50
	const perGoroutine = 100

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				atomicAddFloat64(data, 0, 1.0)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, float64(goroutines*perGoroutine), data[0], "every concurrent add must be reflected, none lost to a lost CAS race")
}
