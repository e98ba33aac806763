package volume

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetDefaultsWhenMissing(t *testing.T) {
	table := New()
	require.Equal(t, DefaultGain, table.Get("mic"))

	_, ok := table.Lookup("mic")
	require.False(t, ok)
}

func TestSetThenGet(t *testing.T) {
	table := New()
	table.Set("mic", 0.5)
	require.Equal(t, 0.5, table.Get("mic"))

	table.Set("mic", 1.75)
	gain, ok := table.Lookup("mic")
	require.True(t, ok)
	require.Equal(t, 1.75, gain)
}

func TestResetAllClearsEntries(t *testing.T) {
	table := New()
	table.Set("mic", 0.2)
	table.Set("music", 0.8)

	table.ResetAll()

	require.Empty(t, table.Names())
	require.Equal(t, DefaultGain, table.Get("mic"))
}

func TestSnapshotAndNames(t *testing.T) {
	table := New()
	table.Set("b", 0.1)
	table.Set("a", 0.2)

	require.Equal(t, []string{"a", "b"}, table.Names())
	require.Equal(t, map[string]float64{"a": 0.2, "b": 0.1}, table.Snapshot())
}

func TestConcurrentWritersAndReadersSeeWholeValues(t *testing.T) {
	table := New()
	valid := map[float64]struct{}{DefaultGain: {}, 0.25: {}, 0.75: {}}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				if (i+w)%2 == 0 {
					table.Set("shared", 0.25)
				} else {
					table.Set("shared", 0.75)
				}
				table.Set(fmt.Sprintf("own-%d", w), float64(i))
			}
		}(w)
	}

	errs := make(chan error, 1)
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				if _, ok := valid[table.Get("shared")]; !ok {
					select {
					case errs <- fmt.Errorf("torn read"):
					default:
					}
					return
				}
			}
		}()
	}
	wg.Wait()

	select {
	case err := <-errs:
		t.Fatal(err)
	default:
	}
	for w := 0; w < 4; w++ {
		require.Equal(t, float64(1999), table.Get(fmt.Sprintf("own-%d", w)))
	}
}
