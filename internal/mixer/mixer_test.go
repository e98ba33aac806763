package mixer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rbright/vice/internal/audio"
	"github.com/stretchr/testify/require"
)

var stereo = audio.Format{SampleRate: 48000, Channels: 2}

func constant(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestMixSumsInputsAndPadsSilence(t *testing.T) {
	m := New(stereo, 0)
	a, err := m.NewInput("a", 64)
	require.NoError(t, err)
	b, err := m.NewInput("b", 64)
	require.NoError(t, err)

	require.Equal(t, 8, a.Submit(constant(8, 0.25)))
	require.Equal(t, 4, b.Submit(constant(4, 0.5)))

	out := make([]float32, 8)
	require.Equal(t, 2, m.Mix(out))
	require.InDeltaSlice(t, []float32{0.75, 0.75, 0.75, 0.75, 0.25, 0.25, 0.25, 0.25}, out, 1e-6)

	require.Equal(t, 0, m.Mix(out))
	require.Equal(t, make([]float32, 8), out)
}

func TestMixClampsSum(t *testing.T) {
	m := New(stereo, 0)
	for _, name := range []string{"a", "b", "c"} {
		in, err := m.NewInput(name, 16)
		require.NoError(t, err)
		in.Submit(constant(4, 0.6))
	}

	out := make([]float32, 4)
	m.Mix(out)
	require.Equal(t, []float32{1, 1, 1, 1}, out)
}

func TestSubmitDropsOverflow(t *testing.T) {
	m := New(stereo, 0)
	in, err := m.NewInput("a", 2)
	require.NoError(t, err)

	require.Equal(t, 4, in.Submit(constant(10, 0.1)))
	require.Equal(t, int64(6), in.Dropped())
	require.Equal(t, 2, in.Buffered())
}

func TestNewInputRespectsLimit(t *testing.T) {
	m := New(stereo, 1)
	first, err := m.NewInput("a", 8)
	require.NoError(t, err)

	_, err = m.NewInput("b", 8)
	require.ErrorIs(t, err, ErrTooManyInputs)

	first.Close()
	_, err = m.NewInput("b", 8)
	require.NoError(t, err)
}

func TestCloseRetiresInput(t *testing.T) {
	m := New(stereo, 0)
	in, err := m.NewInput("a", 8)
	require.NoError(t, err)
	in.Submit(constant(4, 0.5))

	in.Close()
	in.Close()
	require.Equal(t, 0, m.Len())
	require.Equal(t, 0, in.Submit(constant(2, 0.5)))
	require.ErrorIs(t, in.Write(context.Background(), constant(2, 0.5)), ErrInputClosed)

	select {
	case <-in.Done():
	default:
		t.Fatal("expected done channel to be closed")
	}
}

func TestCloseWhenDrainedWaitsForConsumer(t *testing.T) {
	m := New(stereo, 0)
	in, err := m.NewInput("voice", 8)
	require.NoError(t, err)
	in.Submit(constant(8, 0.5))

	in.CloseWhenDrained()
	require.Equal(t, 1, m.Len())

	out := make([]float32, 4)
	m.Mix(out)
	require.Equal(t, 1, m.Len())
	m.Mix(out)
	require.Equal(t, 0, m.Len())
}

func TestWriteBlocksUntilMixed(t *testing.T) {
	m := New(stereo, 0)
	in, err := m.NewInput("voice", 2)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- in.Write(context.Background(), constant(12, 0.25))
	}()

	out := make([]float32, 4)
	total := 0
	deadline := time.After(2 * time.Second)
	for total < 12 {
		select {
		case <-deadline:
			t.Fatal("writer never drained")
		default:
		}
		if m.Mix(out) > 0 {
			total += 4
		}
		time.Sleep(time.Millisecond)
	}
	require.NoError(t, <-done)
}

func TestWriteHonorsContext(t *testing.T) {
	m := New(stereo, 0)
	in, err := m.NewInput("voice", 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = in.Write(ctx, constant(8, 0.25))
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestConcurrentProducersDoNotInterfere(t *testing.T) {
	m := New(stereo, 0)
	var wg sync.WaitGroup
	inputs := make([]*Input, 4)
	for i := range inputs {
		in, err := m.NewInput("p", 4096)
		require.NoError(t, err)
		inputs[i] = in
	}
	for _, in := range inputs {
		wg.Add(1)
		go func(in *Input) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				in.Submit(constant(8, 0.01))
			}
		}(in)
	}
	wg.Wait()

	out := make([]float32, 800)
	m.Mix(out)
	for _, v := range out {
		require.InDelta(t, 0.04, v, 1e-6)
	}
}
