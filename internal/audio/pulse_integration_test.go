//go:build integration

package audio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPulseCatalogIntegration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	backend := NewPulse("vice-integration")
	outputs, err := backend.Outputs(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, outputs)

	_, err = backend.Applications(ctx)
	require.NoError(t, err)
}

func TestPulseRenderAndCaptureIntegration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	backend := NewPulse("vice-integration")
	cfg := StreamConfig{Format: Format{SampleRate: 48000, Channels: 2}, BlockFrames: 480}

	render, err := backend.OpenRender(ctx, "", cfg)
	require.NoError(t, err)
	defer render.Close()
	require.NoError(t, render.WriteFrames(ctx, make([]float32, 480*2)))

	capture, err := backend.OpenCapture(ctx, Source{Kind: SourceDevice}, cfg)
	require.NoError(t, err)
	defer capture.Close()

	buf := make([]float32, 480*2)
	n, err := capture.ReadFrames(ctx, buf)
	require.NoError(t, err)
	require.Positive(t, n)
}
