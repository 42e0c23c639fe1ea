package captioncore_test

import (
	"context"
	"testing"
	"time"

	captioncore "github.com/MrWong99/captioncore"
	audiomock "github.com/MrWong99/captioncore/pkg/audio/mock"
	"github.com/MrWong99/captioncore/pkg/captiontypes"
	"github.com/MrWong99/captioncore/pkg/config"
	overlapmock "github.com/MrWong99/captioncore/pkg/overlap/mock"
	sessionmock "github.com/MrWong99/captioncore/pkg/session/mock"
	timelinemock "github.com/MrWong99/captioncore/pkg/timeline/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func waitForSegment(t *testing.T, ch <-chan captiontypes.Segment) captiontypes.Segment {
	t.Helper()
	select {
	case seg, ok := <-ch:
		require.True(t, ok, "segments channel closed before a segment arrived")
		return seg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a segment")
		return captiontypes.Segment{}
	}
}

func TestManager_StreamingRoutesAudioAndStampsFinals(t *testing.T) {
	capture := audiomock.NewCaptureSource(16000, 1, 4)
	times := timelinemock.NewTimeSource()
	times.Set(10)
	sess := sessionmock.New()

	cfg := config.CoreConfig{Recognition: config.RecognitionConfig{
		Endpoint: "wss://example.test",
		Backend:  config.BackendStreaming,
	}}.WithDefaults()

	m, err := captioncore.New(cfg, captioncore.Deps{Capture: capture, Times: times}, captioncore.WithSession(sess))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, m.Open(ctx))
	require.Equal(t, captiontypes.StateConnected, sess.State())

	runErr := make(chan error, 1)
	go func() { runErr <- m.Run(ctx) }()

	// 320 samples @16kHz mono = one full 20ms output frame.
	capture.SendFrame(make([]float32, 320))
	require.Eventually(t, func() bool {
		return len(sess.SentAudio) > 0
	}, time.Second, 10*time.Millisecond)

	sess.SendFinal(captiontypes.Transcript{
		Text: "hello",
		Words: []captiontypes.WordDetail{
			{Text: "hello", Start: 0, End: 400 * time.Millisecond},
		},
	})

	seg := waitForSegment(t, m.Segments())
	require.Equal(t, "hello", seg.Text)
	require.InDelta(t, 10.0, seg.StartSec, 1e-9)
	require.InDelta(t, 10.4, seg.EndSec, 1e-9)

	cancel()
	require.Error(t, <-runErr)
}

func TestManager_RunReturnsWithoutLeakingGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	capture := audiomock.NewCaptureSource(16000, 1, 4)
	times := timelinemock.NewTimeSource()
	sess := sessionmock.New()

	cfg := config.CoreConfig{Recognition: config.RecognitionConfig{
		Endpoint: "wss://example.test",
		Backend:  config.BackendStreaming,
	}}.WithDefaults()

	m, err := captioncore.New(cfg, captioncore.Deps{Capture: capture, Times: times}, captioncore.WithSession(sess))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Open(ctx))

	runErr := make(chan error, 1)
	go func() { runErr <- m.Run(ctx) }()

	cancel()
	<-runErr
	require.NoError(t, m.Close())
}

func TestManager_BatchCorrectsChunkStartAndRoutesThroughDedup(t *testing.T) {
	capture := audiomock.NewCaptureSource(100, 1, 4) // low rate keeps the 3s window small
	encoder := audiomock.NewContainerEncoder()
	times := timelinemock.NewTimeSource()
	times.Set(5.0)
	sess := sessionmock.New()
	dedup := overlapmock.New()

	cfg := config.CoreConfig{Recognition: config.RecognitionConfig{
		Endpoint: "wss://example.test",
		Backend:  config.BackendBatch,
	}}.WithDefaults()

	m, err := captioncore.New(cfg, captioncore.Deps{Capture: capture, Times: times, Encoder: encoder},
		captioncore.WithSession(sess), captioncore.WithDedup(dedup))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, m.Open(ctx))

	runErr := make(chan error, 1)
	go func() { runErr <- m.Run(ctx) }()

	// Pre-buffer the batch backend's result for the one chunk this window
	// will produce (mock.Client's Finals channel is buffered).
	sess.SendFinal(captiontypes.Transcript{Text: "today's forecast"})

	// BatchWindowSec=3 at 100Hz mono = 300 samples triggers exactly one chunk.
	capture.SendFrame(make([]float32, 300))

	seg := waitForSegment(t, m.Segments())
	require.Equal(t, "today's forecast", seg.Text)
	// correctedVideoStart = videoCurrentTime(5.0) - chunkDurationSec(3.0) = 2.0
	require.InDelta(t, 2.0, seg.StartSec, 1e-9)

	cancel()
	require.Error(t, <-runErr)
}
