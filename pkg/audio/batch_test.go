package audio_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/MrWong99/captioncore/pkg/audio"
	"github.com/MrWong99/captioncore/pkg/audio/mock"
	"github.com/stretchr/testify/require"
)

// testCaptureSource with a tiny, test-friendly sample rate keeps window/step
// sample counts small: 3s window * 10Hz * 1ch = 30 samples, 2s step = 20.
const testSampleRate = 10

func collectChunks(ch <-chan audio.AudioChunk, n int) []audio.AudioChunk {
	var out []audio.AudioChunk
	for c := range ch {
		out = append(out, c)
		if len(out) == n {
			break
		}
	}
	return out
}

func TestBatcher_EmitsOverlappedWindows(t *testing.T) {
	src := mock.NewCaptureSource(testSampleRate, 1, 4)
	enc := mock.NewContainerEncoder()
	b := audio.NewBatcher(src, nil, enc, audio.WithHeaderLength(len(enc.HeaderTag)))
	b.Start(context.Background())

	// 50 samples at 10Hz mono, fed as one block: enough for window 0
	// (0-30) and window 1 (20-50).
	samples := make([]float32, 50)
	for i := range samples {
		samples[i] = float32(i)
	}
	src.SendFrame(samples)

	chunks := collectChunks(b.Chunks(), 2)
	require.Len(t, chunks, 2)

	require.Equal(t, uint64(0), chunks[0].Index)
	require.InDelta(t, 0, chunks[0].StartOffsetSec, 1e-9)
	require.InDelta(t, audio.BatchWindowSec, chunks[0].EndOffsetSec, 1e-9)

	require.Equal(t, uint64(1), chunks[1].Index)
	require.InDelta(t, audio.BatchStepSec, chunks[1].StartOffsetSec, 1e-9)

	require.True(t, bytes.HasPrefix(chunks[0].Bytes, enc.HeaderTag))

	src.EndStream()
	require.NoError(t, b.Close())
}

func TestBatcher_RepairsHeaderOnContinuationChunks(t *testing.T) {
	src := mock.NewCaptureSource(testSampleRate, 1, 4)
	enc := mock.NewContainerEncoder()
	b := audio.NewBatcher(src, nil, enc, audio.WithHeaderLength(len(enc.HeaderTag)))
	b.Start(context.Background())

	samples := make([]float32, 50)
	src.SendFrame(samples)

	chunks := collectChunks(b.Chunks(), 2)
	require.Len(t, chunks, 2)

	// The mock encoder only ever prefixes HeaderTag to its own output, so
	// chunk 1 would already start with it in this mock — assert the repair
	// logic at least preserves a well-formed, independently-decodable
	// prefix rather than double-prepending it.
	require.True(t, bytes.HasPrefix(chunks[1].Bytes, enc.HeaderTag))
	count := bytes.Count(chunks[1].Bytes, enc.HeaderTag)
	require.Equal(t, 1, count, "header must not be duplicated when the encoder already emits it")

	src.EndStream()
	require.NoError(t, b.Close())
}

func TestBatcher_FlushesFinalPartialWindowOnStreamEnd(t *testing.T) {
	src := mock.NewCaptureSource(testSampleRate, 1, 4)
	enc := mock.NewContainerEncoder()
	b := audio.NewBatcher(src, nil, enc, audio.WithHeaderLength(len(enc.HeaderTag)))
	b.Start(context.Background())

	// Only 15 samples: not enough for one full 30-sample window, so the
	// only chunk emitted must come from the final flush on stream end.
	src.SendFrame(make([]float32, 15))
	src.EndStream()

	select {
	case chunk, ok := <-b.Chunks():
		require.True(t, ok)
		require.Equal(t, uint64(0), chunk.Index)
	case <-time.After(time.Second):
		t.Fatal("expected a final flushed chunk")
	}

	require.NoError(t, b.Close())
}

func TestEncodeDecodeWireChunk_RoundTrip(t *testing.T) {
	chunk := audio.AudioChunk{
		Index:          3,
		StartOffsetSec: 6,
		EndOffsetSec:   9,
		ContainerMime:  "audio/webm;codecs=opus",
		Bytes:          []byte{1, 2, 3, 4, 5},
	}
	wire := audio.EncodeWireChunk(chunk)
	require.Equal(t, len(chunk.Bytes), wire.ByteLength)

	got, err := audio.DecodeWireChunk(wire)
	require.NoError(t, err)
	require.Equal(t, chunk, got)
}

func TestDecodeWireChunk_InvalidBase64(t *testing.T) {
	wire := audio.WireChunk{BytesB64: "not-valid-base64!!"}
	_, err := audio.DecodeWireChunk(wire)
	require.Error(t, err)
}
