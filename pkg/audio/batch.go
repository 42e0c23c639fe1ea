package audio

import (
	"context"
	"encoding/base64"
	"log/slog"
	"sync"

	"github.com/MrWong99/captioncore/pkg/captiontypes"
)

// WireChunk is re-exported for convenience; see captiontypes.WireChunk.
type WireChunk = captiontypes.WireChunk

// Batcher runs Mode B: it accumulates raw capture samples into overlapping
// windows ([BatchWindowSec] long, stepping every [BatchStepSec]), compresses
// each window with a [ContainerEncoder], and repairs the container header on
// continuation chunks so each one is independently decodable downstream, per
// spec §4.2.
type Batcher struct {
	source  CaptureSource
	mirror  PlaybackMirror
	encoder ContainerEncoder

	out     chan AudioChunk
	done    chan struct{}
	closeWG sync.WaitGroup
	once    sync.Once

	sampleRate int
	channels   int
	windowLen  int // samples per window, interleaved-frame count
	stepLen    int

	buf        []float32 // accumulated interleaved samples, trimmed as windows are emitted
	bufOffset  float64   // seconds elapsed before buf[0]
	nextIndex  uint64
	header     []byte // container header bytes captured from chunk 0
	headerLen  int
}

// BatcherOption configures a [Batcher].
type BatcherOption func(*Batcher)

// WithHeaderLength overrides the number of leading bytes captured from
// chunk 0 as the repairable container header. Real container formats (e.g.
// WebM/Opus) front-load their header well within a few hundred bytes, so the
// default is generous; backends with unusually large headers can raise it.
func WithHeaderLength(n int) BatcherOption {
	return func(b *Batcher) { b.headerLen = n }
}

// defaultHeaderLength is the default for [WithHeaderLength].
const defaultHeaderLength = 4096

// NewBatcher constructs a Batcher reading from source, mirroring to mirror
// (optional), and compressing windows with encoder.
func NewBatcher(source CaptureSource, mirror PlaybackMirror, encoder ContainerEncoder, opts ...BatcherOption) *Batcher {
	sr := source.NativeSampleRate()
	ch := source.NativeChannels()
	b := &Batcher{
		source:     source,
		mirror:     mirror,
		encoder:    encoder,
		out:        make(chan AudioChunk, 8),
		done:       make(chan struct{}),
		sampleRate: sr,
		channels:   ch,
		windowLen:  int(BatchWindowSec * float64(sr) * float64(ch)),
		stepLen:    int(BatchStepSec * float64(sr) * float64(ch)),
		headerLen:  defaultHeaderLength,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Chunks returns the channel of overlapped, container-wrapped chunks. The
// channel closes when the capture source ends or Close is called.
func (b *Batcher) Chunks() <-chan AudioChunk { return b.out }

// Start begins accumulating and encoding windows in a background goroutine.
func (b *Batcher) Start(ctx context.Context) {
	b.closeWG.Add(1)
	go b.run(ctx)
}

func (b *Batcher) run(ctx context.Context) {
	defer b.closeWG.Done()
	defer close(b.out)

	for {
		select {
		case block, ok := <-b.source.Frames():
			if !ok {
				b.flushFinal(ctx)
				return
			}
			if b.mirror != nil {
				if err := b.mirror.Write(block); err != nil {
					slog.Warn("audio batcher: playback mirror write failed", "error", err)
				}
			}
			b.buf = append(b.buf, block...)
			b.emitReady(ctx)
		case <-ctx.Done():
			return
		case <-b.done:
			return
		}
	}
}

func (b *Batcher) emitReady(ctx context.Context) {
	for len(b.buf) >= b.windowLen {
		window := b.buf[:b.windowLen]
		startSec := b.bufOffset
		endSec := startSec + BatchWindowSec

		data, mime, err := b.encoder.Encode(ctx, window, b.sampleRate, b.channels)
		if err != nil {
			slog.Warn("audio batcher: encode failed, dropping window", "index", b.nextIndex, "error", err)
		} else {
			data = b.repairHeader(data)
			b.emit(AudioChunk{
				Index:          b.nextIndex,
				StartOffsetSec: startSec,
				EndOffsetSec:   endSec,
				ContainerMime:  mime,
				Bytes:          data,
			})
		}

		b.nextIndex++
		if b.stepLen >= len(b.buf) {
			b.buf = nil
		} else {
			b.buf = append([]float32(nil), b.buf[b.stepLen:]...)
		}
		b.bufOffset += BatchStepSec
	}
}

// flushFinal encodes whatever partial window remains once capture ends, so
// the tail of the recording is not silently lost.
func (b *Batcher) flushFinal(ctx context.Context) {
	if len(b.buf) == 0 {
		return
	}
	startSec := b.bufOffset
	endSec := startSec + float64(len(b.buf))/float64(b.sampleRate*b.channels)
	data, mime, err := b.encoder.Encode(ctx, b.buf, b.sampleRate, b.channels)
	if err != nil {
		slog.Warn("audio batcher: final flush encode failed", "error", err)
		return
	}
	data = b.repairHeader(data)
	b.emit(AudioChunk{
		Index:          b.nextIndex,
		StartOffsetSec: startSec,
		EndOffsetSec:   endSec,
		ContainerMime:  mime,
		Bytes:          data,
	})
}

// repairHeader captures chunk 0's container header and splices it onto every
// later chunk's data, since the underlying encoder only emits a full header
// on the first call (spec §4.2's "continuation chunks carry a repaired
// header so each one is independently decodable").
func (b *Batcher) repairHeader(data []byte) []byte {
	if b.header == nil {
		n := b.headerLen
		if n > len(data) {
			n = len(data)
		}
		b.header = append([]byte(nil), data[:n]...)
		return data
	}
	if len(data) >= len(b.header) && hasPrefix(data, b.header) {
		return data
	}
	out := make([]byte, 0, len(b.header)+len(data))
	out = append(out, b.header...)
	out = append(out, data...)
	return out
}

func hasPrefix(data, prefix []byte) bool {
	if len(data) < len(prefix) {
		return false
	}
	for i := range prefix {
		if data[i] != prefix[i] {
			return false
		}
	}
	return true
}

func (b *Batcher) emit(chunk AudioChunk) {
	select {
	case b.out <- chunk:
	case <-b.done:
	}
}

// Close tears down the batcher: stops the accumulation loop, then stops the
// capture source's tracks, then tears down the playback mirror. Safe to call
// more than once.
func (b *Batcher) Close() error {
	var err error
	b.once.Do(func() {
		close(b.done)
		b.closeWG.Wait()
		err = b.source.Close()
		if b.mirror != nil {
			if mErr := b.mirror.Close(); mErr != nil && err == nil {
				err = mErr
			}
		}
	})
	return err
}

// EncodeWireChunk serializes an AudioChunk for transport across a
// serialization boundary that lacks structured-clone semantics (e.g. an
// extension's content-script/background message channel), per spec §4.2.
func EncodeWireChunk(c AudioChunk) WireChunk {
	return WireChunk{
		Index:          c.Index,
		StartOffsetSec: c.StartOffsetSec,
		EndOffsetSec:   c.EndOffsetSec,
		MimeType:       c.ContainerMime,
		ByteLength:     len(c.Bytes),
		BytesB64:       base64.StdEncoding.EncodeToString(c.Bytes),
	}
}

// DecodeWireChunk reverses [EncodeWireChunk].
func DecodeWireChunk(w WireChunk) (AudioChunk, error) {
	data, err := base64.StdEncoding.DecodeString(w.BytesB64)
	if err != nil {
		return AudioChunk{}, newErr(KindFormatUnsupported, "decode wire chunk payload", err)
	}
	return AudioChunk{
		Index:          w.Index,
		StartOffsetSec: w.StartOffsetSec,
		EndOffsetSec:   w.EndOffsetSec,
		ContainerMime:  w.MimeType,
		Bytes:          data,
	}, nil
}
