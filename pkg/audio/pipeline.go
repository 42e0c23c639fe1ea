package audio

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Pipeline runs Mode A: it reads raw capture blocks from a [CaptureSource],
// converts them to fixed-size PCM16 frames at [StreamSampleRate], and mirrors
// the original audio to an optional [PlaybackMirror] so the tab stays
// audible. Frame delivery is non-blocking; a consumer that falls behind
// causes whole frames to be dropped rather than the pipeline stalling, per
// spec §4.2.
type Pipeline struct {
	source CaptureSource
	mirror PlaybackMirror
	conv   *StreamConverter

	out     chan AudioFrame
	done    chan struct{}
	closeWG sync.WaitGroup
	once    sync.Once

	nextIndex uint64
	dropped   atomic.Int64
	pending   []byte // PCM16 bytes not yet large enough to form a full frame
}

// NewPipeline constructs a Pipeline reading from source and mirroring to
// mirror. mirror may be nil if the host has no need to preserve playback
// (e.g. it is already routed independently of capture).
func NewPipeline(source CaptureSource, mirror PlaybackMirror) *Pipeline {
	return &Pipeline{
		source: source,
		mirror: mirror,
		conv:   NewStreamConverter(source.NativeSampleRate(), source.NativeChannels()),
		out:    make(chan AudioFrame, 64),
		done:   make(chan struct{}),
	}
}

// Frames returns the channel of fixed-size, [StreamSampleRate] PCM16 frames.
// The channel closes when the capture source ends or Close is called.
func (p *Pipeline) Frames() <-chan AudioFrame { return p.out }

// DroppedFrames reports the cumulative count of whole frames dropped due to
// a slow consumer.
func (p *Pipeline) DroppedFrames() int64 { return p.dropped.Load() }

// Start begins converting capture blocks in a background goroutine.
func (p *Pipeline) Start(ctx context.Context) {
	p.closeWG.Add(1)
	go p.run(ctx)
}

func (p *Pipeline) run(ctx context.Context) {
	defer p.closeWG.Done()
	defer close(p.out)

	frameBytes := FrameSampleCount * 2
	for {
		select {
		case block, ok := <-p.source.Frames():
			if !ok {
				return
			}
			if p.mirror != nil {
				if err := p.mirror.Write(block); err != nil {
					slog.Warn("audio pipeline: playback mirror write failed", "error", err)
				}
			}

			p.pending = append(p.pending, p.conv.Process(block)...)
			for len(p.pending) >= frameBytes {
				frame := AudioFrame{
					Index:       p.nextIndex,
					SampleCount: FrameSampleCount,
					SampleRate:  StreamSampleRate,
					Payload:     append([]byte(nil), p.pending[:frameBytes]...),
				}
				p.pending = p.pending[frameBytes:]
				p.nextIndex++

				select {
				case p.out <- frame:
				default:
					p.dropped.Add(1)
					slog.Warn("audio pipeline: dropping frame, consumer is behind",
						"index", frame.Index, "totalDropped", p.dropped.Load())
				}
			}
		case <-ctx.Done():
			return
		case <-p.done:
			return
		}
	}
}

// Close tears down the pipeline: it stops the conversion loop, then stops
// the capture source's tracks, then tears down the playback mirror. Safe to
// call more than once.
func (p *Pipeline) Close() error {
	var err error
	p.once.Do(func() {
		close(p.done)
		p.closeWG.Wait()
		err = p.source.Close()
		if p.mirror != nil {
			if mErr := p.mirror.Close(); mErr != nil && err == nil {
				err = mErr
			}
		}
	})
	return err
}
