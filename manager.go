// Package captioncore wires the Credential Store, Audio Pipeline, Session
// Client, Timeline Aligner, and Overlap Processor into a single running
// capture-to-caption pipeline, per spec §2's control flow: ask the
// Credential Store for the recognition key, start the Audio Pipeline against
// a host-provided capture source, open the Session Client, and route its
// transcripts through the Timeline Aligner and (batch backend only) the
// Overlap Processor to produce a stream of captioned Segments.
package captioncore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/captioncore/pkg/audio"
	"github.com/MrWong99/captioncore/pkg/captiontypes"
	"github.com/MrWong99/captioncore/pkg/config"
	"github.com/MrWong99/captioncore/pkg/credstore"
	"github.com/MrWong99/captioncore/pkg/observe"
	"github.com/MrWong99/captioncore/pkg/overlap"
	"github.com/MrWong99/captioncore/pkg/session"
	"github.com/MrWong99/captioncore/pkg/timeline"
	"golang.org/x/sync/errgroup"
)

// seekReopenDelay is the pause between closing a streaming session and
// reopening it after a seek, per spec §4.4: "terminate the session; wait
// ~200ms; reopen with a fresh anchor."
const seekReopenDelay = 200 * time.Millisecond

// Deps collects the host-provided collaborators a Manager wires together.
// Capture and Times are required in every mode; Encoder is required only
// when Recognition.Backend is batch; Mirror and Seeks are optional.
type Deps struct {
	// Capture taps the host's media source (spec §6's tab MediaStream).
	Capture audio.CaptureSource

	// Mirror preserves playback while Capture taps the audio graph. May be
	// nil if the host already routes playback independently.
	Mirror audio.PlaybackMirror

	// Encoder compresses capture windows for the batch backend. Required
	// only when Recognition.Backend is config.BackendBatch.
	Encoder audio.ContainerEncoder

	// Times answers the Timeline Aligner's videoCurrentTime() queries.
	Times timeline.VideoTimeSource

	// Seeks notifies the Manager of host-side seek events. Only consulted
	// in streaming mode, per spec §4.4's seek/pause policy; nil disables
	// seek-triggered session reopening.
	Seeks timeline.SeekNotifier
}

// Manager is the host session-manager described in spec §2.
//
// Safe for concurrent use once constructed by New; Open and Run are each
// meant to be called once.
type Manager struct {
	cfg     config.CoreConfig
	deps    Deps
	creds   *credstore.Store
	metrics *observe.Metrics

	sess     session.Session
	pipeline *audio.Pipeline
	batcher  *audio.Batcher
	aligner  *timeline.Aligner
	dedup    overlap.Dedup

	segments chan captiontypes.Segment

	audioElapsed atomic.Int64 // nanoseconds of streaming audio sent so far
	stopOnce     sync.Once
}

// Option configures a Manager at construction, primarily to inject test
// doubles for any subsystem.
type Option func(*Manager)

// WithSession injects a session.Session instead of building one from cfg
// and a resolved credential.
func WithSession(s session.Session) Option {
	return func(m *Manager) { m.sess = s }
}

// WithDedup injects an overlap.Dedup instead of constructing one from cfg
// (batch backend only).
func WithDedup(d overlap.Dedup) Option {
	return func(m *Manager) { m.dedup = d }
}

// WithMetrics attaches an optional metrics sink. A Manager with no metrics
// attached still runs correctly; every recording call is nil-safe.
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = met }
}

// WithCredentialStore supplies the Credential Store used to resolve the
// recognition-service key when no session.Session is injected via
// WithSession.
func WithCredentialStore(s *credstore.Store) Option {
	return func(m *Manager) { m.creds = s }
}

// New wires a Manager from cfg and deps. It does not open the session or
// start audio capture; call Open then Run.
func New(cfg config.CoreConfig, deps Deps, opts ...Option) (*Manager, error) {
	if deps.Capture == nil {
		return nil, fmt.Errorf("captioncore: Deps.Capture is required")
	}
	if deps.Times == nil {
		return nil, fmt.Errorf("captioncore: Deps.Times is required")
	}

	m := &Manager{
		cfg:      cfg,
		deps:     deps,
		segments: make(chan captiontypes.Segment, 64),
	}
	for _, o := range opts {
		o(m)
	}

	mode := timeline.ModeStreaming
	if cfg.Recognition.Backend == config.BackendBatch {
		mode = timeline.ModeBatch
	}
	m.aligner = timeline.New(deps.Times, mode,
		timeline.WithRetention(time.Duration(cfg.Timeline.SegmentRetentionSec*float64(time.Second))))

	switch mode {
	case timeline.ModeBatch:
		if deps.Encoder == nil {
			return nil, fmt.Errorf("captioncore: batch backend requires Deps.Encoder")
		}
		if m.dedup == nil {
			m.dedup = overlap.New(
				overlap.WithOverlap(time.Duration(cfg.Overlap.OverlapDurationMs)*time.Millisecond),
				overlap.WithThreshold(cfg.Overlap.SimilarityThreshold),
				overlap.WithMergeGap(time.Duration(cfg.Overlap.MergeTimeGapSec*float64(time.Second))),
				overlap.WithMaxCompareLength(cfg.Overlap.MaxCompareLength),
			)
		}
		m.batcher = audio.NewBatcher(deps.Capture, deps.Mirror, deps.Encoder)
	default:
		m.pipeline = audio.NewPipeline(deps.Capture, deps.Mirror)
	}

	return m, nil
}

// Segments returns the channel of captioned, video-time-stamped Segments.
// The channel closes once Run returns.
func (m *Manager) Segments() <-chan captiontypes.Segment { return m.segments }

// Session returns the Session entity (spec §3) for the currently open
// recognition session. Only meaningful after a successful Open.
func (m *Manager) Session() captiontypes.Session { return m.sess.Info() }

// Events returns the channel of onSessionState/onError occurrences (spec
// §6's renderer-facing surface) for the currently open recognition session.
// Only meaningful after a successful Open.
func (m *Manager) Events() <-chan captiontypes.SessionEvent { return m.sess.Events() }

// Open resolves the recognition credential (unless a Session was injected),
// opens the Session Client, and establishes the Timeline Aligner's initial
// anchor.
func (m *Manager) Open(ctx context.Context) error {
	if m.sess == nil {
		apiKey, err := m.resolveAPIKey(ctx)
		if err != nil {
			return fmt.Errorf("captioncore: resolve recognition credential: %w", err)
		}
		m.sess = session.New(session.Config{
			Endpoint:             m.cfg.Recognition.Endpoint,
			APIKey:               apiKey,
			Model:                m.cfg.Recognition.Model,
			Language:             m.cfg.Recognition.Language,
			SampleRate:           audio.StreamSampleRate,
			Channels:             session.DefaultChannels,
			EndpointingMs:        m.cfg.Recognition.EndpointingMs,
			KeepAliveEnabled:     m.cfg.Recognition.KeepAliveEnabled,
			KeepAliveInterval:    time.Duration(m.cfg.Recognition.KeepAliveIntervalMs) * time.Millisecond,
			MaxReconnectAttempts: m.cfg.Recognition.ReconnectMaxRetries,
			BaseBackoff:          time.Duration(m.cfg.Recognition.ReconnectBaseDelayMs) * time.Millisecond,
		})
	}

	if err := m.sess.Open(ctx); err != nil {
		return fmt.Errorf("captioncore: open session: %w", err)
	}
	if err := m.aligner.Open(ctx); err != nil {
		return fmt.Errorf("captioncore: open aligner: %w", err)
	}
	return nil
}

func (m *Manager) resolveAPIKey(ctx context.Context) (string, error) {
	if m.creds == nil {
		return "", fmt.Errorf("no credential store configured and no session.Session injected")
	}
	return m.creds.Get(ctx)
}

// Run starts the capture→recognition→alignment pipeline and blocks until ctx
// is cancelled or an unrecoverable error occurs in any subsystem. It closes
// the Segments channel before returning.
func (m *Manager) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if m.batcher != nil {
		m.batcher.Start(gctx)
		g.Go(func() error { return m.runBatch(gctx) })
	} else {
		m.pipeline.Start(gctx)
		g.Go(func() error { return m.runStreamingSend(gctx) })
		g.Go(func() error { return m.runStreamingRecv(gctx) })
		if m.deps.Seeks != nil {
			g.Go(func() error { return m.watchSeeks(gctx) })
		}
	}

	if m.metrics != nil {
		g.Go(func() error { return m.sampleMetrics(gctx) })
	}

	err := g.Wait()
	close(m.segments)
	return err
}

func (m *Manager) runStreamingSend(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-m.pipeline.Frames():
			if !ok {
				return nil
			}
			if err := m.sess.SendAudio(frame.Payload); err != nil {
				slog.Warn("captioncore: send audio frame failed", "index", frame.Index, "error", err)
				continue
			}
			dur := time.Duration(frame.SampleCount) * time.Second / time.Duration(frame.SampleRate)
			m.audioElapsed.Add(int64(dur))
		}
	}
}

func (m *Manager) runStreamingRecv(ctx context.Context) error {
	partials := m.sess.Partials()
	finals := m.sess.Finals()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tr, ok := <-partials:
			if !ok {
				partials = nil
				if finals == nil {
					return nil
				}
				continue
			}
			m.stampAndEmit(ctx, tr)
		case tr, ok := <-finals:
			if !ok {
				finals = nil
				if partials == nil {
					return nil
				}
				continue
			}
			m.stampAndEmit(ctx, tr)
		}
	}
}

func (m *Manager) stampAndEmit(ctx context.Context, tr captiontypes.Transcript) {
	elapsed := time.Duration(m.audioElapsed.Load())
	seg := m.aligner.StampStreaming(tr, elapsed)
	m.emit(ctx, seg)
}

func (m *Manager) runBatch(ctx context.Context) error {
	chunks := m.batcher.Chunks()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				return nil
			}
			if err := m.processBatchChunk(ctx, chunk); err != nil {
				return err
			}
		}
	}
}

func (m *Manager) processBatchChunk(ctx context.Context, chunk audio.AudioChunk) error {
	ctx, span := observe.StartSpan(ctx, "captioncore.batch_chunk")
	defer span.End()

	if err := m.sess.SendAudio(chunk.Bytes); err != nil {
		observe.Logger(ctx).Warn("captioncore: send audio chunk failed", "index", chunk.Index, "error", err)
		return nil
	}

	tr, err := m.awaitFinal(ctx)
	if err != nil {
		return err
	}

	chunkDuration := chunk.EndOffsetSec - chunk.StartOffsetSec
	chunkStart, err := m.aligner.CorrectedChunkStart(ctx, chunkDuration)
	if err != nil {
		return fmt.Errorf("captioncore: correct chunk start: %w", err)
	}

	for _, seg := range m.dedup.Process(tr, chunkStart) {
		m.emit(ctx, seg)
	}
	if proc, ok := m.dedup.(*overlap.Processor); ok && m.metrics != nil {
		m.metrics.RecordDedupRate(ctx, proc.LastDedupRate())
	}
	return nil
}

func (m *Manager) awaitFinal(ctx context.Context) (captiontypes.Transcript, error) {
	select {
	case <-ctx.Done():
		return captiontypes.Transcript{}, ctx.Err()
	case tr, ok := <-m.sess.Finals():
		if !ok {
			return captiontypes.Transcript{}, fmt.Errorf("captioncore: session closed before batch chunk result arrived")
		}
		return tr, nil
	}
}

func (m *Manager) emit(ctx context.Context, seg captiontypes.Segment) {
	select {
	case m.segments <- seg:
	case <-ctx.Done():
	}
}

// watchSeeks implements spec §4.4's streaming seek policy: terminate the
// session, wait seekReopenDelay, reopen with a fresh anchor. Batch mode
// needs no state change on seek, since the per-chunk correction already
// re-anchors naturally — so this goroutine is only started in streaming
// mode.
func (m *Manager) watchSeeks(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.deps.Seeks.Seeked():
			if err := m.reopenAfterSeek(ctx); err != nil {
				return fmt.Errorf("captioncore: reopen session after seek: %w", err)
			}
		}
	}
}

func (m *Manager) reopenAfterSeek(ctx context.Context) error {
	slog.Info("captioncore: seek detected, reopening streaming session")
	if err := m.sess.Close(); err != nil {
		slog.Warn("captioncore: close session before reopen failed", "error", err)
	}

	select {
	case <-time.After(seekReopenDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := m.sess.Open(ctx); err != nil {
		return err
	}
	m.audioElapsed.Store(0)
	return m.aligner.Reset(ctx)
}

// sampleMetrics periodically mirrors session state into the metrics sink.
// Only runs when a non-nil Metrics was attached via WithMetrics.
func (m *Manager) sampleMetrics(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var lastReconnects int
	var lastDropped int64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			stats := m.sess.Stats()
			if stats.ReconnectAttempts > lastReconnects {
				m.metrics.RecordReconnect(ctx, "backoff_retry")
				lastReconnects = stats.ReconnectAttempts
			}
			m.metrics.RecordSessionState(ctx, int64(m.sess.State()), m.sess.State().String())

			if m.pipeline != nil {
				dropped := m.pipeline.DroppedFrames()
				if delta := dropped - lastDropped; delta > 0 {
					m.metrics.RecordDroppedFrames(ctx, delta)
				}
				lastDropped = dropped
			}
		}
	}
}

// Close tears down every owned subsystem. Safe to call more than once.
func (m *Manager) Close() error {
	var err error
	m.stopOnce.Do(func() {
		if m.pipeline != nil {
			if e := m.pipeline.Close(); e != nil {
				err = e
			}
		}
		if m.batcher != nil {
			if e := m.batcher.Close(); e != nil && err == nil {
				err = e
			}
		}
		if m.sess != nil {
			if e := m.sess.Close(); e != nil && err == nil {
				err = e
			}
		}
	})
	return err
}
