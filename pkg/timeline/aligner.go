package timeline

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/captioncore/pkg/captiontypes"
)

// Mode selects which backend's drift-correction rule the Aligner applies.
type Mode int

const (
	// ModeStreaming anchors once at session open and maps word-relative
	// times through that fixed anchor (spec §4.4 "Streaming case").
	ModeStreaming Mode = iota

	// ModeBatch re-queries the video time for every chunk and maps through
	// a per-chunk corrected offset (spec §4.4 "Batch case").
	ModeBatch
)

const (
	// DefaultRetention bounds how long the Aligner retains recently emitted
	// segments, per spec §3 Ownership ("must not retain transcripts beyond
	// a configurable retention window").
	DefaultRetention = 30 * time.Second

	// DefaultNoWordWindow is the fallback segment duration used when a
	// streaming transcript carries no word-level times (spec §4.4).
	DefaultNoWordWindow = 2 * time.Second
)

// Aligner is the Timeline Aligner. One Aligner is owned per session; after
// a streaming-backend seek the caller reopens the session and then calls
// Reset on the same Aligner, which takes a fresh anchor and clears the
// retained segments.
//
// Safe for concurrent use.
type Aligner struct {
	times VideoTimeSource
	mode  Mode

	retention    time.Duration
	noWordWindow time.Duration

	mu     sync.Mutex
	anchor float64
	recent []captiontypes.Segment
}

// Option configures an Aligner at construction.
type Option func(*Aligner)

// WithRetention overrides the default 30s retention window.
func WithRetention(d time.Duration) Option {
	return func(a *Aligner) { a.retention = d }
}

// WithNoWordWindow overrides the fallback segment duration used when a
// transcript carries no word-level times.
func WithNoWordWindow(d time.Duration) Option {
	return func(a *Aligner) { a.noWordWindow = d }
}

// New constructs an Aligner. Call Open before stamping any transcript.
func New(times VideoTimeSource, mode Mode, opts ...Option) *Aligner {
	a := &Aligner{
		times:        times,
		mode:         mode,
		retention:    DefaultRetention,
		noWordWindow: DefaultNoWordWindow,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Open records the session's video-start anchor, per spec §4.4: "At the
// moment SC reaches Connected, record anchor = videoCurrentTime()."
func (a *Aligner) Open(ctx context.Context) error {
	t, err := a.times.CurrentTime(ctx)
	if err != nil {
		return newErr(KindTimeSourceFailed, "query video time for anchor", err)
	}
	a.mu.Lock()
	a.anchor = t
	a.recent = nil
	a.mu.Unlock()
	return nil
}

// Anchor returns the current video-start anchor.
func (a *Aligner) Anchor() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.anchor
}

// Reset re-queries the video time and establishes a fresh anchor, clearing
// retained segments. Callers use this after reopening a streaming session
// following a seek (spec §4.4); the session itself must be closed and
// reopened by the caller before Reset is invoked, since a fresh anchor is
// only meaningful against a fresh session.
func (a *Aligner) Reset(ctx context.Context) error {
	return a.Open(ctx)
}

// StampStreaming maps a streaming-backend Transcript to a video-time
// Segment, per spec §4.4's streaming case. audioElapsed is the total audio
// duration captured so far in this session, used only as a fallback when
// the transcript carries no word-level times.
func (a *Aligner) StampStreaming(tr captiontypes.Transcript, audioElapsed time.Duration) captiontypes.Segment {
	anchor := a.Anchor()

	var seg captiontypes.Segment
	if len(tr.Words) > 0 {
		seg.StartSec = anchor + tr.Words[0].Start.Seconds()
		seg.EndSec = anchor + tr.Words[len(tr.Words)-1].End.Seconds()
	} else {
		end := anchor + audioElapsed.Seconds()
		start := end - a.noWordWindow.Seconds()
		if start < anchor {
			start = anchor
		}
		seg.StartSec, seg.EndSec = start, end
	}
	if seg.EndSec < seg.StartSec {
		seg.EndSec = seg.StartSec
	}
	seg.Text = tr.Text
	seg.Confidence = tr.Confidence
	seg.IsFinal = tr.IsFinal
	seg.ArrivalTime = time.Now()

	a.retain(seg)
	return seg
}

// StampBatch maps a batch-backend chunk's Transcript to one or more video-
// time Segments, applying the drift correction of spec §4.4's batch case:
// correctedVideoStart = videoCurrentTime - chunkDurationSec. Word-relative
// times within the chunk are mapped through that corrected offset. When the
// transcript carries no word-level times, the whole chunk maps to
// [correctedVideoStart, correctedVideoStart+chunkDurationSec].
func (a *Aligner) StampBatch(ctx context.Context, tr captiontypes.Transcript, chunkDurationSec float64) (captiontypes.Segment, error) {
	now, err := a.times.CurrentTime(ctx)
	if err != nil {
		return captiontypes.Segment{}, newErr(KindTimeSourceFailed, "query video time for chunk correction", err)
	}
	correctedStart := now - chunkDurationSec

	var seg captiontypes.Segment
	if len(tr.Words) > 0 {
		seg.StartSec = correctedStart + tr.Words[0].Start.Seconds()
		seg.EndSec = correctedStart + tr.Words[len(tr.Words)-1].End.Seconds()
	} else {
		seg.StartSec = correctedStart
		seg.EndSec = correctedStart + chunkDurationSec
	}
	if seg.EndSec < seg.StartSec {
		seg.EndSec = seg.StartSec
	}
	seg.Text = tr.Text
	seg.Confidence = tr.Confidence
	seg.IsFinal = tr.IsFinal
	seg.ArrivalTime = time.Now()

	a.retain(seg)
	return seg, nil
}

// CorrectedChunkStart re-queries the video time and returns the batch
// drift-correction offset for a chunk of the given duration:
// correctedVideoStart = videoCurrentTime - chunkDurationSec (spec §4.4's
// batch case). Callers feeding a batch chunk through the Overlap Processor
// use this value as that chunk's chunkStartSec, since OP performs its own
// word-relative-time shift once given an absolute start offset.
func (a *Aligner) CorrectedChunkStart(ctx context.Context, chunkDurationSec float64) (float64, error) {
	now, err := a.times.CurrentTime(ctx)
	if err != nil {
		return 0, newErr(KindTimeSourceFailed, "query video time for chunk correction", err)
	}
	return now - chunkDurationSec, nil
}

// Recent returns a copy of the segments retained within the retention
// window, oldest first.
func (a *Aligner) Recent() []captiontypes.Segment {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]captiontypes.Segment, len(a.recent))
	copy(out, a.recent)
	return out
}

// retain appends seg and prunes anything older than the retention window
// relative to seg's own arrival, per spec §3 Ownership.
func (a *Aligner) retain(seg captiontypes.Segment) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recent = append(a.recent, seg)
	cutoff := seg.ArrivalTime.Add(-a.retention)
	i := 0
	for i < len(a.recent) && a.recent[i].ArrivalTime.Before(cutoff) {
		i++
	}
	if i > 0 {
		a.recent = append([]captiontypes.Segment(nil), a.recent[i:]...)
	}
}
