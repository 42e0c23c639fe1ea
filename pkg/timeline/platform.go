package timeline

import "context"

// VideoTimeSource is the host-provided surface for querying the player's
// current playback time, per spec §6. It is modeled as asynchronous because
// the renderer may live in a different execution context than the core
// (e.g. a content-script/page boundary); a host that runs in the same
// context as the player may implement it synchronously and simply ignore
// ctx.
type VideoTimeSource interface {
	// CurrentTime returns the player's current playback position in seconds.
	CurrentTime(ctx context.Context) (float64, error)
}

// SeekNotifier delivers the host's "seeked" notification. A receive on
// Seeked signals that the player's position jumped outside normal playback
// progression; the session-manager is responsible for driving the
// streaming-backend reopen policy described in spec §4.4 using this signal
// together with [Aligner.Reset].
type SeekNotifier interface {
	Seeked() <-chan struct{}
}
