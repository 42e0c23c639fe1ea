package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to unblock a sender goroutine (e.g. a CaptureSource's Frames or
// a Pipeline's Frames channel) when the caller stops consuming before the
// producer side has finished.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
