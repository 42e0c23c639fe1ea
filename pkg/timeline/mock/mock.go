// Package mock provides a controllable test double for
// [timeline.VideoTimeSource] and [timeline.SeekNotifier].
package mock

import (
	"context"
	"sync"
)

// TimeSource is a hand-written VideoTimeSource double whose current time is
// set directly by the test.
type TimeSource struct {
	mu  sync.Mutex
	t   float64
	err error

	seeked chan struct{}
}

// NewTimeSource returns a TimeSource starting at t=0.
func NewTimeSource() *TimeSource {
	return &TimeSource{seeked: make(chan struct{}, 1)}
}

// Set sets the value the next CurrentTime call will return.
func (m *TimeSource) Set(t float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = t
}

// SetErr forces CurrentTime to fail with err until cleared with SetErr(nil).
func (m *TimeSource) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *TimeSource) CurrentTime(_ context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	return m.t, nil
}

// Seeked implements timeline.SeekNotifier.
func (m *TimeSource) Seeked() <-chan struct{} { return m.seeked }

// Seek delivers one seeked notification.
func (m *TimeSource) Seek() {
	select {
	case m.seeked <- struct{}{}:
	default:
	}
}
