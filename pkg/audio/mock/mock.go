// Package mock provides test doubles for the audio package's host-provided
// interfaces: [audio.CaptureSource], [audio.PlaybackMirror], and
// [audio.ContainerEncoder].
package mock

import (
	"context"
	"sync"
)

// CaptureSource is a controllable mock implementation of
// audio.CaptureSource. Feed it blocks via SendFrame and close it via Close
// to simulate the capture stream ending.
type CaptureSource struct {
	mu sync.Mutex

	SampleRate int
	ChannelN   int

	ch       chan []float32
	closed   bool
	closeErr error
}

// NewCaptureSource returns a CaptureSource with the given native format and
// an internally-buffered frame channel of the given capacity.
func NewCaptureSource(sampleRate, channels, bufSize int) *CaptureSource {
	return &CaptureSource{
		SampleRate: sampleRate,
		ChannelN:   channels,
		ch:         make(chan []float32, bufSize),
	}
}

func (c *CaptureSource) NativeSampleRate() int { return c.SampleRate }
func (c *CaptureSource) NativeChannels() int   { return c.ChannelN }
func (c *CaptureSource) Frames() <-chan []float32 { return c.ch }

// SendFrame delivers one interleaved float32 block. Safe to call
// concurrently with Close only if the caller stops sending after Close.
func (c *CaptureSource) SendFrame(block []float32) {
	c.ch <- block
}

// EndStream closes the frame channel, simulating the media track ending
// without an explicit Close call.
func (c *CaptureSource) EndStream() {
	close(c.ch)
}

func (c *CaptureSource) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.closeErr
}

// SetCloseErr configures the error Close returns.
func (c *CaptureSource) SetCloseErr(err error) { c.closeErr = err }

// PlaybackMirror is a recording mock implementation of audio.PlaybackMirror.
type PlaybackMirror struct {
	mu       sync.Mutex
	Written  [][]float32
	WriteErr error
	closed   bool
}

func (m *PlaybackMirror) Write(samples []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Written = append(m.Written, append([]float32(nil), samples...))
	return m.WriteErr
}

func (m *PlaybackMirror) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (m *PlaybackMirror) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// ContainerEncoder is a controllable mock implementation of
// audio.ContainerEncoder. By default it returns a small fixed "header"
// followed by one placeholder byte per sample, so tests can assert on
// header-splicing behavior.
type ContainerEncoder struct {
	mu sync.Mutex

	Mime       string
	HeaderTag  []byte // prefixed to every Encode call's output, simulating a container header
	EncodeErr  error
	EncodeCall int
}

func NewContainerEncoder() *ContainerEncoder {
	return &ContainerEncoder{
		Mime:      "audio/webm;codecs=opus",
		HeaderTag: []byte("HDR0"),
	}
}

func (e *ContainerEncoder) Encode(_ context.Context, samples []float32, sampleRate, channels int) ([]byte, string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.EncodeCall++
	if e.EncodeErr != nil {
		return nil, "", e.EncodeErr
	}
	out := make([]byte, 0, len(e.HeaderTag)+len(samples))
	out = append(out, e.HeaderTag...)
	for range samples {
		out = append(out, 0x42)
	}
	return out, e.Mime, nil
}
