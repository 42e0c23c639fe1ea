// Package mock provides a controllable test double for [session.Session].
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/captioncore/pkg/captiontypes"
	"github.com/google/uuid"
)

// Client is a hand-written mock implementation of session.Session. Feed
// transcripts via SendPartial/SendFinal; inspect SentAudio for what the
// caller sent.
type Client struct {
	mu sync.Mutex

	OpenErr  error
	SendErr  error
	SentAudio [][]byte

	// Model and Language are echoed back by Info, mirroring what a caller
	// would have configured a real session with.
	Model    string
	Language string

	id    string
	state captiontypes.SessionState
	stats captiontypes.SessionStats

	partials chan captiontypes.Transcript
	finals   chan captiontypes.Transcript
	events   chan captiontypes.SessionEvent
	closed   bool
}

// New returns a Client ready to Open.
func New() *Client {
	return &Client{
		state:    captiontypes.StateDisconnected,
		partials: make(chan captiontypes.Transcript, 16),
		finals:   make(chan captiontypes.Transcript, 16),
		events:   make(chan captiontypes.SessionEvent, 16),
	}
}

func (c *Client) Open(_ context.Context) error {
	if c.OpenErr != nil {
		return c.OpenErr
	}
	c.mu.Lock()
	c.id = uuid.NewString()
	c.state = captiontypes.StateConnected
	c.mu.Unlock()
	c.pushEvent(captiontypes.SessionEvent{State: captiontypes.StateConnected})
	return nil
}

func (c *Client) pushEvent(ev captiontypes.SessionEvent) {
	select {
	case c.events <- ev:
	default:
	}
}

// SendErrorEvent delivers a simulated onError occurrence on the Events
// channel, for exercising error-surface callers.
func (c *Client) SendErrorEvent(kind, message string) {
	c.pushEvent(captiontypes.SessionEvent{Kind: kind, Message: message})
}

func (c *Client) SendAudio(chunk []byte) error {
	if c.SendErr != nil {
		return c.SendErr
	}
	c.mu.Lock()
	c.SentAudio = append(c.SentAudio, append([]byte(nil), chunk...))
	c.stats.FramesSent++
	c.stats.BytesSent += int64(len(chunk))
	c.mu.Unlock()
	return nil
}

func (c *Client) Partials() <-chan captiontypes.Transcript  { return c.partials }
func (c *Client) Finals() <-chan captiontypes.Transcript    { return c.finals }
func (c *Client) Events() <-chan captiontypes.SessionEvent  { return c.events }

func (c *Client) State() captiontypes.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Stats() captiontypes.SessionStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Client) Info() captiontypes.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return captiontypes.Session{
		ID:       c.id,
		Model:    c.Model,
		Language: c.Language,
		State:    c.state,
		Stats:    c.stats,
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.state = captiontypes.StateDisconnected
	close(c.partials)
	close(c.finals)
	c.pushEvent(captiontypes.SessionEvent{State: captiontypes.StateDisconnected})
	return nil
}

// SendPartial delivers an interim transcript to the Partials channel.
func (c *Client) SendPartial(t captiontypes.Transcript) { c.partials <- t }

// SendFinal delivers a final transcript to the Finals channel.
func (c *Client) SendFinal(t captiontypes.Transcript) { c.finals <- t }
