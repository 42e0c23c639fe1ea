package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/MrWong99/captioncore/pkg/captiontypes"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Client is a single logical recognition conversation over one (possibly
// reconnected) WebSocket connection. It implements the state machine
// Disconnected→Connecting→Connected→Closing/Errored, per spec §4.3.
//
// Safe for concurrent use.
type Client struct {
	cfg Config

	mu    sync.Mutex
	id    string
	state captiontypes.SessionState
	conn  *websocket.Conn

	partials chan captiontypes.Transcript
	finals   chan captiontypes.Transcript
	events   chan captiontypes.SessionEvent
	audio    chan []byte

	done      chan struct{}
	closeWG   sync.WaitGroup
	closeOnce sync.Once

	stats captiontypes.SessionStats
}

// New constructs a Client in the Disconnected state. Call Open to connect.
func New(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:      cfg,
		state:    captiontypes.StateDisconnected,
		partials: make(chan captiontypes.Transcript, 64),
		finals:   make(chan captiontypes.Transcript, 64),
		events:   make(chan captiontypes.SessionEvent, 32),
		audio:    make(chan []byte, 256),
		done:     make(chan struct{}),
	}
}

// State returns the client's current lifecycle state.
func (c *Client) State() captiontypes.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns a snapshot of the session's counters.
func (c *Client) Stats() captiontypes.SessionStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Info returns the Session entity described by spec §3's data model: the
// current session ID, model, language, state, and stats snapshot.
func (c *Client) Info() captiontypes.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return captiontypes.Session{
		ID:       c.id,
		Model:    c.cfg.Model,
		Language: c.cfg.Language,
		State:    c.state,
		Stats:    c.stats,
	}
}

func (c *Client) setState(s captiontypes.SessionState) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		slog.Info("session state transition", "from", prev, "to", s)
		c.pushEvent(captiontypes.SessionEvent{State: s})
	}
}

// pushEvent delivers ev on the Events channel, per spec §6's
// onSessionState/onError renderer surface. Best-effort: a consumer that
// falls behind drops events rather than stalling the read/write loops.
func (c *Client) pushEvent(ev captiontypes.SessionEvent) {
	select {
	case c.events <- ev:
	default:
		slog.Warn("session event dropped, consumer too slow", "state", ev.State, "kind", ev.Kind)
	}
}

// Open dials the recognition endpoint and starts the read/write/reconnect
// loops. It blocks until the initial connection succeeds or fails.
func (c *Client) Open(ctx context.Context) error {
	c.mu.Lock()
	c.id = uuid.NewString()
	c.mu.Unlock()
	c.setState(captiontypes.StateConnecting)
	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(captiontypes.StateErrored)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setState(captiontypes.StateConnected)

	c.closeWG.Add(1)
	go c.runLoop(ctx)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	wsURL, err := c.buildURL()
	if err != nil {
		return nil, newErr(KindWebSocketOpenFailed, "build URL", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+c.cfg.APIKey)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		switch {
		case resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden):
			return nil, newErr(KindAuthFailed, "recognition endpoint rejected credentials", err)
		case errors.Is(err, context.Canceled):
			return nil, newErr(KindCancelled, "dial cancelled", err)
		case errors.Is(err, context.DeadlineExceeded):
			return nil, newErr(KindTimeout, "dial timed out", err)
		default:
			return nil, newErr(KindWebSocketOpenFailed, "dial recognition endpoint", err)
		}
	}
	return conn, nil
}

// buildURL constructs the streaming endpoint URL with query-param
// configuration, per spec §6's "Recognition-service wire: Open" shape.
func (c *Client) buildURL() (string, error) {
	u, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", c.cfg.Model)
	q.Set("language", c.cfg.Language)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(c.cfg.SampleRate))
	q.Set("channels", strconv.Itoa(c.cfg.Channels))
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("endpointing", strconv.Itoa(c.cfg.EndpointingMs))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// SendAudio queues a PCM chunk for delivery. Returns an error if the client
// has been closed.
func (c *Client) SendAudio(chunk []byte) error {
	select {
	case <-c.done:
		return newErr(KindSendAfterClose, "session is closed", nil)
	default:
	}
	select {
	case c.audio <- chunk:
		return nil
	case <-c.done:
		return newErr(KindSendAfterClose, "session is closed", nil)
	}
}

// Partials returns the channel of interim transcripts.
func (c *Client) Partials() <-chan captiontypes.Transcript { return c.partials }

// Finals returns the channel of final transcripts.
func (c *Client) Finals() <-chan captiontypes.Transcript { return c.finals }

// Events returns the channel of onSessionState/onError occurrences, per
// spec §6's renderer-facing surface.
func (c *Client) Events() <-chan captiontypes.SessionEvent { return c.events }

// Close terminates the session cleanly. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.setState(captiontypes.StateClosing)
		close(c.done)
		c.closeWG.Wait()
		c.setState(captiontypes.StateDisconnected)

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			err = conn.Close(websocket.StatusNormalClosure, "session closed")
		}
	})
	return err
}

// runLoop supervises one connection's read/write goroutines and, if the
// connection drops unexpectedly, drives linear-backoff reconnection.
func (c *Client) runLoop(ctx context.Context) {
	defer c.closeWG.Done()
	defer close(c.partials)
	defer close(c.finals)

	for {
		connDone := make(chan struct{})
		var innerWG sync.WaitGroup
		innerWG.Add(2)
		go func() {
			defer innerWG.Done()
			c.writeLoop(ctx, connDone)
		}()
		go func() {
			defer innerWG.Done()
			defer close(connDone)
			c.readLoop(ctx)
		}()
		innerWG.Wait()

		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		// The connection dropped without an explicit Close; reconnect with
		// linear backoff, per spec §4.3.
		if !c.reconnect(ctx) {
			c.setState(captiontypes.StateErrored)
			return
		}
	}
}

// reconnect attempts to re-dial with linear backoff (attempt*BaseBackoff),
// capped at MaxReconnectAttempts, resetting the attempt counter on success.
func (c *Client) reconnect(ctx context.Context) bool {
	c.setState(captiontypes.StateConnecting)
	for attempt := 1; attempt <= c.cfg.MaxReconnectAttempts; attempt++ {
		select {
		case <-c.done:
			return false
		case <-ctx.Done():
			return false
		default:
		}

		delay := time.Duration(attempt) * c.cfg.BaseBackoff
		slog.Warn("session reconnecting", "attempt", attempt, "max_attempts", c.cfg.MaxReconnectAttempts, "delay", delay)

		select {
		case <-time.After(delay):
		case <-c.done:
			return false
		case <-ctx.Done():
			return false
		}

		conn, err := c.dial(ctx)
		if err != nil {
			slog.Warn("session reconnect attempt failed", "attempt", attempt, "error", err)
			c.mu.Lock()
			c.stats.ReconnectAttempts++
			c.mu.Unlock()
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.setState(captiontypes.StateConnected)
		slog.Info("session reconnected", "attempt", attempt)
		return true
	}
	return false
}

func (c *Client) writeLoop(ctx context.Context, connDone <-chan struct{}) {
	var keepAlive <-chan time.Time
	var ticker *time.Ticker
	if c.cfg.keepAlive() {
		ticker = time.NewTicker(c.cfg.KeepAliveInterval)
		defer ticker.Stop()
		keepAlive = ticker.C
	}

	conn := c.currentConn()
	for {
		select {
		case chunk, ok := <-c.audio:
			if !ok {
				return
			}
			if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
			c.mu.Lock()
			c.stats.FramesSent++
			c.stats.BytesSent += int64(len(chunk))
			c.mu.Unlock()
			if ticker != nil {
				ticker.Reset(c.cfg.KeepAliveInterval)
			}
		case <-keepAlive:
			if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"KeepAlive"}`)); err != nil {
				slog.Warn("session keep-alive write failed", "error", err)
			}
		case <-connDone:
			return
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) readLoop(ctx context.Context) {
	conn := c.currentConn()
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			return
		}

		ev := parseMessage(msg)
		switch ev.Kind {
		case EventResults:
			target := c.partials
			if ev.Transcript.IsFinal {
				target = c.finals
			}
			select {
			case target <- ev.Transcript:
			case <-c.done:
				return
			}
		case EventError:
			kind, message := "ServerError", ev.Err.Error()
			if se, ok := ev.Err.(*Error); ok {
				kind, message = se.Kind.String(), se.Message
			}
			c.mu.Lock()
			c.stats.ErrorCount++
			c.mu.Unlock()
			slog.Warn("session received protocol error", "kind", kind, "message", message)
			// Per spec §8 scenario 4: enter Errored and stop reading so
			// runLoop's reconnect policy takes over this connection.
			c.setState(captiontypes.StateErrored)
			c.pushEvent(captiontypes.SessionEvent{Kind: kind, Message: message})
			return
		case EventSpeechStarted, EventUtteranceEnd, EventMetadata, EventUnknown:
			slog.Debug("session received non-transcript message", "event_kind", int(ev.Kind))
			// No session-level action required; callers interested in these
			// boundaries consume them via the timeline/overlap layers, which
			// operate on Transcript/Segment values derived from Results.
		}
	}
}

func (c *Client) currentConn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}
