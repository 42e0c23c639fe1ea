package session

import "time"

// Default tuning parameters, per spec §4.3.
const (
	DefaultModel                = "nova-2"
	DefaultLanguage              = "en"
	DefaultSampleRate            = 16000
	DefaultChannels              = 1
	DefaultEndpointingMs         = 300
	DefaultMaxReconnectAttempts  = 5
	DefaultBaseBackoff           = 1 * time.Second
	DefaultKeepAliveInterval     = 5 * time.Second
)

// Config configures a [Client].
type Config struct {
	// Endpoint is the recognition service's streaming WebSocket URL, e.g.
	// "wss://api.deepgram.com/v1/listen".
	Endpoint string

	// APIKey authenticates the connection via a bearer-style header.
	APIKey string

	// Model is the recognition model identifier.
	Model string

	// Language is a BCP-47 tag, or "multi" for auto-detect.
	Language string

	// SampleRate and Channels describe the PCM audio that will be sent via
	// SendAudio. Must match the audio pipeline's actual output format.
	SampleRate int
	Channels   int

	// EndpointingMs is the backend's silence-based utterance-finalization
	// window, emitted as the open URL's endpointing query param (spec §6).
	EndpointingMs int

	// KeepAliveEnabled controls whether the client sends a periodic
	// KeepAlive control message during silence to hold the connection open.
	// Some backends time out an idle socket without it; others tolerate
	// silence indefinitely. Defaults to true.
	KeepAliveEnabled *bool

	// KeepAliveInterval is how often a KeepAlive message is sent while idle.
	KeepAliveInterval time.Duration

	// MaxReconnectAttempts bounds the linear-backoff reconnect loop.
	MaxReconnectAttempts int

	// BaseBackoff is the linear-backoff unit: attempt N waits N*BaseBackoff.
	BaseBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.Channels == 0 {
		c.Channels = DefaultChannels
	}
	if c.EndpointingMs == 0 {
		c.EndpointingMs = DefaultEndpointingMs
	}
	if c.KeepAliveEnabled == nil {
		enabled := true
		c.KeepAliveEnabled = &enabled
	}
	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.BaseBackoff == 0 {
		c.BaseBackoff = DefaultBaseBackoff
	}
	return c
}

func (c Config) keepAlive() bool {
	return c.KeepAliveEnabled == nil || *c.KeepAliveEnabled
}
