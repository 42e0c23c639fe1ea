// Package config provides the configuration schema and loader for
// captioncore, mirroring the Configuration table in spec §6.
package config

// Backend selects which audio-pipeline/recognition backend a session uses,
// per spec §4.2/§4.4 ("exactly one mode is active per session").
type Backend string

const (
	// BackendStreaming selects Mode A: 20ms PCM frames over one long-lived
	// bidirectional session.
	BackendStreaming Backend = "streaming"

	// BackendBatch selects Mode B: overlapped, container-wrapped chunks
	// against a windowed HTTP/batch backend, with the Overlap Processor
	// active.
	BackendBatch Backend = "batch"
)

// IsValid reports whether b is a known backend value.
func (b Backend) IsValid() bool {
	switch b {
	case BackendStreaming, BackendBatch:
		return true
	default:
		return false
	}
}

// CoreConfig is the root configuration structure for captioncore. It is
// typically loaded from a YAML file using [Load] or [LoadFromReader].
type CoreConfig struct {
	Recognition RecognitionConfig `yaml:"recognition"`
	Overlap     OverlapConfig     `yaml:"overlap"`
	Timeline    TimelineConfig    `yaml:"timeline"`
	Credential  CredentialConfig  `yaml:"credential"`
}

// RecognitionConfig configures the Session Client and the audio pipeline
// mode it feeds, per spec §6's Configuration table.
type RecognitionConfig struct {
	// Endpoint is the recognition service's streaming WebSocket URL.
	Endpoint string `yaml:"endpoint"`

	// Backend selects streaming vs. batch. Default: BackendStreaming.
	Backend Backend `yaml:"backend"`

	// Model is the backend model identifier. Default: "nova-2".
	Model string `yaml:"model"`

	// Language is a BCP-47 code, or "multi" for auto-detect. Default: "zh-TW".
	Language string `yaml:"language"`

	// InterimResults is loaded and defaulted here, but the Manager does not
	// pass it to the Session Client: the client's open URL always sets
	// interim_results=true, so interims are emitted whatever this value is.
	// Nil means "use the default" (true); a tri-state like KeepAliveEnabled
	// since the zero value of a plain bool cannot distinguish "unset" from
	// "explicitly false".
	InterimResults *bool `yaml:"interim_results"`

	// EndpointingMs is the backend's silence-based utterance boundary, in
	// ms. Default: 300.
	EndpointingMs int `yaml:"endpointing_ms"`

	// KeepAliveEnabled toggles the text KeepAlive control message during
	// silence (spec §9 Open Question — keep-alive semantics). Nil means
	// "use the session default" (true).
	KeepAliveEnabled *bool `yaml:"keep_alive_enabled"`

	// KeepAliveIntervalMs is the keep-alive cadence, in ms. Default: 5000.
	KeepAliveIntervalMs int `yaml:"keep_alive_interval_ms"`

	// ReconnectMaxRetries caps reconnection attempts. Default: 5.
	ReconnectMaxRetries int `yaml:"reconnect_max_retries"`

	// ReconnectBaseDelayMs is the linear backoff base, in ms. Default: 1000.
	ReconnectBaseDelayMs int `yaml:"reconnect_base_delay_ms"`
}

// OverlapConfig configures the Overlap Processor, active only when
// Recognition.Backend is BackendBatch.
type OverlapConfig struct {
	// OverlapDurationMs is the batch window overlap, in ms. Default: 1000.
	OverlapDurationMs int `yaml:"overlap_duration_ms"`

	// SimilarityThreshold is the dedup text-similarity threshold.
	// Default: 0.8.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	// MergeTimeGapSec is the max gap, in seconds, for sentence merging.
	// Default: 0.3.
	MergeTimeGapSec float64 `yaml:"merge_time_gap_sec"`

	// MaxCompareLength bounds how many characters the text-similarity
	// check compares. Default: 100.
	MaxCompareLength int `yaml:"max_compare_length"`
}

// TimelineConfig configures the Timeline Aligner.
type TimelineConfig struct {
	// SegmentRetentionSec is the renderer-side retention window, in
	// seconds. Default: 30.
	SegmentRetentionSec float64 `yaml:"segment_retention_sec"`
}

// CredentialConfig configures the Credential Store's verification and
// storage namespace.
type CredentialConfig struct {
	// ServiceName namespaces the kvStore keys (spec §6 "Persisted state
	// layout").
	ServiceName string `yaml:"service_name"`

	// VerifyURL is the auth/token introspection endpoint used by verify().
	VerifyURL string `yaml:"verify_url"`
}

// Defaults mirroring spec §6's Configuration table.
const (
	DefaultModel                = "nova-2"
	DefaultLanguage              = "zh-TW"
	DefaultInterimResults        = true
	DefaultEndpointingMs         = 300
	DefaultOverlapDurationMs     = 1000
	DefaultSimilarityThreshold   = 0.8
	DefaultMergeTimeGapSec       = 0.3
	DefaultMaxCompareLength      = 100
	DefaultKeepAliveIntervalMs   = 5000
	DefaultReconnectMaxRetries   = 5
	DefaultReconnectBaseDelayMs  = 1000
	DefaultSegmentRetentionSec   = 30
)

// WithDefaults returns a copy of cfg with every zero-valued field set to
// its spec-mandated default.
func (c CoreConfig) WithDefaults() CoreConfig {
	if c.Recognition.Backend == "" {
		c.Recognition.Backend = BackendStreaming
	}
	if c.Recognition.InterimResults == nil {
		v := DefaultInterimResults
		c.Recognition.InterimResults = &v
	}
	if c.Recognition.Model == "" {
		c.Recognition.Model = DefaultModel
	}
	if c.Recognition.Language == "" {
		c.Recognition.Language = DefaultLanguage
	}
	if c.Recognition.EndpointingMs == 0 {
		c.Recognition.EndpointingMs = DefaultEndpointingMs
	}
	if c.Recognition.KeepAliveIntervalMs == 0 {
		c.Recognition.KeepAliveIntervalMs = DefaultKeepAliveIntervalMs
	}
	if c.Recognition.ReconnectMaxRetries == 0 {
		c.Recognition.ReconnectMaxRetries = DefaultReconnectMaxRetries
	}
	if c.Recognition.ReconnectBaseDelayMs == 0 {
		c.Recognition.ReconnectBaseDelayMs = DefaultReconnectBaseDelayMs
	}
	if c.Overlap.OverlapDurationMs == 0 {
		c.Overlap.OverlapDurationMs = DefaultOverlapDurationMs
	}
	if c.Overlap.SimilarityThreshold == 0 {
		c.Overlap.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if c.Overlap.MergeTimeGapSec == 0 {
		c.Overlap.MergeTimeGapSec = DefaultMergeTimeGapSec
	}
	if c.Overlap.MaxCompareLength == 0 {
		c.Overlap.MaxCompareLength = DefaultMaxCompareLength
	}
	if c.Timeline.SegmentRetentionSec == 0 {
		c.Timeline.SegmentRetentionSec = DefaultSegmentRetentionSec
	}
	return c
}
