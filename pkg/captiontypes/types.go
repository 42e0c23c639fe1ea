// Package captiontypes defines the shared data model used across all
// captioncore packages: credential storage, audio capture, the recognition
// session, timeline alignment, and overlap processing.
//
// These types form the lingua franca between components. They are
// intentionally minimal — each package defines its own internal types, but
// cross-cutting data structures live here to avoid circular imports.
package captiontypes

import "time"

// SessionState enumerates the lifecycle states of a recognition [Session],
// per the state machine in spec §4.3.
type SessionState int

const (
	// StateDisconnected is the initial and final state — no connection exists.
	StateDisconnected SessionState = iota

	// StateConnecting indicates a connection attempt is in flight.
	StateConnecting

	// StateConnected indicates the connection is open and ready to carry audio.
	StateConnected

	// StateClosing indicates a clean shutdown is in progress.
	StateClosing

	// StateErrored is a terminal state reached after a non-clean close or an
	// unrecoverable failure. A reconnect may be attempted from here.
	StateErrored
)

// String returns the human-readable name of the state.
func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Session describes one logical recognition conversation, per the Data Model
// table in spec §3. Exactly one Session is active per tab at a time.
type Session struct {
	// ID uniquely identifies this session. A new ID is minted on every
	// (re)open, including the fresh session opened after a seek.
	ID string

	// Model is the recognition-service model identifier (e.g. "nova-2").
	Model string

	// Language is a BCP-47 code, or "multi" for auto-detect.
	Language string

	// State is the current lifecycle state.
	State SessionState

	// Stats accumulates counters for observability.
	Stats SessionStats
}

// SessionStats accumulates per-session counters.
type SessionStats struct {
	FramesSent       int64
	BytesSent        int64
	ReconnectAttempts int
	ErrorCount        int
	DroppedFrames     int64
}

// AudioFrame is one fixed-size block of PCM audio produced by the streaming
// (Mode A) audio pipeline, per spec §3/§4.2.
type AudioFrame struct {
	// Index is a monotonically increasing frame counter, starting at 0.
	Index uint64

	// SampleCount is the number of samples in this frame (≈320 for 20ms@16kHz).
	SampleCount int

	// SampleRate is the output sample rate in Hz. Always 16000 for Mode A.
	SampleRate int

	// Payload is signed 16-bit little-endian mono PCM.
	// len(Payload) == SampleCount*2.
	Payload []byte
}

// AudioChunk is one overlapping window of compressed, container-wrapped
// audio produced by the batch (Mode B) audio pipeline, per spec §4.2.
type AudioChunk struct {
	// Index is a monotonically increasing chunk counter, starting at 0.
	Index uint64

	// StartOffsetSec and EndOffsetSec are absolute offsets from session start.
	StartOffsetSec float64
	EndOffsetSec   float64

	// ContainerMime is the MIME type of Bytes (e.g. "audio/webm;codecs=opus").
	ContainerMime string

	// Bytes holds the (possibly header-repaired) container-wrapped audio.
	Bytes []byte
}

// WireChunk is the serializable cross-context transport form of an
// [AudioChunk], per spec §4.2 ("do not rely on platform-native blob
// structured cloning"). BytesB64 is the base64 encoding of the chunk bytes.
type WireChunk struct {
	Index          uint64 `json:"index"`
	StartOffsetSec float64 `json:"startOffsetSec"`
	EndOffsetSec   float64 `json:"endOffsetSec"`
	MimeType       string `json:"mimeType"`
	ByteLength     int    `json:"byteLength"`
	BytesB64       string `json:"bytes"`
}

// WordDetail holds per-word timing and confidence from a recognition result.
type WordDetail struct {
	Text  string
	Start time.Duration
	End   time.Duration
}

// Transcript represents one speech-to-text result, either interim or final,
// per spec §3.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal distinguishes an authoritative final from a provisional interim.
	IsFinal bool

	// Confidence is the overall confidence score in [0,1]. May be zero if the
	// backend does not report confidence.
	Confidence float64

	// Words carries per-word detail when the backend supports it. Times are
	// relative to audio-start of the session (or chunk, for batch).
	Words []WordDetail

	// RecvTimestamp marks when this transcript was received by the session
	// client, used by the renderer's stale-arrival compensation (spec §4.4).
	RecvTimestamp time.Time

	// UtteranceID groups interim/final transcripts belonging to the same
	// utterance, so later interims and the eventual final can be matched to
	// their predecessors (spec §8 property 2). Copied by the session client
	// from the backend message's utterance_id field; empty if the backend
	// sends none.
	UtteranceID string
}

// Segment is a caption-ready tuple of text and video-time range, produced by
// the Timeline Aligner (streaming) or the Overlap Processor (batch), per
// spec §3/§4.4/§4.5.
type Segment struct {
	// StartSec and EndSec are absolute video-player times; StartSec <= EndSec.
	StartSec float64
	EndSec   float64

	// Text is the caption text for this segment.
	Text string

	// Language is the BCP-47 language tag, when known.
	Language string

	// Confidence is the recognition confidence, when known.
	Confidence float64

	// IsFinal distinguishes a final caption (onSegment) from a still-live
	// interim preview (onInterim), per spec §6's renderer-facing surface and
	// §8 property 2 ("the last final supersedes every preceding interim").
	IsFinal bool

	// ArrivalTime is when this segment was produced, used by the renderer's
	// stale-arrival compensation policy (spec §4.4). Not used internally.
	ArrivalTime time.Time
}

// SessionEvent is one onSessionState or onError occurrence from a
// recognition session, per spec §6's renderer-facing surface. Exactly one of
// State or (Kind, Message) is populated: Kind is non-empty only for an error
// occurrence.
type SessionEvent struct {
	// State is the session's new lifecycle state. Meaningful when Kind=="".
	State SessionState

	// Kind is the stable error discriminant (e.g. "RateLimited"), non-empty
	// only when this event reports an error rather than a state transition.
	Kind string

	// Message is a short English description of the error. Empty for state
	// transitions.
	Message string
}

// EncryptedBlob is the at-rest representation of an encrypted secret,
// per spec §3/§4.1: salt (16B), iv (12B), and an AEAD ciphertext+tag.
type EncryptedBlob struct {
	Salt       []byte
	IV         []byte
	Ciphertext []byte
}
