// Package audio implements the Audio Pipeline (AP) component of captioncore:
// acquiring a tab's audio graph and exposing it as either a lazy infinite
// sequence of fixed-size PCM frames (streaming backend) or a lazy infinite
// sequence of overlapped, container-wrapped compressed chunks (batch
// backend), per spec §4.2. Exactly one mode is active per session.
package audio

import "github.com/MrWong99/captioncore/pkg/captiontypes"

// StreamSampleRate is the fixed output sample rate for Mode A (PCM
// streaming), per spec §4.2.
const StreamSampleRate = 16000

// FrameDurationMs is the fixed output frame duration for Mode A.
const FrameDurationMs = 20

// FrameSampleCount is the number of samples per Mode A output frame
// (20ms @ 16kHz).
const FrameSampleCount = StreamSampleRate * FrameDurationMs / 1000 // 320

// BatchWindowSec and BatchStepSec are the Mode B window length and step,
// per spec §4.2. The difference (1s) is the overlap consumed by the Overlap
// Processor.
const (
	BatchWindowSec = 3.0
	BatchStepSec   = 2.0
)

// AudioFrame is re-exported for convenience; see captiontypes.AudioFrame.
type AudioFrame = captiontypes.AudioFrame

// AudioChunk is re-exported for convenience; see captiontypes.AudioChunk.
type AudioChunk = captiontypes.AudioChunk
