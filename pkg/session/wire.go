package session

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/MrWong99/captioncore/pkg/captiontypes"
)

// envelope is decoded first to discover the message's type before parsing
// its full shape, per spec §4.3's discriminated-union wire protocol.
type envelope struct {
	Type string `json:"type"`
}

// resultsMessage carries an interim or final transcript.
type resultsMessage struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	UtteranceID string `json:"utterance_id"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// metadataMessage carries session-level metadata. Its fields are not
// currently surfaced to callers; it is recognized so the dispatcher does not
// treat it as a protocol error.
type metadataMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
}

// speechStartedMessage signals the start of a new utterance.
type speechStartedMessage struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp"`
}

// utteranceEndMessage signals the end of an utterance boundary.
type utteranceEndMessage struct {
	Type         string  `json:"type"`
	LastWordEnd  float64 `json:"last_word_end"`
}

// errorMessage carries a backend-reported error, per spec §8 scenario 4's
// {"type":"Error","message":"rate_limit"} shape.
type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// classifyServerError maps a backend Error payload's message to a session
// [Kind], per spec §4.3/§7's Session error taxonomy.
func classifyServerError(message string) Kind {
	switch {
	case strings.Contains(message, "rate_limit"):
		return KindRateLimited
	case strings.Contains(message, "timeout"):
		return KindTimeout
	case strings.Contains(message, "auth"):
		return KindAuthFailed
	default:
		return KindServerError
	}
}

// event is the dispatcher's decoded result. Exactly one non-zero field is
// populated per event, selected by Kind.
type event struct {
	Kind EventKind

	Transcript    captiontypes.Transcript
	SpeechStarted time.Duration
	UtteranceEnd  time.Duration
	Err           error
}

// EventKind discriminates the dispatched event types.
type EventKind int

const (
	EventResults EventKind = iota
	EventMetadata
	EventSpeechStarted
	EventUtteranceEnd
	EventError
	EventUnknown
)

// parseMessage decodes one raw WebSocket text message into an [event].
func parseMessage(data []byte) event {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return event{Kind: EventError, Err: newErr(KindMessageParseFailed, "malformed message envelope", err)}
	}

	switch env.Type {
	case "Results":
		var m resultsMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return event{Kind: EventError, Err: newErr(KindMessageParseFailed, "malformed Results message", err)}
		}
		if len(m.Channel.Alternatives) == 0 {
			return event{Kind: EventMetadata}
		}
		alt := m.Channel.Alternatives[0]
		words := make([]captiontypes.WordDetail, 0, len(alt.Words))
		for _, w := range alt.Words {
			words = append(words, captiontypes.WordDetail{
				Text:  w.Word,
				Start: time.Duration(w.Start * float64(time.Second)),
				End:   time.Duration(w.End * float64(time.Second)),
			})
		}
		return event{
			Kind: EventResults,
			Transcript: captiontypes.Transcript{
				Text:          alt.Transcript,
				IsFinal:       m.IsFinal,
				Confidence:    alt.Confidence,
				Words:         words,
				RecvTimestamp: now(),
				UtteranceID:   m.UtteranceID,
			},
		}
	case "Metadata":
		return event{Kind: EventMetadata}
	case "SpeechStarted":
		var m speechStartedMessage
		_ = json.Unmarshal(data, &m)
		return event{Kind: EventSpeechStarted, SpeechStarted: time.Duration(m.Timestamp * float64(time.Second))}
	case "UtteranceEnd":
		var m utteranceEndMessage
		_ = json.Unmarshal(data, &m)
		return event{Kind: EventUtteranceEnd, UtteranceEnd: time.Duration(m.LastWordEnd * float64(time.Second))}
	case "Error":
		var m errorMessage
		_ = json.Unmarshal(data, &m)
		return event{Kind: EventError, Err: newErr(classifyServerError(m.Message), m.Message, nil)}
	default:
		return event{Kind: EventUnknown}
	}
}

var now = time.Now
