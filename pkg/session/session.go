package session

import (
	"context"

	"github.com/MrWong99/captioncore/pkg/captiontypes"
)

// Session is the interface a recognition session client exposes to the rest
// of captioncore. [Client] is the production implementation; the
// session/mock package provides a test double.
type Session interface {
	Open(ctx context.Context) error
	SendAudio(chunk []byte) error
	Partials() <-chan captiontypes.Transcript
	Finals() <-chan captiontypes.Transcript
	State() captiontypes.SessionState
	Stats() captiontypes.SessionStats
	Info() captiontypes.Session
	Events() <-chan captiontypes.SessionEvent
	Close() error
}

var _ Session = (*Client)(nil)
