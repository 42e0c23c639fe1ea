// Package mock provides a controllable test double for [overlap.Dedup].
package mock

import (
	"sync"

	"github.com/MrWong99/captioncore/pkg/captiontypes"
)

// Processor is a hand-written Dedup double. Configure Returns to script the
// per-call output; defaults to echoing back the transcript's text as a single
// zero-length segment at chunkStartSec.
type Processor struct {
	mu sync.Mutex

	Returns    [][]captiontypes.Segment
	call       int
	ResetCalls int
}

// New returns a Processor with no scripted returns.
func New() *Processor {
	return &Processor{}
}

func (p *Processor) Process(tr captiontypes.Transcript, chunkStartSec float64) []captiontypes.Segment {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.call < len(p.Returns) {
		out := p.Returns[p.call]
		p.call++
		return out
	}
	p.call++
	return []captiontypes.Segment{{
		StartSec: chunkStartSec,
		EndSec:   chunkStartSec,
		Text:     tr.Text,
	}}
}

func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ResetCalls++
	p.call = 0
}
