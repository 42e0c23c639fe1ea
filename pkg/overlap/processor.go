package overlap

import (
	"sort"
	"sync"
	"time"

	"github.com/MrWong99/captioncore/pkg/captiontypes"
)

const (
	// DefaultThreshold is the default dedup similarity threshold.
	DefaultThreshold = 0.8

	// DefaultOverlap is the default batch window overlap duration.
	DefaultOverlap = 1 * time.Second

	// DefaultMergeGap is the default maximum gap for sentence merging.
	DefaultMergeGap = 300 * time.Millisecond

	// DefaultMaxCompareLength bounds how many characters textSimilarity
	// compares.
	DefaultMaxCompareLength = 100

	// sentenceSplitGap is the word-to-word silence that forces a sentence
	// boundary within a single chunk's transcript, independent of
	// punctuation.
	sentenceSplitGap = 1 * time.Second
)

// Dedup is the interface a batch-backend overlap processor exposes to the
// rest of captioncore. [Processor] is the production implementation; the
// overlap/mock package provides a test double.
type Dedup interface {
	Process(tr captiontypes.Transcript, chunkStartSec float64) []captiontypes.Segment
	Reset()
}

// Processor is the Overlap Processor (OP), per spec §4.5. It retains the
// previous chunk's shifted segments and, on each call, deduplicates the new
// chunk's segments against the shared overlap region before applying
// language-aware sentence merging.
//
// One Processor is owned per batch-backend session; call Reset on seek or
// disable.
type Processor struct {
	threshold        float64
	overlap          time.Duration
	mergeGap         time.Duration
	maxCompareLength int
	language         Language

	mu            sync.Mutex
	prev          []captiontypes.Segment
	hasPrev       bool
	lastDedupRate float64
}

// Option configures a Processor at construction.
type Option func(*Processor)

func WithThreshold(t float64) Option         { return func(p *Processor) { p.threshold = t } }
func WithOverlap(d time.Duration) Option     { return func(p *Processor) { p.overlap = d } }
func WithMergeGap(d time.Duration) Option    { return func(p *Processor) { p.mergeGap = d } }
func WithMaxCompareLength(n int) Option      { return func(p *Processor) { p.maxCompareLength = n } }
func WithLanguage(lang Language) Option      { return func(p *Processor) { p.language = lang } }

// New constructs a Processor with the spec's defaults, overridden by opts.
func New(opts ...Option) *Processor {
	p := &Processor{
		threshold:        DefaultThreshold,
		overlap:          DefaultOverlap,
		mergeGap:         DefaultMergeGap,
		maxCompareLength: DefaultMaxCompareLength,
		language:         LangAuto,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

var _ Dedup = (*Processor)(nil)

// Reset clears retained state, per spec §4.5 ("called on disable and on
// seek").
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prev = nil
	p.hasPrev = false
	p.lastDedupRate = 0
}

// LastDedupRate reports the fraction of the most recent call's overlap-
// window segments that were dropped as duplicates (0 on the first chunk,
// since there is no previous window to compare against).
func (p *Processor) LastDedupRate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastDedupRate
}

// Process implements the per-call contract of spec §4.5: given the
// recognition result for the chunk starting at chunkStartSec, update
// internal state and return only the segments that are new relative to the
// previous chunk's overlap region.
func (p *Processor) Process(tr captiontypes.Transcript, chunkStartSec float64) []captiontypes.Segment {
	current := toSegments(tr, chunkStartSec)

	p.mu.Lock()
	prev := p.prev
	hadPrev := p.hasPrev
	p.prev = current
	p.hasPrev = true
	p.mu.Unlock()

	if !hadPrev {
		p.mu.Lock()
		p.lastDedupRate = 0
		p.mu.Unlock()
		return p.mergeBrokenSentences(current)
	}

	windowEnd := chunkStartSec + p.overlap.Seconds()

	var overlapPrev, overlapCurrent, outside []captiontypes.Segment
	for _, s := range prev {
		if intersectsWindow(s, chunkStartSec, windowEnd) {
			overlapPrev = append(overlapPrev, s)
		}
	}
	for _, s := range current {
		if intersectsWindow(s, chunkStartSec, windowEnd) {
			overlapCurrent = append(overlapCurrent, s)
		} else {
			outside = append(outside, s)
		}
	}

	result := make([]captiontypes.Segment, 0, len(current))
	dropped := 0
	for _, c := range overlapCurrent {
		if p.isDuplicate(c, overlapPrev) {
			dropped++
		} else {
			result = append(result, c)
		}
	}
	result = append(result, outside...)

	p.mu.Lock()
	if len(overlapCurrent) > 0 {
		p.lastDedupRate = float64(dropped) / float64(len(overlapCurrent))
	} else {
		p.lastDedupRate = 0
	}
	p.mu.Unlock()

	return p.mergeBrokenSentences(result)
}

func intersectsWindow(s captiontypes.Segment, winStart, winEnd float64) bool {
	return s.StartSec < winEnd && s.EndSec > winStart
}

// isDuplicate implements spec §4.5 step 4: quick-reject by Jaccard
// character-set similarity, then mark a duplicate when the time-overlap
// ratio alone is high, or moderate overlap is corroborated by text
// similarity above threshold.
func (p *Processor) isDuplicate(c captiontypes.Segment, candidates []captiontypes.Segment) bool {
	for _, prevSeg := range candidates {
		if jaccardCharSimilarity(prevSeg.Text, c.Text) < 0.6*p.threshold {
			continue
		}
		ratio := timeOverlapRatio(prevSeg, c)
		if ratio > 0.8 {
			return true
		}
		if ratio > 0.5 {
			sim := textSimilarity(prevSeg.Text, c.Text, p.maxCompareLength)
			if sim > p.threshold {
				return true
			}
		}
	}
	return false
}

// mergeBrokenSentences walks adjacent segments in time order and
// concatenates pairs the per-language merge rule accepts, per spec §4.5.
func (p *Processor) mergeBrokenSentences(segs []captiontypes.Segment) []captiontypes.Segment {
	if len(segs) == 0 {
		return segs
	}
	sorted := append([]captiontypes.Segment(nil), segs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartSec < sorted[j].StartSec })

	merged := []captiontypes.Segment{sorted[0]}
	for _, next := range sorted[1:] {
		last := &merged[len(merged)-1]
		if next.StartSec-last.EndSec <= p.mergeGap.Seconds() && shouldMerge(last.Text, p.language) {
			last.Text = last.Text + " " + next.Text
			if next.EndSec > last.EndSec {
				last.EndSec = next.EndSec
			}
			continue
		}
		merged = append(merged, next)
	}
	return merged
}

// toSegments splits a chunk's transcript into one or more preliminary
// segments (a chunk's final transcript is usually one utterance, but may
// span a sentence boundary or a long silence), shifting all times by
// chunkStartSec to make them absolute, per spec §4.5 step 1.
func toSegments(tr captiontypes.Transcript, chunkStartSec float64) []captiontypes.Segment {
	if len(tr.Words) == 0 {
		if tr.Text == "" {
			return nil
		}
		return []captiontypes.Segment{{
			StartSec:   chunkStartSec,
			EndSec:     chunkStartSec,
			Text:       tr.Text,
			Confidence: tr.Confidence,
			IsFinal:    true,
		}}
	}

	var segs []captiontypes.Segment
	start := 0
	for i, w := range tr.Words {
		isLast := i == len(tr.Words)-1
		boundary := isLast
		if !isLast {
			if endsSentencePunct(w.Text) {
				boundary = true
			} else if tr.Words[i+1].Start-w.End > sentenceSplitGap {
				boundary = true
			}
		}
		if boundary {
			segs = append(segs, buildSegment(tr.Words[start:i+1], chunkStartSec, tr.Confidence))
			start = i + 1
		}
	}
	return segs
}

func buildSegment(words []captiontypes.WordDetail, chunkStartSec float64, confidence float64) captiontypes.Segment {
	texts := make([]string, len(words))
	for i, w := range words {
		texts[i] = w.Text
	}
	return captiontypes.Segment{
		StartSec:   chunkStartSec + words[0].Start.Seconds(),
		EndSec:     chunkStartSec + words[len(words)-1].End.Seconds(),
		Text:       joinWords(texts),
		Confidence: confidence,
		IsFinal:    true,
	}
}

func joinWords(words []string) string {
	out := words[0]
	for _, w := range words[1:] {
		out += " " + w
	}
	return out
}

func endsSentencePunct(word string) bool {
	if word == "" {
		return false
	}
	r := []rune(word)
	last := r[len(r)-1]
	switch last {
	case '.', '!', '?', '。', '！', '？':
		return true
	default:
		return false
	}
}
