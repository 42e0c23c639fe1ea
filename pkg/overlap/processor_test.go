package overlap_test

import (
	"testing"
	"time"

	"github.com/MrWong99/captioncore/pkg/captiontypes"
	"github.com/MrWong99/captioncore/pkg/overlap"
	"github.com/stretchr/testify/require"
)

func words(texts ...string) []captiontypes.WordDetail {
	out := make([]captiontypes.WordDetail, len(texts))
	step := 400 * time.Millisecond
	for i, t := range texts {
		start := time.Duration(i) * step
		out[i] = captiontypes.WordDetail{Text: t, Start: start, End: start + step}
	}
	return out
}

func TestProcessor_FirstChunkReturnsEverything(t *testing.T) {
	p := overlap.New()
	segs := p.Process(captiontypes.Transcript{Text: "今天天氣很好", Words: words("今天", "天氣", "很好")}, 0)
	require.Len(t, segs, 1)
	require.Equal(t, "今天 天氣 很好", segs[0].Text)
}

// Mirrors spec §8 scenario 2's shape: two 1s-overlapping batch chunks where
// the tail of chunk 0 and the head of chunk 1 recognize the same audio as
// the same word; OP must drop chunk 1's duplicate of that word and keep
// only its new trailing content.
func TestProcessor_DropsDuplicatedOverlapFragment(t *testing.T) {
	p := overlap.New(overlap.WithOverlap(1 * time.Second))

	chunk0 := captiontypes.Transcript{Words: []captiontypes.WordDetail{
		{Text: "intro.", Start: 0, End: 1 * time.Second},
		{Text: "duplicate", Start: 2 * time.Second, End: 2900 * time.Millisecond},
	}}
	first := p.Process(chunk0, 0)
	require.Len(t, first, 2)

	// chunk 1 starts at session offset 2s (step=2s); its first word repeats
	// chunk 0's tail word inside the [2,3)s overlap window, then a >1s gap
	// forces a new sentence for the genuinely new content.
	chunk1 := captiontypes.Transcript{Words: []captiontypes.WordDetail{
		{Text: "duplicate", Start: 0, End: 900 * time.Millisecond},
		{Text: "newcontent", Start: 2 * time.Second, End: 2800 * time.Millisecond},
	}}
	second := p.Process(chunk1, 2.0)

	require.Len(t, second, 1)
	require.Equal(t, "newcontent", second[0].Text)
}

func TestProcessor_LastDedupRateReflectsMostRecentCall(t *testing.T) {
	p := overlap.New(overlap.WithOverlap(1 * time.Second))
	require.Zero(t, p.LastDedupRate())

	chunk0 := captiontypes.Transcript{Words: []captiontypes.WordDetail{
		{Text: "intro.", Start: 0, End: 1 * time.Second},
		{Text: "duplicate", Start: 2 * time.Second, End: 2900 * time.Millisecond},
	}}
	p.Process(chunk0, 0)
	require.Zero(t, p.LastDedupRate(), "first chunk has no previous window to compare against")

	chunk1 := captiontypes.Transcript{Words: []captiontypes.WordDetail{
		{Text: "duplicate", Start: 0, End: 900 * time.Millisecond},
		{Text: "newcontent", Start: 2 * time.Second, End: 2800 * time.Millisecond},
	}}
	p.Process(chunk1, 2.0)
	require.Equal(t, 1.0, p.LastDedupRate())
}

func TestProcessor_ResetClearsRetainedState(t *testing.T) {
	p := overlap.New()
	p.Process(captiontypes.Transcript{Text: "a"}, 0)
	p.Reset()
	// After Reset, the next call is treated as a first chunk again: the
	// whole segment comes back unfiltered even though it overlaps in time.
	out := p.Process(captiontypes.Transcript{Text: "a"}, 0)
	require.Len(t, out, 1)
}

// A period immediately following a known abbreviation must not be treated
// as a sentence boundary: toSegments still splits on the bare '.', but
// mergeBrokenSentences reunites the two pieces within the same call.
func TestProcessor_MergesAcrossAbbreviationPeriod(t *testing.T) {
	p := overlap.New(overlap.WithLanguage(overlap.LangEnglish))
	segs := p.Process(captiontypes.Transcript{
		Words: []captiontypes.WordDetail{
			{Text: "Dr.", Start: 0, End: 300 * time.Millisecond},
			{Text: "Smith", Start: 350 * time.Millisecond, End: 700 * time.Millisecond},
		},
	}, 0)
	require.Len(t, segs, 1)
	require.Equal(t, "Dr. Smith", segs[0].Text)
}

// An ordinary sentence-final period stays split.
func TestProcessor_DoesNotMergeAcrossOrdinaryPeriod(t *testing.T) {
	p := overlap.New(overlap.WithLanguage(overlap.LangEnglish))
	segs := p.Process(captiontypes.Transcript{
		Words: []captiontypes.WordDetail{
			{Text: "stop.", Start: 0, End: 300 * time.Millisecond},
			{Text: "go", Start: 350 * time.Millisecond, End: 500 * time.Millisecond},
		},
	}, 0)
	require.Len(t, segs, 2)
	require.Equal(t, "stop.", segs[0].Text)
	require.Equal(t, "go", segs[1].Text)
}

func TestProcessor_DeterministicOnRepeatedInputAfterReset(t *testing.T) {
	// Resetting between calls reproduces the "no prior window" state each
	// time, so the first-chunk path gives the same output for the same
	// input.
	p := overlap.New()
	chunk := captiontypes.Transcript{Text: "hello", Words: words("hello")}

	first := p.Process(chunk, 0)
	p.Reset()
	second := p.Process(chunk, 0)
	require.Equal(t, first, second)
}
