package overlap

import (
	"strings"
	"unicode"
)

// Language selects which sentence-merge punctuation rules apply, per
// spec §4.5.
type Language int

const (
	// LangAuto detects the script of the text under consideration and
	// falls back to LangEnglish when no CJK script is present.
	LangAuto Language = iota
	LangEnglish
	LangChinese
	LangJapanese
	LangKorean
	LangEuropean
)

// detectScript picks a Language by scanning text for script-identifying
// Unicode ranges: Hiragana/Katakana mark Japanese, Hangul marks Korean, and
// Han without either marks Chinese. Absent any CJK script, English is the
// default.
func detectScript(text string) Language {
	hasHan := false
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Hiragana, r), unicode.Is(unicode.Katakana, r):
			return LangJapanese
		case unicode.Is(unicode.Hangul, r):
			return LangKorean
		case unicode.Is(unicode.Han, r):
			hasHan = true
		}
	}
	if hasHan {
		return LangChinese
	}
	return LangEnglish
}

var englishAbbreviations = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "prof": {}, "sr": {}, "jr": {},
	"etc": {}, "e.g": {}, "i.e": {}, "vs": {}, "ph.d": {},
}

// shouldMerge implements the per-language continuation rule of spec §4.5. It
// assumes the gap check (next.start - prev.end <= gapLimit) has already
// passed.
func shouldMerge(prevText string, lang Language) bool {
	prevText = strings.TrimRight(prevText, " \t")
	if prevText == "" {
		return true
	}
	lang = resolveLanguage(lang, prevText)

	last := lastRune(prevText)
	switch lang {
	case LangChinese:
		switch last {
		case '。', '！', '？', '；', '：':
			// Sentence-final punctuation still merges if it falls inside an
			// unclosed quote: it ends the quoted clause, not the sentence.
			return openQuoteUnbalanced(prevText)
		default:
			// Comma/、, an unmatched open quote, and plain unpunctuated text
			// all merge.
			return true
		}
	case LangJapanese:
		if last == '。' || last == '！' || last == '？' {
			return false
		}
		if last == '、' {
			return true
		}
		return true
	case LangKorean, LangEuropean:
		return englishLikeMerge(prevText, last)
	default: // LangEnglish
		return englishLikeMerge(prevText, last)
	}
}

func resolveLanguage(lang Language, text string) Language {
	if lang == LangAuto {
		return detectScript(text)
	}
	return lang
}

func englishLikeMerge(prevText string, last rune) bool {
	switch last {
	case '!', '?', ';', ':':
		return false
	case ',', '，':
		return true
	case '.':
		token := lastToken(prevText)
		token = strings.TrimRight(token, ".")
		_, known := englishAbbreviations[strings.ToLower(token)]
		return known
	default:
		return true
	}
}

func lastToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

func lastRune(s string) rune {
	r := []rune(s)
	if len(r) == 0 {
		return 0
	}
	return r[len(r)-1]
}

var openQuotes = map[rune]rune{
	'“': '”',
	'「': '」',
	'『': '』',
	'‘': '’',
}

// openQuoteUnbalanced reports whether text contains an opening quote rune
// with no matching close, meaning the sentence-final punctuation inside the
// quote does not end the outer clause.
func openQuoteUnbalanced(text string) bool {
	balance := map[rune]int{}
	for _, r := range text {
		if close, ok := openQuotes[r]; ok {
			balance[close]++
			continue
		}
		for _, close := range openQuotes {
			if r == close && balance[close] > 0 {
				balance[close]--
			}
		}
	}
	for _, n := range balance {
		if n > 0 {
			return true
		}
	}
	return false
}
