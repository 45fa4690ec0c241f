package pipeline

import (
	"regexp"
	"strings"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	fillerRe     = regexp.MustCompile(`(?i)\b(um|uh|hmm|er|ah|eh|you know|I mean|basically|literally)\b`)
	prePunctRe   = regexp.MustCompile(`\s+([,.!?])`)
	multiSpaceRe = regexp.MustCompile(` +`)
)

// CleanTranscript normalizes a raw transcript: collapses whitespace, strips
// filler vocalizations and immediate word repetitions, and tidies punctuation
// spacing. The raw transcript is kept alongside the cleaned one; neither is
// regenerated after the transcribing stage commits.
func CleanTranscript(text string) string {
	text = strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
	text = fillerRe.ReplaceAllString(text, "")
	text = collapseRepetitions(text)
	text = prePunctRe.ReplaceAllString(text, "$1")
	text = strings.TrimSpace(multiSpaceRe.ReplaceAllString(text, " "))
	return text
}

// collapseRepetitions removes immediate duplicate words separated by short
// punctuation runs ("Yes. Yes," -> "Yes.").
func collapseRepetitions(text string) string {
	re := regexp.MustCompile(`(?i)(\b[\p{L}\p{N}_]+\b)([\s,.!?"'` + "`" + `\x2d]{1,15})` + `(\b[\p{L}\p{N}_]+\b)`)
	for {
		replaced := re.ReplaceAllStringFunc(text, func(m string) string {
			parts := re.FindStringSubmatch(m)
			if len(parts) == 4 && strings.EqualFold(parts[1], parts[3]) {
				return parts[1] + parts[2]
			}
			return m
		})
		if replaced == text {
			return replaced
		}
		text = replaced
	}
}

// DefaultChunkSize bounds the characters handed to one AI call.
const DefaultChunkSize = 50000

// SplitChunks splits text into chunks of at most size characters, preferring
// sentence boundaries near the cut point. Used by translation and
// summarization to stay inside model context limits.
func SplitChunks(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if len(text) <= size {
		return []string{text}
	}

	var chunks []string
	pos := 0
	for pos < len(text) {
		end := pos + size
		if end > len(text) {
			end = len(text)
		} else {
			if cut := lastSentenceBreak(text[pos:end]); cut > 0 {
				end = pos + cut
			}
		}

		chunk := strings.TrimSpace(text[pos:end])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		pos = end
	}

	return chunks
}

func lastSentenceBreak(s string) int {
	best := -1
	for _, sep := range []string{". ", "? ", "! "} {
		if i := strings.LastIndex(s, sep); i > best {
			best = i
		}
	}
	if best == -1 {
		return 0
	}
	return best + 1
}
