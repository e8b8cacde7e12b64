package agent

import (
	"strings"
	"unicode"
)

// DefaultIntentPhrases announce an action the model has not taken yet.
var DefaultIntentPhrases = []string{
	"I'll now",
	"I will now",
	"Let me now",
	"Let me check",
	"Let me run",
	"Let me look",
	"Let me read",
	"Let me list",
	"Let me create",
	"Let me write",
	"I'm going to",
	"Next, I'll",
	"Now I'll",
	"Now let me",
}

// DefaultFakeResultPhrases mark text pretending to be tool output.
var DefaultFakeResultPhrases = []string{
	toolResultMarker,
	"<tool_result>",
	"Tool output:",
}

const (
	toolResultMarker = "[Tool Result]"

	continuePrompt = "Your previous response was cut off. Continue exactly where you left off without repeating anything."

	fabricatedPrompt = "You wrote a tool result yourself. Tool results only come from the system after you emit a tool call. " +
		`Emit the call as {"command":{"tool":"<Name>","args":{...}}} and wait for the real result.`

	intentPrompt = "You said you would take an action but did not emit a tool call. " +
		`If you need a tool, emit {"command":{"tool":"<Name>","args":{...}}} now. Otherwise give your final answer.`
)

// phraseSet matches phrases case-insensitively.
type phraseSet []string

func newPhraseSet(configured, defaults []string) phraseSet {
	src := configured
	if len(src) == 0 {
		src = defaults
	}
	out := make(phraseSet, 0, len(src))
	for _, p := range src {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// contains reports whether any phrase occurs anywhere in text.
func (ps phraseSet) contains(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range ps {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// atSentenceStart reports whether any phrase opens a sentence, list item or
// line of text and ends on a word boundary.
func (ps phraseSet) atSentenceStart(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range ps {
		for off := 0; off < len(lower); {
			i := strings.Index(lower[off:], p)
			if i < 0 {
				break
			}
			i += off
			if sentenceBoundary(lower[:i]) && wordBoundary(lower[i+len(p):]) {
				return true
			}
			off = i + 1
		}
	}
	return false
}

func sentenceBoundary(before string) bool {
	before = strings.TrimRight(before, " \t")
	if before == "" {
		return true
	}
	return strings.ContainsRune(".!?:\n*->", rune(before[len(before)-1]))
}

func wordBoundary(after string) bool {
	if after == "" {
		return true
	}
	r := rune(after[0])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
