// Package toolcall finds tool-call envelopes embedded in free-form model
// output. Envelopes appear either inside a ```json fence or as a bare object
// starting with {"command". Matching is textual; malformed envelopes are
// still returned and fail later at dispatch.
package toolcall

import (
	"strings"

	"github.com/netoneko/meow/internal/jsonscan"
)

const (
	fenceOpen  = "```json"
	fenceClose = "```"
	bareOpen   = `{"command"`
)

// Segment is a tool call together with the prose the model wrote before it.
// The final segment of a text carries the trailing prose and an empty Call.
type Segment struct {
	Prose string
	Call  string
}

// Extract returns the text with every accepted envelope removed (trimmed)
// and the envelopes in order of appearance.
func Extract(text string) (string, []string) {
	segs, prose := scan(text)
	var calls []string
	for _, s := range segs {
		if s.Call != "" {
			calls = append(calls, s.Call)
		}
	}
	return prose, calls
}

// ExtractSegments splits text into prose/call pairs in order of appearance.
func ExtractSegments(text string) []Segment {
	segs, _ := scan(text)
	return segs
}

// accepted reports whether a candidate looks like a tool call.
func accepted(candidate string) bool {
	return strings.Contains(candidate, `"command"`) && strings.Contains(candidate, `"tool"`)
}

type match struct {
	start, end int // span to excise, end exclusive
	candidate  string
}

func scan(text string) ([]Segment, string) {
	w := text
	cursor := 0
	segStart := 0
	var segs []Segment

	for cursor < len(w) {
		m, ok := next(w, cursor)
		if !ok {
			break
		}
		if !accepted(m.candidate) {
			cursor = m.end
			continue
		}
		prose := ""
		if m.start > segStart {
			prose = strings.TrimSpace(w[segStart:m.start])
		}
		segs = append(segs, Segment{Prose: prose, Call: strings.TrimSpace(m.candidate)})
		w = w[:m.start] + w[m.end:]
		segStart = m.start
		// Rescan a little before the cut in case the join formed a marker.
		cursor = max(0, m.start-len(bareOpen))
	}

	segs = append(segs, Segment{Prose: strings.TrimSpace(w[segStart:])})
	return segs, strings.TrimSpace(w)
}

// next finds the earliest fenced or bare candidate at or after from.
func next(w string, from int) (match, bool) {
	for from < len(w) {
		fence := index(w, fenceOpen, from)
		bare := index(w, bareOpen, from)
		switch {
		case fence < 0 && bare < 0:
			return match{}, false
		case fence >= 0 && (bare < 0 || fence <= bare):
			body := fence + len(fenceOpen)
			closeAt := index(w, fenceClose, body)
			if closeAt < 0 {
				return match{start: fence, end: len(w), candidate: w[body:]}, true
			}
			return match{start: fence, end: closeAt + len(fenceClose), candidate: w[body:closeAt]}, true
		default:
			end := jsonscan.MatchObject(w, bare)
			if end < 0 {
				from = bare + 1
				continue
			}
			return match{start: bare, end: end + 1, candidate: w[bare : end+1]}, true
		}
	}
	return match{}, false
}

func index(s, sub string, from int) int {
	if from >= len(s) {
		return -1
	}
	i := strings.Index(s[from:], sub)
	if i < 0 {
		return -1
	}
	return from + i
}
