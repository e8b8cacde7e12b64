// Package jsonscan is a small, lenient JSON tokenizer used to pull single
// fields out of provider stream lines and to find object boundaries in model
// output. It never builds a document tree and tolerates unknown fields,
// trailing garbage and truncated input.
package jsonscan

import (
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// SkipString returns the index just past the closing quote of the string
// literal starting at s[i] (which must be '"'), or -1 when the literal is not
// terminated.
func SkipString(s string, i int) int {
	if i >= len(s) || s[i] != '"' {
		return -1
	}
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case '"':
			return j + 1
		}
	}
	return -1
}

// MatchObject returns the index of the brace closing the object that opens at
// s[start], or -1 when the object is unbalanced. Braces inside string
// literals are ignored.
func MatchObject(s string, start int) int {
	if start >= len(s) || s[start] != '{' {
		return -1
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '"':
			end := SkipString(s, i)
			if end < 0 {
				return -1
			}
			i = end - 1
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// DecodeString decodes the string literal starting at s[i]. It returns the
// decoded value, the index just past the literal and whether the literal was
// terminated. For an unterminated literal the value decoded so far is
// returned.
func DecodeString(s string, i int) (string, int, bool) {
	if i >= len(s) || s[i] != '"' {
		return "", i, false
	}
	var b strings.Builder
	j := i + 1
	for j < len(s) {
		c := s[j]
		switch {
		case c == '"':
			return b.String(), j + 1, true
		case c != '\\':
			b.WriteByte(c)
			j++
			continue
		}
		if j+1 >= len(s) {
			return b.String(), len(s), false
		}
		esc := s[j+1]
		j += 2
		switch esc {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case '"', '\\', '/':
			b.WriteByte(esc)
		case 'u':
			r, n := decodeUnicode(s, j)
			b.WriteRune(r)
			j += n
		default:
			b.WriteByte(esc)
		}
	}
	return b.String(), len(s), false
}

// decodeUnicode decodes the four hex digits at s[j:] (and a trailing low
// surrogate escape when present). It returns the rune and the number of bytes
// consumed after the "\u" prefix.
func decodeUnicode(s string, j int) (rune, int) {
	hi, ok := hex4(s, j)
	if !ok {
		return utf8.RuneError, 0
	}
	if utf16.IsSurrogate(hi) && j+10 <= len(s) && s[j+4] == '\\' && s[j+5] == 'u' {
		if lo, ok := hex4(s, j+6); ok {
			if r := utf16.DecodeRune(hi, lo); r != utf8.RuneError {
				return r, 10
			}
		}
	}
	return hi, 4
}

func hex4(s string, j int) (rune, bool) {
	if j+4 > len(s) {
		return 0, false
	}
	v, err := strconv.ParseUint(s[j:j+4], 16, 32)
	if err != nil {
		return 0, false
	}
	return rune(v), true
}

// FindKey locates the first object key equal to key at any depth and returns
// the index of the first non-space byte of its value. Text inside string
// values never matches.
func FindKey(s, key string) (int, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] != '"' {
			continue
		}
		name, end, ok := DecodeString(s, i)
		if !ok {
			return 0, false
		}
		j := skipSpace(s, end)
		if j < len(s) && s[j] == ':' && name == key {
			return skipSpace(s, j+1), true
		}
		i = end - 1
	}
	return 0, false
}

// StringField returns the string value of the first key named key. ok is
// false when the key is absent, its value is not a string, or the string is
// truncated.
func StringField(s, key string) (string, bool) {
	v, found := FindKey(s, key)
	if !found || v >= len(s) || s[v] != '"' {
		return "", false
	}
	val, _, ok := DecodeString(s, v)
	return val, ok
}

// BoolField reports the boolean value of the first key named key. present is
// false when the key is missing or its value is not a boolean literal.
func BoolField(s, key string) (value bool, present bool) {
	v, found := FindKey(s, key)
	if !found {
		return false, false
	}
	switch {
	case strings.HasPrefix(s[v:], "true"):
		return true, true
	case strings.HasPrefix(s[v:], "false"):
		return false, true
	}
	return false, false
}

// ObjectField returns the raw text of the object value of the first key named
// key, braces included.
func ObjectField(s, key string) (string, bool) {
	v, found := FindKey(s, key)
	if !found || v >= len(s) || s[v] != '{' {
		return "", false
	}
	end := MatchObject(s, v)
	if end < 0 {
		return s[v:], false
	}
	return s[v : end+1], true
}

// HasKey reports whether key appears as an object key anywhere in s.
func HasKey(s, key string) bool {
	_, ok := FindKey(s, key)
	return ok
}

func skipSpace(s string, i int) int {
	for i < len(s) {
		switch s[i] {
		case ' ', '\t', '\r', '\n':
			i++
		default:
			return i
		}
	}
	return i
}
