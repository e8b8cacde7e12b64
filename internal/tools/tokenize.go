package tools

import (
	"github.com/kballard/go-shellquote"

	"github.com/netoneko/meow/internal/llm"
)

// Tokenize splits a command line into words with POSIX shell quoting rules.
// Unterminated quotes or a trailing escape fail with KindParseError.
func Tokenize(line string) ([]string, error) {
	words, err := shellquote.Split(line)
	if err != nil {
		return nil, llm.NewError(llm.KindParseError, "tokenize", err)
	}
	return words, nil
}

// commandLine renders argv as a line Tokenize splits back into argv.
func commandLine(name string, args ...string) string {
	return shellquote.Join(append([]string{name}, args...)...)
}
