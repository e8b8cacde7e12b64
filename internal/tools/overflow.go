package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
)

// Overflow defaults.
const (
	DefaultOverflowThreshold = 32 << 10
	DefaultOverflowPreview   = 4 << 10
)

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// Overflow spills oversized tool output to a file and keeps a preview.
type Overflow struct {
	Dir       string
	Threshold int
	Preview   int
	now       func() time.Time
}

// NewOverflow builds the overflow policy. An empty dir uses
// <os.TempDir()>/meow-output.
func NewOverflow(dir string, threshold, preview int) *Overflow {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "meow-output")
	}
	if threshold <= 0 {
		threshold = DefaultOverflowThreshold
	}
	if preview < 0 || preview > threshold {
		preview = DefaultOverflowPreview
	}
	return &Overflow{Dir: dir, Threshold: threshold, Preview: preview, now: time.Now}
}

// Apply returns output unchanged when within the threshold. Otherwise the
// full text is written to <dir>/<timestamp>-<tool>.txt and a preview with
// the file location is returned.
func (o *Overflow) Apply(tool, output string) (string, string, error) {
	if len(output) <= o.Threshold {
		return output, "", nil
	}
	if err := os.MkdirAll(o.Dir, 0o755); err != nil {
		return "", "", fmt.Errorf("overflow dir: %w", err)
	}
	name := fmt.Sprintf("%s-%s.txt", o.now().Format("20060102-150405.000000"), unsafeFileChars.ReplaceAllString(tool, "_"))
	path := filepath.Join(o.Dir, name)
	if err := os.WriteFile(path, []byte(output), 0o600); err != nil {
		return "", "", fmt.Errorf("overflow write: %w", err)
	}

	var b strings.Builder
	b.WriteString(previewPrefix(output, o.Preview))
	fmt.Fprintf(&b, "\n\n[output truncated: %s total (%d lines), full text saved to %s]\n",
		humanize.IBytes(uint64(len(output))), strings.Count(output, "\n")+1, path)
	fmt.Fprintf(&b, "Use FileRead on that path, or Shell with `sed -n 'START,ENDp' %s` or `grep`, to read specific parts.", path)
	return b.String(), path, nil
}

// previewPrefix cuts s to at most n bytes on a rune boundary.
func previewPrefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
