package tools

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/netoneko/meow/internal/llm"
)

// DefaultFileSizeCap bounds reads and copies.
const DefaultFileSizeCap = 256 << 10

// Filesystem provides file operations confined by a PathGuard.
type Filesystem struct {
	guard      *PathGuard
	allowWrite bool
	sizeCap    int
}

// NewFilesystem builds a filesystem tool with write permissions controlled by allowWrite.
func NewFilesystem(guard *PathGuard, allowWrite bool, sizeCap int) *Filesystem {
	if sizeCap <= 0 {
		sizeCap = DefaultFileSizeCap
	}
	return &Filesystem{guard: guard, allowWrite: allowWrite, sizeCap: sizeCap}
}

// ReadFile returns file contents. Oversized, binary and non-UTF-8 files are
// rejected.
func (f *Filesystem) ReadFile(path string) (string, error) {
	resolved, err := f.guard.Resolve(path)
	if err != nil {
		return "", err
	}
	data, err := f.readCapped(resolved)
	if err != nil {
		return "", err
	}
	if bytes.IndexByte(data, 0) >= 0 || !utf8.Valid(data) {
		return "", llm.Errorf(llm.KindParseError, "read", "%s is not a text file", path)
	}
	return string(data), nil
}

func (f *Filesystem) readCapped(resolved string) ([]byte, error) {
	file, err := os.Open(resolved)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", resolved)
	}
	if info.Size() > int64(f.sizeCap) {
		return nil, llm.Errorf(llm.KindResourceExceeded, "read", "%s is %d bytes, limit is %d", resolved, info.Size(), f.sizeCap)
	}
	data, err := io.ReadAll(io.LimitReader(file, int64(f.sizeCap)+1))
	if err != nil {
		return nil, err
	}
	if len(data) > f.sizeCap {
		return nil, llm.Errorf(llm.KindResourceExceeded, "read", "%s exceeds %d bytes", resolved, f.sizeCap)
	}
	return data, nil
}

// WriteFile creates or truncates a file, creating parent directories.
func (f *Filesystem) WriteFile(path string, content string) error {
	resolved, err := f.writable(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return err
	}
	return os.WriteFile(resolved, []byte(content), 0o644)
}

// AppendFile appends to a file, creating it when missing.
func (f *Filesystem) AppendFile(path string, content string) error {
	resolved, err := f.writable(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(resolved, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := file.WriteString(content); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func (f *Filesystem) writable(path string) (string, error) {
	if !f.allowWrite {
		return "", llm.Errorf(llm.KindAccessDenied, "write", "write is disabled by configuration")
	}
	return f.guard.Resolve(path)
}

// Exists reports whether a path exists inside the guard.
func (f *Filesystem) Exists(path string) (bool, error) {
	resolved, err := f.guard.Resolve(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(resolved)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// ListDir lists a directory, sorted, with directories suffixed by "/".
func (f *Filesystem) ListDir(path string) ([]string, error) {
	if path == "" {
		path = "."
	}
	resolved, err := f.guard.Resolve(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// CopyFile reads src fully, within the size cap, then writes dst.
func (f *Filesystem) CopyFile(src, dst string) (int, error) {
	from, err := f.guard.Resolve(src)
	if err != nil {
		return 0, err
	}
	to, err := f.writable(dst)
	if err != nil {
		return 0, err
	}
	data, err := f.readCapped(from)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return 0, err
	}
	if err := os.WriteFile(to, data, 0o644); err != nil {
		return 0, err
	}
	return len(data), nil
}

// MoveFile copies src to dst and leaves src in place. The sandbox exposes no
// delete primitive, so callers must treat a move as a copy.
func (f *Filesystem) MoveFile(src, dst string) (int, error) {
	return f.CopyFile(src, dst)
}

// Search looks for pattern occurrences in files under root.
func (f *Filesystem) Search(root string, pattern string, maxResults int) ([]SearchResult, error) {
	if pattern == "" {
		return nil, llm.Errorf(llm.KindParseError, "search", "pattern is required")
	}
	if maxResults <= 0 {
		maxResults = 50
	}
	if root == "" {
		root = "."
	}

	resolved, err := f.guard.Resolve(root)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, maxResults)
	err = filepath.WalkDir(resolved, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() && path != resolved {
				return filepath.SkipDir
			}
			return nil
		}
		if len(results) >= maxResults {
			return filepath.SkipAll
		}
		if d.IsDir() {
			if path != resolved && skipSearchDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, _ := filepath.Rel(f.guard.Cwd(), path)

		file, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer file.Close()

		scanner := bufio.NewScanner(file)
		lineNum := 1
		for scanner.Scan() {
			if strings.Contains(scanner.Text(), pattern) {
				results = append(results, SearchResult{
					Path:    rel,
					Line:    lineNum,
					Snippet: strings.TrimSpace(scanner.Text()),
				})
				if len(results) >= maxResults {
					return filepath.SkipAll
				}
			}
			lineNum++
		}
		return nil
	})
	if err != nil {
		return results, err
	}
	return results, nil
}

// SearchResult represents a single pattern match.
type SearchResult struct {
	Path    string
	Line    int
	Snippet string
}

func (r SearchResult) String() string {
	return fmt.Sprintf("%s:%d: %s", r.Path, r.Line, r.Snippet)
}

func skipSearchDir(name string) bool {
	switch strings.ToLower(name) {
	case ".git", "node_modules", ".idea", ".vscode", "vendor", ".cache":
		return true
	default:
		return false
	}
}
