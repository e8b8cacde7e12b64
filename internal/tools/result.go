package tools

import (
	"fmt"

	"github.com/netoneko/meow/internal/llm"
)

// Result is the outcome of one tool invocation as fed back to the model.
type Result struct {
	Success      bool
	Output       string
	Kind         llm.ErrorKind // set on failure when classified
	OverflowPath string        // full output location when it was spilled to disk
}

func okResult(output string) Result {
	return Result{Success: true, Output: output}
}

func failResult(err error) Result {
	return Result{Kind: llm.KindOf(err), Output: err.Error()}
}

func failResultf(kind llm.ErrorKind, format string, args ...interface{}) Result {
	return Result{Kind: kind, Output: fmt.Sprintf(format, args...)}
}

// Status renders the outcome as ok or failed.
func (r Result) Status() string {
	if r.Success {
		return "ok"
	}
	return "failed"
}
