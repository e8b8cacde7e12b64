package agent

import (
	"context"
	"time"

	"github.com/netoneko/meow/internal/llm"
	"github.com/netoneko/meow/internal/llm/stream"
	"github.com/netoneko/meow/internal/tools"
)

// Turn end reasons.
const (
	ReasonComplete      = "complete"
	ReasonCompacted     = "compacted"
	ReasonMaxIterations = "max_iterations"
	ReasonCancelled     = "cancelled"
	ReasonError         = "error"
)

// Streamer sends one completion request.
type Streamer interface {
	Send(ctx context.Context, req stream.Request) (llm.StreamOutcome, error)
}

// Dispatcher executes tool-call envelopes.
type Dispatcher interface {
	DispatchEnvelope(ctx context.Context, raw string) (string, tools.Result, bool)
	Registry() *tools.Registry
}

// Recorder receives turn telemetry.
type Recorder interface {
	RecordTurn(reason string, iterations int)
}

// ToolEvent describes one dispatched tool call.
type ToolEvent struct {
	Tool   string
	Call   string
	Result tools.Result
}

// Hooks are side-channel notifications for presentation layers. Any of
// them may be nil.
type Hooks struct {
	OnStatus func(phase string, elapsed time.Duration)
	OnDelta  func(text string)
	OnTool   func(ev ToolEvent)
}

// TurnResult summarizes one user turn.
type TurnResult struct {
	Success    bool
	Reason     string
	Text       string // final assistant text, continuation fragments joined
	Iterations int
	ToolCalls  int
	Stats      llm.StreamStats // of the last completed stream
}
