package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/netoneko/meow/internal/agent"
	"github.com/netoneko/meow/internal/rpc"
	"github.com/netoneko/meow/internal/tools"
)

// renderer prints turn progress. Deltas go to out as they arrive; status
// and tool lines go to status.
type renderer struct {
	out    io.Writer
	status io.Writer

	midLine  bool
	sawDelta bool
}

func newRenderer(out, status io.Writer) *renderer {
	return &renderer{out: out, status: status}
}

func (r *renderer) delta(text string) {
	r.sawDelta = true
	fmt.Fprint(r.out, text)
	r.midLine = !strings.HasSuffix(text, "\n")
}

func (r *renderer) breakLine() {
	if r.midLine {
		fmt.Fprintln(r.out)
		r.midLine = false
	}
}

func (r *renderer) phase(phase string, elapsed time.Duration) {
	if phase == "streaming" {
		return
	}
	r.breakLine()
	fmt.Fprintf(r.status, "[%s %s]\n", phase, elapsed.Round(100*time.Millisecond))
}

func (r *renderer) tool(name string, success bool, output string) {
	r.breakLine()
	status := "ok"
	if !success {
		status = "failed"
	}
	fmt.Fprintf(r.status, "[tool %s %s] %s\n", name, status, firstLine(output))
}

func (r *renderer) done(success bool, reason string, iterations, toolCalls, bytes int, ttft, dur time.Duration) {
	r.breakLine()
	label := reason
	if !success {
		label = "stopped: " + reason
	}
	fmt.Fprintf(r.status, "[%s, %d %s, %d %s, %s, ttft %s, %s]\n",
		label,
		iterations, plural(iterations, "iteration"),
		toolCalls, plural(toolCalls, "tool call"),
		humanize.Bytes(uint64(bytes)),
		ttft.Round(time.Millisecond),
		dur.Round(time.Millisecond),
	)
}

// event renders a daemon event; error events become errors.
func (r *renderer) event(evt rpc.Event) error {
	switch evt.Type {
	case rpc.EventStatus:
		r.phase(evt.Phase, time.Duration(evt.ElapsedMs)*time.Millisecond)
	case rpc.EventDelta:
		r.delta(evt.Delta)
	case rpc.EventTool:
		r.tool(evt.ToolName, evt.ToolSuccess, evt.ToolOutput)
	case rpc.EventMessage:
		if !r.sawDelta {
			fmt.Fprintln(r.out, evt.Message)
		}
	case rpc.EventDone:
		r.done(evt.Success, evt.Reason, evt.Iterations, evt.ToolCalls, evt.Bytes,
			time.Duration(evt.TTFTMs)*time.Millisecond, time.Duration(evt.DurationMs)*time.Millisecond)
	case rpc.EventError:
		r.breakLine()
		if evt.ErrorKind != "" {
			return fmt.Errorf("daemon error (%s): %s", evt.ErrorKind, evt.Error)
		}
		return fmt.Errorf("daemon error: %s", evt.Error)
	}
	return nil
}

// hooks adapts the renderer to a local agent session.
func (r *renderer) hooks() agent.Hooks {
	return agent.Hooks{
		OnStatus: r.phase,
		OnDelta:  r.delta,
		OnTool: func(ev agent.ToolEvent) {
			r.tool(ev.Tool, ev.Result.Success, toolSummary(ev.Result))
		},
	}
}

func (r *renderer) result(res agent.TurnResult) {
	r.done(res.Success, res.Reason, res.Iterations, res.ToolCalls, res.Stats.Bytes, res.Stats.TimeToFirstToken, res.Stats.Duration)
}

func toolSummary(res tools.Result) string {
	if res.OverflowPath != "" {
		return "output saved to " + res.OverflowPath
	}
	return res.Output
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
