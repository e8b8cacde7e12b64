package rpc

// Event types streamed back to clients.
const (
	EventStatus  = "status"
	EventDelta   = "delta"
	EventTool    = "tool"
	EventMessage = "message"
	EventDone    = "done"
	EventError   = "error"
)

// RunTurnRequest starts one agent turn.
type RunTurnRequest struct {
	SessionID     string `json:"session_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Provider      string `json:"provider,omitempty"`
	Model         string `json:"model,omitempty"`
	Prompt        string `json:"prompt"`
}

// Event streams back progress from the daemon.
type Event struct {
	Type          string `json:"type"` // status|delta|tool|message|done|error
	SessionID     string `json:"session_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`

	Phase     string `json:"phase,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
	Delta     string `json:"delta,omitempty"`

	ToolName     string `json:"tool_name,omitempty"`
	ToolSuccess  bool   `json:"tool_success,omitempty"`
	ToolOutput   string `json:"tool_output,omitempty"`
	OverflowPath string `json:"overflow_path,omitempty"`

	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`

	Done       bool   `json:"done,omitempty"`
	Success    bool   `json:"success,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Iterations int    `json:"iterations,omitempty"`
	ToolCalls  int    `json:"tool_calls,omitempty"`
	TTFTMs     int64  `json:"ttft_ms,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Bytes      int    `json:"bytes,omitempty"`
}

// RunTurnStreamRequest is the bidirectional stream payload for Connect RPC.
// The first message must contain the Run request; subsequent messages can carry control signals.
type RunTurnStreamRequest struct {
	Run           *RunTurnRequest `json:"run,omitempty"`
	Cancel        bool            `json:"cancel,omitempty"`
	SessionID     string          `json:"session_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// CancelRequest aborts the running turn of a session.
type CancelRequest struct {
	SessionID string `json:"session_id"`
}
