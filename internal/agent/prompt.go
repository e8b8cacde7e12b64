package agent

import (
	"fmt"
	"strings"

	"github.com/netoneko/meow/internal/config"
	"github.com/netoneko/meow/internal/tools"
)

const defaultBasePrompt = `You are Meow, an operations agent with access to a sandboxed machine.
Work step by step. Use tools to inspect before you change anything and be concise in answers.`

// BuildSystemPrompt renders the base prompt followed by the tool catalogue
// and the call format.
func BuildSystemPrompt(cfg config.AgentConfig, schemas []tools.Schema) string {
	base := strings.TrimSpace(cfg.SystemPrompt)
	if base == "" {
		base = defaultBasePrompt
	}

	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\n## Tools\n\n")
	for _, s := range schemas {
		writeSchema(&b, s)
	}
	b.WriteString(`
## Calling tools

To call a tool, write a JSON object inside a ` + "```json" + ` fence:

` + "```json" + `
{"command":{"tool":"FileRead","args":{"path":"README.md"}}}
` + "```" + `

You may emit several calls in one response; they run in order. After your
calls the system replies with one "` + toolResultMarker + ` <tool> (ok|failed)" message
per call. Never write tool results yourself. When the conversation grows
long, call CompactContext with a summary of everything that matters so far.
When you are done, answer without any tool call.`)
	return b.String()
}

func writeSchema(b *strings.Builder, s tools.Schema) {
	fmt.Fprintf(b, "- %s: %s\n", s.Name, s.Description)
	for _, p := range s.Parameters {
		req := "optional"
		if p.Required {
			req = "required"
		}
		fmt.Fprintf(b, "    - %s (%s, %s)", p.Name, p.Type, req)
		if p.Description != "" {
			fmt.Fprintf(b, ": %s", p.Description)
		}
		if len(p.Enum) > 0 {
			fmt.Fprintf(b, " [%s]", strings.Join(p.Enum, "|"))
		}
		b.WriteString("\n")
	}
}

// formatToolResult renders a dispatched call for the model.
func formatToolResult(tool string, res tools.Result) string {
	return fmt.Sprintf("%s %s (%s)\n%s", toolResultMarker, tool, res.Status(), res.Output)
}
