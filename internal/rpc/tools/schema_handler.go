package tools

import (
	"encoding/json"
	"net/http"

	"github.com/netoneko/meow/internal/tools"
)

// SchemaHandler serves the schemas of the enabled tools as JSON.
type SchemaHandler struct {
	Registry *tools.Registry
}

type schemaResponse struct {
	Tools    []tools.Schema `json:"tools"`
	Envelope string         `json:"envelope"`
}

// ServeHTTP renders schemas.
func (h SchemaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(schemaResponse{
		Tools:    h.Registry.Schemas(),
		Envelope: `{"command":{"tool":"<Name>","args":{...}}}`,
	})
}
