package tools

// Registry exposes shared tool instances. Nil members are disabled.
type Registry struct {
	FS       *Filesystem
	Terminal *Terminal
	Git      *GitTool
	Fetch    *Fetcher
}

// NewRegistry builds a registry from instantiated tools.
func NewRegistry(fs *Filesystem, term *Terminal, git *GitTool, fetch *Fetcher) *Registry {
	return &Registry{FS: fs, Terminal: term, Git: git, Fetch: fetch}
}

// Schema returns schema for a given tool name if present.
func (r *Registry) Schema(name string) (Schema, bool) {
	for _, s := range r.Schemas() {
		if s.Name == name {
			return s, true
		}
	}
	return Schema{}, false
}
