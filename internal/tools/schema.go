package tools

// Tool names as seen by the model.
const (
	ToolFileRead       = "FileRead"
	ToolFileWrite      = "FileWrite"
	ToolFileAppend     = "FileAppend"
	ToolFileExists     = "FileExists"
	ToolListDir        = "ListDir"
	ToolFileCopy       = "FileCopy"
	ToolFileMove       = "FileMove"
	ToolFileRename     = "FileRename"
	ToolCd             = "Cd"
	ToolPwd            = "Pwd"
	ToolSearch         = "Search"
	ToolHTTPGet        = "HttpGet"
	ToolShell          = "Shell"
	ToolGitStatus      = "GitStatus"
	ToolGitDiff        = "GitDiff"
	ToolGitLog         = "GitLog"
	ToolGitAdd         = "GitAdd"
	ToolGitCommit      = "GitCommit"
	ToolGitPush        = "GitPush"
	ToolGitPull        = "GitPull"
	ToolGitBranch      = "GitBranch"
	ToolGitCheckout    = "GitCheckout"
	ToolIssueList      = "IssueList"
	ToolIssueView      = "IssueView"
	ToolIssueCreate    = "IssueCreate"
	ToolCompactContext = "CompactContext"
)

// Schema describes a tool for the system prompt and the schema endpoint.
type Schema struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Parameters  []SchemaField `json:"parameters"`
}

// SchemaField describes a single parameter.
type SchemaField struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
}

func pathField(desc string) SchemaField {
	return SchemaField{Name: "path", Type: "string", Description: desc, Required: true}
}

var (
	srcDst = []SchemaField{
		{Name: "src", Type: "string", Description: "Source path", Required: true},
		{Name: "dst", Type: "string", Description: "Destination path", Required: true},
	}
	remoteBranch = []SchemaField{
		{Name: "remote", Type: "string", Description: "Remote name (default origin)"},
		{Name: "branch", Type: "string", Description: "Branch name"},
	}
)

var fsReadSchemas = []Schema{
	{Name: ToolFileRead, Description: "Read a text file (up to 256KB)", Parameters: []SchemaField{pathField("File path")}},
	{Name: ToolFileExists, Description: "Check whether a path exists; returns true or false", Parameters: []SchemaField{pathField("Path to check")}},
	{Name: ToolListDir, Description: "List a directory; directories end with /", Parameters: []SchemaField{
		{Name: "path", Type: "string", Description: "Directory (default current directory)"},
	}},
	{Name: ToolCd, Description: "Change the working directory", Parameters: []SchemaField{pathField("Target directory")}},
	{Name: ToolPwd, Description: "Print the working directory", Parameters: []SchemaField{}},
	{Name: ToolSearch, Description: "Find lines containing a substring under a directory (50 results max)", Parameters: []SchemaField{
		{Name: "pattern", Type: "string", Description: "Substring to look for", Required: true},
		{Name: "path", Type: "string", Description: "Directory (default current directory)"},
	}},
}

var fsWriteSchemas = []Schema{
	{Name: ToolFileWrite, Description: "Create or overwrite a file", Parameters: []SchemaField{
		pathField("File path"),
		{Name: "content", Type: "string", Required: true},
	}},
	{Name: ToolFileAppend, Description: "Append to a file, creating it if missing", Parameters: []SchemaField{
		pathField("File path"),
		{Name: "content", Type: "string", Required: true},
	}},
	{Name: ToolFileCopy, Description: "Copy a file", Parameters: srcDst},
	{Name: ToolFileMove, Description: "Copy a file to a new path; the source is NOT deleted", Parameters: srcDst},
	{Name: ToolFileRename, Description: "Same as FileMove; the source is NOT deleted", Parameters: srcDst},
}

var shellSchemas = []Schema{
	{Name: ToolShell, Description: "Run a command (no shell features such as pipes; 30s and 1MB output limits)", Parameters: []SchemaField{
		{Name: "cmd", Type: "string", Description: "Command line, quoted like a POSIX shell", Required: true},
	}},
}

var fetchSchemas = []Schema{
	{Name: ToolHTTPGet, Description: "HTTP(S) GET a URL and return its text body (64KB max)", Parameters: []SchemaField{
		{Name: "url", Type: "string", Required: true},
	}},
}

var gitSchemas = []Schema{
	{Name: ToolGitStatus, Description: "git status --short --branch", Parameters: []SchemaField{}},
	{Name: ToolGitDiff, Description: "Show a diff", Parameters: []SchemaField{
		{Name: "path", Type: "string", Description: "Limit to a path"},
		{Name: "staged", Type: "boolean", Description: "Show staged changes"},
	}},
	{Name: ToolGitLog, Description: "Recent commits, one per line", Parameters: []SchemaField{
		{Name: "limit", Type: "integer", Description: "Number of commits (default 20)"},
	}},
	{Name: ToolGitAdd, Description: "Stage paths", Parameters: []SchemaField{
		{Name: "paths", Type: "array", Description: "Paths to stage (default all)"},
	}},
	{Name: ToolGitCommit, Description: "Commit staged changes", Parameters: []SchemaField{
		{Name: "message", Type: "string", Required: true},
	}},
	{Name: ToolGitPush, Description: "Push to a remote; force pushes are always rejected", Parameters: remoteBranch},
	{Name: ToolGitPull, Description: "Fast-forward pull", Parameters: remoteBranch},
	{Name: ToolGitBranch, Description: "List branches, or create one", Parameters: []SchemaField{
		{Name: "name", Type: "string", Description: "New branch name"},
	}},
	{Name: ToolGitCheckout, Description: "Switch branches", Parameters: []SchemaField{
		{Name: "ref", Type: "string", Required: true},
		{Name: "create", Type: "boolean", Description: "Create the branch first"},
	}},
	{Name: ToolIssueList, Description: "List GitHub issues", Parameters: []SchemaField{
		{Name: "state", Type: "string", Enum: []string{"open", "closed", "all"}},
		{Name: "limit", Type: "integer"},
	}},
	{Name: ToolIssueView, Description: "Show a GitHub issue", Parameters: []SchemaField{
		{Name: "number", Type: "integer", Required: true},
	}},
	{Name: ToolIssueCreate, Description: "Open a GitHub issue", Parameters: []SchemaField{
		{Name: "title", Type: "string", Required: true},
		{Name: "body", Type: "string"},
	}},
}

// CompactSchema describes the context compaction tool, which the agent loop
// handles itself.
var CompactSchema = Schema{
	Name:        ToolCompactContext,
	Description: "Replace the conversation with a summary to free context; ends the turn",
	Parameters: []SchemaField{
		{Name: "summary", Type: "string", Description: "Everything worth remembering so far", Required: true},
	},
}

// Schemas lists the tools enabled in this registry, followed by
// CompactContext.
func (r *Registry) Schemas() []Schema {
	var out []Schema
	if r.FS != nil {
		out = append(out, fsReadSchemas...)
		if r.FS.allowWrite {
			out = append(out, fsWriteSchemas...)
		}
	}
	if r.Terminal != nil && r.Terminal.AllowExecution {
		out = append(out, shellSchemas...)
	}
	if r.Fetch != nil {
		out = append(out, fetchSchemas...)
	}
	if r.Git != nil && r.Git.AllowExec {
		out = append(out, gitSchemas...)
	}
	return append(out, CompactSchema)
}
