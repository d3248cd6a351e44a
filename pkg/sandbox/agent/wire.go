package agent

// Wire types shared by the Runtime client and the preview agent server.

// WriteFilesRequest is the body of PUT /files.
// Dir is relative to the agent root; empty writes into the root.
type WriteFilesRequest struct {
	Dir   string        `json:"dir,omitempty"`
	Files []FilePayload `json:"files"`
}

// FilePayload carries one file. Content is base64 encoded on the wire.
type FilePayload struct {
	Path    string `json:"path"`
	Content []byte `json:"content"`
}

// CreateSessionRequest is the body of POST /sessions. Commands in the
// session run in Dir, relative to the agent root.
type CreateSessionRequest struct {
	ID  string `json:"id"`
	Dir string `json:"dir,omitempty"`
}

// ExecRequest is the body of POST /sessions/{id}/exec.
type ExecRequest struct {
	Command string `json:"command"`
	Async   bool   `json:"async,omitempty"`
}

// ExecResponse reports a started or finished command.
type ExecResponse struct {
	CommandID string `json:"command_id"`
	ExitCode  *int   `json:"exit_code,omitempty"`
	Output    string `json:"output,omitempty"`
}

// LogsResponse is the body of GET /sessions/{id}/commands/{cmd}/logs.
type LogsResponse struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode *int   `json:"exit_code,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Running  int    `json:"running"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}
