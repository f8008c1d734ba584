package client

// Workspace represents one running workspace server as reported by the
// daemon.
type Workspace struct {
	Path string `json:"path"`
	Port int    `json:"port"`
}

// StartResponse is the daemon's answer to a start request.
type StartResponse struct {
	Path string `json:"path"`
	Port int    `json:"port"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
