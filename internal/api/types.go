package api

// HealthResponse represents the health check payload
type HealthResponse struct {
	Status      string `json:"status"`
	Service     string `json:"service"`
	Sessions    int    `json:"sessions"`
	Transcriber string `json:"transcriber"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
