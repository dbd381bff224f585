package websocket

// WriteData is a single outbound frame queued for writePump
type WriteData struct {
	Type    int
	Payload []byte
}

// Close frame reasons sent by the server
const (
	closeReasonShutdown = "server shutting down"
	closeReasonInternal = "failed to start session"
)
