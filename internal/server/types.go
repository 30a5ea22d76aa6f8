package server

import "strings"

// ChatMessage is the JSON payload exchanged in the chat room. Clients send
// {"content": "..."}; the server adds From and, for presence notices, Event.
type ChatMessage struct {
	Content string `json:"content,omitempty"`
	From    string `json:"from,omitempty"`
	Event   string `json:"event,omitempty"`
}

// ClockTick is pushed to every listener of the clock room.
type ClockTick struct {
	CurrentTime int64 `json:"current_time"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
