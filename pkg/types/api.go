// Package types holds the JSON payloads of the genied HTTP API.
package types

import "time"

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: message is required
	Error string `json:"error" example:"message is required"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// MessageRequest is the body of POST /sessions/{id}/messages.
type MessageRequest struct {
	// User message text.
	// example: What does the document say about revenue?
	Message string `json:"message" example:"What does the document say about revenue?"`
}

// MessageResponse is returned for non-streaming message requests.
type MessageResponse struct {
	Reply   string  `json:"reply"`
	Metrics Metrics `json:"metrics"`
}

// TokenEvent is one NDJSON line carrying a streamed token.
type TokenEvent struct {
	Token string `json:"token"`
}

// DoneEvent is the final NDJSON line of a streamed reply.
type DoneEvent struct {
	Done    bool    `json:"done"`
	Reply   string  `json:"reply"`
	Metrics Metrics `json:"metrics"`
	// Error is set when generation failed; the exchange is not recorded.
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
}

// Metrics summarizes one generation.
type Metrics struct {
	// example: persistent
	Mode            string  `json:"mode" example:"persistent"`
	Tokens          int     `json:"tokens" example:"42"`
	ElapsedMS       int64   `json:"elapsed_ms" example:"1800"`
	TTFTMS          int64   `json:"ttft_ms" example:"240"`
	TokensPerSecond float64 `json:"tokens_per_second" example:"23.3"`
}

// GroundingRequest is the body of PUT /sessions/{id}/grounding. Either Text
// or Path must be set; Path requires server-side file extraction.
type GroundingRequest struct {
	// example: document
	Kind   string `json:"kind" example:"document"`
	Source string `json:"source,omitempty" example:"report.pdf"`
	Text   string `json:"text,omitempty"`
	Path   string `json:"path,omitempty"`
}

// Grounding describes the active grounding of a session.
type Grounding struct {
	Kind      string `json:"kind"`
	Source    string `json:"source"`
	Chars     int    `json:"chars"`
	Truncated bool   `json:"truncated"`
}

// Turn is one transcript entry.
type Turn struct {
	Role    string `json:"role"`
	Text    string `json:"text"`
	Ordinal int    `json:"ordinal"`
}

// SessionSummary is one entry of GET /sessions.
type SessionSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Turns     int       `json:"turns"`
}

// SessionsResponse wraps GET /sessions.
type SessionsResponse struct {
	Sessions []SessionSummary `json:"sessions"`
}

// SessionResponse is returned by GET /sessions/{id} and POST /sessions.
type SessionResponse struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Turns     []Turn     `json:"turns"`
	Window    []Turn     `json:"window"`
	Grounding *Grounding `json:"grounding,omitempty"`
}

// StatusResponse is returned by GET /status and POST /engine/restart.
type StatusResponse struct {
	// example: ready
	State        string `json:"state" example:"ready"`
	Pid          int    `json:"pid,omitempty" example:"12345"`
	Degradations uint64 `json:"degradations"`
	Generations  uint64 `json:"generations"`
	LastError    string `json:"last_error,omitempty"`
}
