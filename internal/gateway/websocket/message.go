// Package websocket serves interactive notebook sessions over WebSocket.
// Each connection owns one session state, kept in memory for the lifetime
// of the connection.
package websocket

import (
	"encoding/json"

	v1 "nbexec/api/v1"
)

// Message is one frame in either direction.
type Message struct {
	Type string `json:"type"`
	// ID correlates a reply with the request that caused it.
	ID string `json:"id,omitempty"`

	// execute
	Code           string `json:"code,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	InputURL       string `json:"input_url,omitempty"`
	OutputURL      string `json:"output_url,omitempty"`
	InputTypeHint  string `json:"input_type_hint,omitempty"`

	Result *v1.ExecuteResponse `json:"result,omitempty"`
	// State is the session state after the call, always an object when set.
	State json.RawMessage `json:"state,omitempty"`
	Error *ErrorBody      `json:"error,omitempty"`
	// Message carries broadcast notices such as reload.
	Message string `json:"message,omitempty"`
}

// ErrorBody mirrors the HTTP error body.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Message types.
const (
	TypeExecute = "execute"
	TypeState   = "state"
	TypeReset   = "reset"
	TypePing    = "ping"

	TypeResult = "result"
	TypePong   = "pong"
	TypeError  = "error"
	TypeReload = "reload"
)

// Error codes specific to the session channel.
const (
	ErrCodeInvalidMessage = "INVALID_MESSAGE"
	ErrCodeUnknownType    = "UNKNOWN_TYPE"
	ErrCodeBusy           = "SESSION_BUSY"
)

func encode(msg Message) []byte {
	data, _ := json.Marshal(msg)
	return data
}

func errorMessage(id, code, message string) Message {
	return Message{Type: TypeError, ID: id, Error: &ErrorBody{Code: code, Message: message}}
}
