// Package wire defines the WebSocket protocol for streaming table windows.
package wire

import (
	"encoding/json"

	"github.com/matthewbaird/metaui/internal/layout"
	"github.com/matthewbaird/metaui/internal/view"
)

// Client message types.
const (
	TypeOpen       = "open"
	TypeWindow     = "window"
	TypeInvalidate = "invalidate"
	TypePing       = "ping"
)

// Server message types.
const (
	TypeSession = "session"
	TypeColumns = "columns"
	TypeRows    = "rows"
	TypeDone    = "done"
	TypeError   = "error"
	TypePong    = "pong"
)

// ── Client → Server messages ────────────────────────────────────────────────

// ClientMessage is the envelope for all client-to-server WebSocket messages.
type ClientMessage struct {
	Type string          `json:"type"`
	ID   string          `json:"id"` // Client-assigned request ID
	Data json.RawMessage `json:"data,omitempty"`
}

// OpenData is the payload for "open" messages.
type OpenData struct {
	ApplName string         `json:"appl_name"`
	Name     string         `json:"name"`
	Filters  map[string]any `json:"filters,omitempty"`
	Fields   []string       `json:"fields,omitempty"`
}

// WindowData is the payload for "window" messages. A zero limit asks for the
// configured page size.
type WindowData struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// ── Server → Client messages ────────────────────────────────────────────────

// ServerMessage is the envelope for all server-to-client WebSocket messages.
type ServerMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"` // Echoes client ID
	Data      any    `json:"data,omitempty"`
}

// SessionData carries session information.
type SessionData struct {
	SessionID string `json:"session_id"`
}

// ColumnsData describes the columns of an opened collection.
type ColumnsData struct {
	ApplName string          `json:"appl_name"`
	Name     string          `json:"name"`
	Columns  []layout.Column `json:"columns"`
	Actions  []string        `json:"actions,omitempty"`
}

// RowsData carries a batch of rendered rows starting at Offset.
type RowsData struct {
	Offset int        `json:"offset"`
	Rows   []view.Row `json:"rows"`
}

// DoneData signals completion of a request.
type DoneData struct {
	Offset   int    `json:"offset"`
	Count    int    `json:"count"`
	Total    int    `json:"total"`
	Cached   bool   `json:"cached"`
	Complete bool   `json:"complete"`
	Elapsed  string `json:"elapsed"`
}

// ErrorData carries an error message.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
