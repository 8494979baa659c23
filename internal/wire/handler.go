package wire

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/matthewbaird/metaui/internal/session"
	"github.com/matthewbaird/metaui/internal/view"
)

const (
	// rowBatchSize controls how many rows are sent per "rows" message.
	rowBatchSize = 50
	// defaultPageSize applies when neither the client nor the handler sets one.
	defaultPageSize = 50
)

// Handler manages WebSocket connections for table viewers.
type Handler struct {
	sessions *session.Manager
	views    *view.Service
	pageSize int
	log      *slog.Logger
}

// NewHandler creates a WebSocket handler with all dependencies.
func NewHandler(sessions *session.Manager, views *view.Service, pageSize int, log *slog.Logger) *Handler {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		sessions: sessions,
		views:    views,
		pageSize: pageSize,
		log:      log.With("module", "wire"),
	}
}

// ServeHTTP upgrades to WebSocket and runs the message loop.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn("websocket accept", "error", err)
		return
	}
	defer conn.CloseNow()

	sess := h.sessions.Create()
	defer h.sessions.Remove(sess.ID)
	ctx := r.Context()
	log := h.log.With("session", sess.ID)

	h.send(ctx, conn, ServerMessage{
		Type: TypeSession,
		Data: SessionData{SessionID: sess.ID},
	})

	for {
		var msg ClientMessage
		err := wsjson.Read(ctx, conn, &msg)
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				log.Debug("connection closed", "status", status)
			}
			return
		}
		sess.Touch(time.Now())

		switch msg.Type {
		case TypeOpen:
			h.handleOpen(ctx, conn, sess, msg)
		case TypeWindow:
			h.handleWindow(ctx, conn, sess, msg)
		case TypeInvalidate:
			h.handleInvalidate(ctx, conn, sess, msg)
		case TypePing:
			h.send(ctx, conn, ServerMessage{Type: TypePong, RequestID: msg.ID})
		default:
			h.sendError(ctx, conn, msg.ID, "unknown_type", fmt.Sprintf("unknown message type: %s", msg.Type))
		}
	}
}

func (h *Handler) handleOpen(ctx context.Context, conn *websocket.Conn, sess *session.Session, msg ClientMessage) {
	var data OpenData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		h.sendError(ctx, conn, msg.ID, "invalid_data", "invalid open data")
		return
	}
	if data.ApplName == "" || data.Name == "" {
		h.sendError(ctx, conn, msg.ID, "invalid_data", "appl_name and name are required")
		return
	}

	doc, err := h.views.Metadata(ctx, data.ApplName, data.Name)
	if err != nil {
		h.sendViewError(ctx, conn, msg.ID, err)
		return
	}
	cols, err := h.views.Columns(ctx, data.ApplName, data.Name, data.Fields)
	if err != nil {
		h.sendViewError(ctx, conn, msg.ID, err)
		return
	}

	sess.Open(session.Target{
		ApplName: data.ApplName,
		Name:     data.Name,
		Filters:  data.Filters,
		Fields:   data.Fields,
	}, time.Now())

	h.send(ctx, conn, ServerMessage{
		Type:      TypeColumns,
		RequestID: msg.ID,
		Data: ColumnsData{
			ApplName: data.ApplName,
			Name:     data.Name,
			Columns:  cols,
			Actions:  doc.ExtensionRegistry().Filter(doc.Allows).Actions(),
		},
	})
}

func (h *Handler) handleWindow(ctx context.Context, conn *websocket.Conn, sess *session.Session, msg ClientMessage) {
	start := time.Now()

	data := WindowData{Limit: h.pageSize}
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			h.sendError(ctx, conn, msg.ID, "invalid_data", "invalid window data")
			return
		}
	}
	if data.Limit <= 0 {
		data.Limit = h.pageSize
	}
	if data.Offset < 0 {
		h.sendError(ctx, conn, msg.ID, "invalid_data", "offset must not be negative")
		return
	}

	target := sess.Target()
	if target == nil {
		h.sendError(ctx, conn, msg.ID, "nothing_open", session.ErrNothingOpen.Error())
		return
	}

	table, err := h.views.Window(ctx, sess.Store(), view.Query{
		ApplName: target.ApplName,
		Name:     target.Name,
		Fields:   target.Fields,
		Filters:  target.Filters,
		Offset:   data.Offset,
		Limit:    data.Limit,
	})
	if err != nil {
		h.sendViewError(ctx, conn, msg.ID, err)
		return
	}

	for i := 0; i < len(table.Rows); i += rowBatchSize {
		end := min(i+rowBatchSize, len(table.Rows))
		h.send(ctx, conn, ServerMessage{
			Type:      TypeRows,
			RequestID: msg.ID,
			Data:      RowsData{Offset: table.Offset + i, Rows: table.Rows[i:end]},
		})
	}

	h.send(ctx, conn, ServerMessage{
		Type:      TypeDone,
		RequestID: msg.ID,
		Data: DoneData{
			Offset:   table.Offset,
			Count:    len(table.Rows),
			Total:    table.Total,
			Cached:   table.Cached,
			Complete: table.Complete,
			Elapsed:  time.Since(start).String(),
		},
	})
}

func (h *Handler) handleInvalidate(ctx context.Context, conn *websocket.Conn, sess *session.Session, msg ClientMessage) {
	entry, _, err := sess.Entry()
	if err != nil {
		if errors.Is(err, session.ErrNothingOpen) {
			h.sendError(ctx, conn, msg.ID, "nothing_open", err.Error())
			return
		}
		h.sendError(ctx, conn, msg.ID, "invalid_data", err.Error())
		return
	}
	entry.Invalidate()
	h.send(ctx, conn, ServerMessage{Type: TypeDone, RequestID: msg.ID})
}

func (h *Handler) send(ctx context.Context, conn *websocket.Conn, msg ServerMessage) {
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		h.log.Warn("write error", "type", msg.Type, "error", err)
	}
}

func (h *Handler) sendViewError(ctx context.Context, conn *websocket.Conn, requestID string, err error) {
	code := view.ErrorCode(err)
	if code == "backend_error" {
		h.log.Error("request failed", "request_id", requestID, "error", err)
	}
	h.sendError(ctx, conn, requestID, code, err.Error())
}

func (h *Handler) sendError(ctx context.Context, conn *websocket.Conn, requestID, code, message string) {
	h.send(ctx, conn, ServerMessage{
		Type:      TypeError,
		RequestID: requestID,
		Data: ErrorData{
			Code:    code,
			Message: message,
		},
	})
}
