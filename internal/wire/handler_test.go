package wire

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/metaui/internal/catalog"
	"github.com/matthewbaird/metaui/internal/metadata"
	"github.com/matthewbaird/metaui/internal/pagecache"
	"github.com/matthewbaird/metaui/internal/represent"
	"github.com/matthewbaird/metaui/internal/session"
	"github.com/matthewbaird/metaui/internal/view"
)

const ticketsMeta = `{
	"layout": {"class": "Section", "elements": [
		{"class": "Field", "name": "id", "field_class": "IntegerField"},
		{"class": "Field", "name": "title", "field_class": "CharField"}
	]},
	"permitted_actions": ["list", "close"],
	"extentions": [
		{"class": "Toolbar", "instance_id": "main", "action": "close", "label": "Close"},
		{"class": "Toolbar", "instance_id": "main", "action": "purge", "label": "Purge"}
	]
}`

const notesMeta = `{
	"layout": {"class": "Section", "elements": [
		{"class": "Field", "name": "id", "field_class": "IntegerField"}
	]},
	"extentions": [
		{"class": "Toolbar", "instance_id": "main", "action": "archive", "label": "Archive"}
	]
}`

type backend struct {
	rows int
}

func (backend) LoadCatalog(context.Context) ([]catalog.Group, error) {
	return []catalog.Group{{Name: "Support", Items: []catalog.Item{
		{Name: "tickets", ApplName: "desk", Href: "/api/desk/tickets/"},
		{Name: "notes", ApplName: "desk", Href: "/api/desk/notes/"},
	}}}, nil
}

func (backend) LoadMetadata(_ context.Context, item catalog.Item) (*metadata.Document, error) {
	if item.Name == "notes" {
		return metadata.Parse([]byte(notesMeta))
	}
	return metadata.Parse([]byte(ticketsMeta))
}

func (b backend) FetchPage(_ context.Context, req pagecache.PageRequest) (*pagecache.Page, error) {
	page := &pagecache.Page{Count: b.rows}
	for i := req.Offset; i < min(req.Offset+req.Limit, b.rows); i++ {
		page.Results = append(page.Results, map[string]any{"id": float64(i + 1), "title": fmt.Sprintf("ticket %d", i+1)})
	}
	return page, nil
}

type received struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

type client struct {
	t    *testing.T
	ctx  context.Context
	conn *websocket.Conn
}

func (c *client) send(typ, id string, data any) {
	c.t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(c.t, err)
	require.NoError(c.t, wsjson.Write(c.ctx, c.conn, ClientMessage{Type: typ, ID: id, Data: raw}))
}

func (c *client) read() received {
	c.t.Helper()
	var msg received
	require.NoError(c.t, wsjson.Read(c.ctx, c.conn, &msg))
	return msg
}

func (c *client) readData(wantType string, v any) received {
	c.t.Helper()
	msg := c.read()
	require.Equal(c.t, wantType, msg.Type, "payload: %s", msg.Data)
	if v != nil {
		require.NoError(c.t, json.Unmarshal(msg.Data, v))
	}
	return msg
}

func setup(t *testing.T, rows int) (*client, *session.Manager) {
	t.Helper()
	b := backend{rows: rows}
	sessions := session.NewManager(func() *pagecache.Store { return pagecache.NewStore(b) }, time.Hour, time.Hour, nil)
	views := view.NewService(view.Config{
		Catalog: catalog.New(b, nil),
		Source:  b,
		Options: represent.DefaultOptions(),
	})
	srv := httptest.NewServer(NewHandler(sessions, views, 0, nil))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })

	c := &client{t: t, ctx: ctx, conn: conn}
	var sess SessionData
	c.readData(TypeSession, &sess)
	require.NotEmpty(t, sess.SessionID)
	return c, sessions
}

func TestHandler_PingAndUnknown(t *testing.T) {
	c, sessions := setup(t, 0)
	assert.Equal(t, 1, sessions.Len())

	c.send(TypePing, "p1", nil)
	msg := c.read()
	assert.Equal(t, TypePong, msg.Type)
	assert.Equal(t, "p1", msg.RequestID)

	c.send("execute", "x1", nil)
	var e ErrorData
	c.readData(TypeError, &e)
	assert.Equal(t, "unknown_type", e.Code)
}

func TestHandler_OpenErrors(t *testing.T) {
	c, _ := setup(t, 0)

	c.send(TypeWindow, "w0", WindowData{Limit: 10})
	var e ErrorData
	c.readData(TypeError, &e)
	assert.Equal(t, "nothing_open", e.Code)

	c.send(TypeOpen, "o0", OpenData{ApplName: "desk"})
	c.readData(TypeError, &e)
	assert.Equal(t, "invalid_data", e.Code)

	c.send(TypeOpen, "o1", OpenData{ApplName: "desk", Name: "nope"})
	c.readData(TypeError, &e)
	assert.Equal(t, "not_found", e.Code)

	c.send(TypeInvalidate, "i0", nil)
	c.readData(TypeError, &e)
	assert.Equal(t, "nothing_open", e.Code)
}

func TestHandler_OpenWithoutPermittedActions(t *testing.T) {
	c, _ := setup(t, 3)

	c.send(TypeOpen, "o1", OpenData{ApplName: "desk", Name: "notes"})
	var cols struct {
		Actions []string `json:"actions"`
	}
	c.readData(TypeColumns, &cols)
	assert.Equal(t, []string{"archive"}, cols.Actions)

	c.send(TypeWindow, "w1", WindowData{Offset: 0, Limit: 10})
	c.readData(TypeRows, nil)
	var done DoneData
	c.readData(TypeDone, &done)
	assert.Equal(t, 3, done.Count)
}

func TestHandler_StreamsWindows(t *testing.T) {
	c, _ := setup(t, 75)

	c.send(TypeOpen, "o1", OpenData{ApplName: "desk", Name: "tickets"})
	var cols struct {
		Columns []struct {
			Name     string `json:"name"`
			Category string `json:"category"`
		} `json:"columns"`
		Actions []string `json:"actions"`
	}
	c.readData(TypeColumns, &cols)
	require.Len(t, cols.Columns, 2)
	assert.Equal(t, "title", cols.Columns[1].Name)
	assert.Equal(t, []string{"close"}, cols.Actions)

	c.send(TypeWindow, "w1", WindowData{Offset: 0, Limit: 60})
	var batch struct {
		Offset int `json:"offset"`
		Rows   []struct {
			Key   string         `json:"key"`
			Cells map[string]any `json:"cells"`
		} `json:"rows"`
	}
	c.readData(TypeRows, &batch)
	assert.Equal(t, 0, batch.Offset)
	require.Len(t, batch.Rows, 50)
	assert.Equal(t, "1", batch.Rows[0].Key)
	assert.Equal(t, "ticket 1", batch.Rows[0].Cells["title"])

	c.readData(TypeRows, &batch)
	assert.Equal(t, 50, batch.Offset)
	assert.Len(t, batch.Rows, 10)

	var done DoneData
	c.readData(TypeDone, &done)
	assert.Equal(t, 60, done.Count)
	assert.Equal(t, 75, done.Total)
	assert.False(t, done.Cached)

	c.send(TypeWindow, "w2", WindowData{Offset: 0, Limit: 60})
	c.readData(TypeRows, nil)
	c.readData(TypeRows, nil)
	c.readData(TypeDone, &done)
	assert.True(t, done.Cached)

	c.send(TypeInvalidate, "i1", nil)
	msg := c.readData(TypeDone, nil)
	assert.Equal(t, "i1", msg.RequestID)

	c.send(TypeWindow, "w3", WindowData{Offset: 60})
	c.readData(TypeRows, &batch)
	assert.Equal(t, 60, batch.Offset)
	assert.Len(t, batch.Rows, 15)
	c.readData(TypeDone, &done)
	assert.False(t, done.Cached)
}

func TestHandler_RemovesSessionOnClose(t *testing.T) {
	c, sessions := setup(t, 0)
	require.Equal(t, 1, sessions.Len())
	require.NoError(t, c.conn.Close(websocket.StatusNormalClosure, ""))
	assert.Eventually(t, func() bool { return sessions.Len() == 0 }, 5*time.Second, 10*time.Millisecond)
}
