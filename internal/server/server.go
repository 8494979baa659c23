// Package server assembles all HTTP handlers and starts the server.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/matthewbaird/metaui/internal/pagecache"
	"github.com/matthewbaird/metaui/internal/session"
	"github.com/matthewbaird/metaui/internal/view"
)

// SessionHeader selects the session whose page cache serves a request.
const SessionHeader = "X-Session-ID"

// MaxPageSize caps the limit a client may ask for.
const MaxPageSize = 500

// Config holds server configuration.
type Config struct {
	Port     int
	PageSize int
	Views    *view.Service
	Sessions *session.Manager
	// Shared serves requests that name no session.
	Shared *pagecache.Store
	// Socket serves the WebSocket protocol. Optional.
	Socket http.Handler
	Logger *slog.Logger
}

type api struct {
	views    *view.Service
	sessions *session.Manager
	shared   *pagecache.Store
	pageSize int
	log      *slog.Logger
}

// NewRouter returns the HTTP handler for cfg.
func NewRouter(cfg Config) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("module", "server")
	a := &api{
		views:    cfg.Views,
		sessions: cfg.Sessions,
		shared:   cfg.Shared,
		pageSize: cfg.PageSize,
		log:      log,
	}
	if a.pageSize <= 0 {
		a.pageSize = 50
	}

	r := chi.NewRouter()
	r.Use(withRequestID)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/catalog", a.getCatalog)
		r.Post("/catalog/reload", a.reloadCatalog)

		r.Route("/collections/{appl}/{name}", func(r chi.Router) {
			r.Get("/metadata", a.getMetadata)
			r.Get("/columns", a.getColumns)
			r.Get("/rows", a.getRows)
			r.Get("/rows/{pk}", a.getRow)
			r.Post("/invalidate", a.invalidate)
		})

		r.Post("/sessions", a.createSession)
		r.Delete("/sessions/{id}", a.deleteSession)

		if cfg.Socket != nil {
			r.Get("/ws", cfg.Socket.ServeHTTP)
		}
	})
	return r
}

// Run starts the HTTP server and shuts it down when ctx is done.
func Run(ctx context.Context, cfg Config) error {
	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log.Info("starting server", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "serving http")
	}
	return nil
}

// store returns the page cache a request reads through.
func (a *api) store(w http.ResponseWriter, r *http.Request) (*pagecache.Store, bool) {
	id := r.Header.Get(SessionHeader)
	if id == "" {
		return a.shared, true
	}
	sess := a.sessions.Get(id)
	if sess == nil {
		writeError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "unknown or expired session: "+id)
		return nil, false
	}
	sess.Touch(time.Now())
	return sess.Store(), true
}

func (a *api) getCatalog(w http.ResponseWriter, r *http.Request) {
	groups, err := a.views.Catalog(r.Context())
	if err != nil {
		viewErrorToHTTP(w, r, a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (a *api) reloadCatalog(w http.ResponseWriter, r *http.Request) {
	if err := a.views.ReloadCatalog(r.Context()); err != nil {
		viewErrorToHTTP(w, r, a.log, err)
		return
	}
	a.log.Info("catalog reloaded")
	a.getCatalog(w, r)
}

func (a *api) getMetadata(w http.ResponseWriter, r *http.Request) {
	doc, err := a.views.Metadata(r.Context(), chi.URLParam(r, "appl"), chi.URLParam(r, "name"))
	if err != nil {
		viewErrorToHTTP(w, r, a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (a *api) getColumns(w http.ResponseWriter, r *http.Request) {
	cols, err := a.views.Columns(r.Context(), chi.URLParam(r, "appl"), chi.URLParam(r, "name"), parseFields(r))
	if err != nil {
		viewErrorToHTTP(w, r, a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"columns": cols})
}

func (a *api) getRows(w http.ResponseWriter, r *http.Request) {
	store, ok := a.store(w, r)
	if !ok {
		return
	}
	p := parsePagination(r, a.pageSize, MaxPageSize)
	table, err := a.views.Window(r.Context(), store, view.Query{
		ApplName: chi.URLParam(r, "appl"),
		Name:     chi.URLParam(r, "name"),
		Fields:   parseFields(r),
		Filters:  parseFilters(r),
		Offset:   p.Offset,
		Limit:    p.Limit,
	})
	if err != nil {
		viewErrorToHTTP(w, r, a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, table)
}

// getRow renders one already loaded row by primary key.
func (a *api) getRow(w http.ResponseWriter, r *http.Request) {
	store, ok := a.store(w, r)
	if !ok {
		return
	}
	appl, name, pk := chi.URLParam(r, "appl"), chi.URLParam(r, "name"), chi.URLParam(r, "pk")
	cols, err := a.views.Columns(r.Context(), appl, name, parseFields(r))
	if err != nil {
		viewErrorToHTTP(w, r, a.log, err)
		return
	}
	entry, err := store.Collection(appl, name).Entry(parseFilters(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_FILTER", err.Error())
		return
	}
	row, found := entry.Row(pk)
	if !found {
		writeError(w, http.StatusNotFound, "ROW_NOT_LOADED", fmt.Sprintf("row %s of %s/%s is not loaded", pk, appl, name))
		return
	}
	writeJSON(w, http.StatusOK, view.Row{Key: pk, Cells: a.views.Render(cols, row)})
}

func (a *api) invalidate(w http.ResponseWriter, r *http.Request) {
	store, ok := a.store(w, r)
	if !ok {
		return
	}
	appl, name := chi.URLParam(r, "appl"), chi.URLParam(r, "name")
	store.Collection(appl, name).Invalidate()
	a.views.Forget(appl, name)
	a.log.Info("collection invalidated", "appl", appl, "collection", name, "session", r.Header.Get(SessionHeader))
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (a *api) createSession(w http.ResponseWriter, r *http.Request) {
	sess := a.sessions.Create()
	writeJSON(w, http.StatusCreated, sess)
}

func (a *api) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if a.sessions.Get(id) == nil {
		writeError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "unknown or expired session: "+id)
		return
	}
	a.sessions.Remove(id)
	w.WriteHeader(http.StatusNoContent)
}
