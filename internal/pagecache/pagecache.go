// Package pagecache keeps lazily fetched windows of paged collections.
//
// A Store holds one Collection per (application, collection) pair, and each
// Collection one Entry per filter set. An Entry remembers which exact windows
// have been fetched; a window that overlaps a loaded one without matching it
// exactly is a miss.
package pagecache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"golang.org/x/sync/singleflight"

	"github.com/matthewbaird/metaui/internal/layout"
)

// DefaultPrimaryKey is the row key rows are indexed by.
const DefaultPrimaryKey = "id"

// PageRequest asks a Fetcher for one window of a collection.
type PageRequest struct {
	ApplName string
	Name     string
	Filters  map[string]any
	Offset   int
	Limit    int
}

// Page is a list data document as the backend returns it.
type Page struct {
	Count    int          `json:"count"`
	Next     *string      `json:"next"`
	Previous *string      `json:"previous"`
	Results  []layout.Row `json:"results"`
}

// Fetcher loads pages from the backend.
type Fetcher interface {
	FetchPage(ctx context.Context, req PageRequest) (*Page, error)
}

// Range is one fetched window.
type Range struct {
	Start     int       `json:"start"`
	End       int       `json:"end"`
	FetchedAt time.Time `json:"fetched_at"`
	Page      int       `json:"page"`
}

// Key returns the range's "start-end" key.
func (r Range) Key() string {
	return rangeKey(r.Start, r.End)
}

func rangeKey(start, end int) string {
	return strconv.Itoa(start) + "-" + strconv.Itoa(end)
}

// Window is the answer to a Fetch.
type Window struct {
	Offset int          `json:"offset"`
	Rows   []layout.Row `json:"rows"`
	Total  int          `json:"total"`
	// Cached is set when the rows came from a previously loaded range.
	Cached bool `json:"cached"`
}

// Option configures a Store.
type Option func(*Store)

// WithPrimaryKey sets the row key rows are indexed by.
func WithPrimaryKey(field string) Option {
	return func(s *Store) { s.pk = field }
}

// WithLogger sets the store's logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithClock replaces time.Now for range timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store owns every cache entry of one module.
type Store struct {
	fetcher Fetcher
	pk      string
	log     *slog.Logger
	now     func() time.Time

	mu          sync.Mutex
	collections map[string]*Collection
}

// NewStore returns an empty store fetching through f.
func NewStore(f Fetcher, opts ...Option) *Store {
	s := &Store{
		fetcher:     f,
		pk:          DefaultPrimaryKey,
		log:         slog.Default(),
		now:         time.Now,
		collections: make(map[string]*Collection),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("module", "pagecache")
	return s
}

// Collection returns the cache of one collection, creating it on first use.
// Names are matched case-insensitively.
func (s *Store) Collection(applName, name string) *Collection {
	key := strings.ToLower(applName) + "/" + strings.ToLower(name)

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[key]
	if !ok {
		c = &Collection{
			store:    s,
			applName: applName,
			name:     name,
			entries:  make(map[uint64]*Entry),
		}
		s.collections[key] = c
	}
	return c
}

// RowKey returns the stringified primary key of row.
func (s *Store) RowKey(row layout.Row) (string, bool) {
	return primaryKey(row, s.pk)
}

// Invalidate empties every entry of every collection.
func (s *Store) Invalidate() {
	s.mu.Lock()
	cols := make([]*Collection, 0, len(s.collections))
	for _, c := range s.collections {
		cols = append(cols, c)
	}
	s.mu.Unlock()

	for _, c := range cols {
		c.Invalidate()
	}
}

// Collection holds the entries of one collection, one per filter set.
type Collection struct {
	store    *Store
	applName string
	name     string

	mu      sync.Mutex
	entries map[uint64]*Entry
}

// FilterKey hashes a filter set. Key order does not matter; nil and empty
// filter sets share a key.
func FilterKey(filters map[string]any) (uint64, error) {
	if len(filters) == 0 {
		return xxhash.Sum64String("{}"), nil
	}
	// encoding/json writes map keys sorted, at every depth.
	b, err := json.Marshal(filters)
	if err != nil {
		return 0, errors.Wrap(err, "encoding filter set")
	}
	return xxhash.Sum64(b), nil
}

// Entry returns the cache entry for a filter set.
func (c *Collection) Entry(filters map[string]any) (*Entry, error) {
	key, err := FilterKey(filters)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		e = &Entry{
			coll:    c,
			key:     key,
			filters: cloneFilters(filters),
			byPK:    make(map[string]layout.Row),
			ranges:  make(map[string]Range),
		}
		c.entries[key] = e
	}
	return e, nil
}

// Invalidate empties every entry of the collection.
func (c *Collection) Invalidate() {
	c.mu.Lock()
	entries := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.mu.Unlock()

	for _, e := range entries {
		e.Invalidate()
	}
}

func cloneFilters(f map[string]any) map[string]any {
	out := make(map[string]any, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Entry is the cache of one collection under one filter set.
type Entry struct {
	coll    *Collection
	key     uint64
	filters map[string]any

	flight singleflight.Group

	mu         sync.RWMutex
	generation int
	results    []layout.Row
	byPK       map[string]layout.Row
	ranges     map[string]Range
	next       *string
	previous   *string
	count      int
	fetched    bool
}

// IsRangeLoaded reports whether the window [start, end] was fetched as is.
func (e *Entry) IsRangeLoaded(start, end int) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.ranges[rangeKey(start, end)]
	return ok
}

// Fetch returns rows [offset, offset+limit). A loaded window is served from
// memory; anything else is fetched and merged before Fetch returns.
//
// Concurrent calls for the same window share one backend request. A caller
// whose context ends stops waiting, but the request still completes and
// merges for the others.
func (e *Entry) Fetch(ctx context.Context, offset, limit int) (Window, error) {
	if offset < 0 || limit <= 0 {
		return Window{}, errors.Newf("invalid window offset=%d limit=%d", offset, limit)
	}
	if w, ok := e.cached(offset, limit); ok {
		return w, nil
	}

	req := PageRequest{
		ApplName: e.coll.applName,
		Name:     e.coll.name,
		Filters:  e.filters,
		Offset:   offset,
		Limit:    limit,
	}
	// Keyed by generation so a caller arriving after Invalidate never joins
	// a request whose page merge will drop.
	e.mu.RLock()
	gen := e.generation
	e.mu.RUnlock()
	flightKey := fmt.Sprintf("%d/%d/%d", gen, offset, limit)
	ch := e.flight.DoChan(flightKey, func() (any, error) {
		store := e.coll.store
		store.log.Debug("fetching window",
			"appl", req.ApplName, "collection", req.Name, "offset", offset, "limit", limit)
		page, err := store.fetcher.FetchPage(context.WithoutCancel(ctx), req)
		if err != nil {
			return nil, err
		}
		return e.merge(gen, offset, limit, page), nil
	})

	select {
	case <-ctx.Done():
		return Window{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Window{}, res.Err
		}
		return res.Val.(Window), nil
	}
}

func (e *Entry) cached(offset, limit int) (Window, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if _, ok := e.ranges[rangeKey(offset, offset+limit-1)]; !ok {
		return Window{}, false
	}
	end := min(offset+limit, len(e.results))
	rows := make([]layout.Row, 0, max(end-offset, 0))
	if offset < end {
		rows = append(rows, e.results[offset:end]...)
	}
	return Window{Offset: offset, Rows: rows, Total: e.count, Cached: true}, true
}

// merge records a fetched page. Offset 0 starts over; any other offset places
// the rows at their absolute positions after what is already loaded. A page
// fetched before an Invalidate is returned to its callers but not stored.
func (e *Entry) merge(gen, offset, limit int, page *Page) Window {
	rows := append([]layout.Row(nil), page.Results...)
	w := Window{Offset: offset, Rows: rows, Total: page.Count}

	e.mu.Lock()
	defer e.mu.Unlock()

	if gen != e.generation {
		e.coll.store.log.Debug("dropping page fetched before invalidation", "offset", offset)
		return w
	}

	if offset == 0 {
		e.results = e.results[:0]
		e.byPK = make(map[string]layout.Row, len(rows))
		e.ranges = make(map[string]Range)
	}
	if need := offset + len(rows); need > len(e.results) {
		grown := make([]layout.Row, need)
		copy(grown, e.results)
		e.results = grown
	}
	copy(e.results[offset:], rows)

	pk := e.coll.store.pk
	for _, row := range rows {
		if id, ok := primaryKey(row, pk); ok {
			e.byPK[id] = row
		}
	}

	r := Range{
		Start:     offset,
		End:       offset + len(rows) - 1,
		FetchedAt: e.coll.store.now(),
		Page:      offset/limit + 1,
	}
	e.ranges[r.Key()] = r
	e.next = page.Next
	e.previous = page.Previous
	e.count = page.Count
	e.fetched = true
	return w
}

func primaryKey(row layout.Row, field string) (string, bool) {
	switch v := row[field].(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case json.Number:
		return v.String(), true
	default:
		return fmt.Sprint(v), true
	}
}

// TotalCount returns the last count the backend reported, or 0.
func (e *Entry) TotalCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.count
}

// Row returns the loaded row with the given primary key.
func (e *Entry) Row(pk string) (layout.Row, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	row, ok := e.byPK[pk]
	return row, ok
}

// Len returns the length of the result array.
func (e *Entry) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.results)
}

// Rows returns a copy of the result array. Positions between loaded windows
// are nil.
func (e *Entry) Rows() []layout.Row {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]layout.Row(nil), e.results...)
}

// Ranges returns the loaded windows ordered by start.
func (e *Entry) Ranges() []Range {
	e.mu.RLock()
	out := make([]Range, 0, len(e.ranges))
	for _, r := range e.ranges {
		out = append(out, r)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// Cursors returns the next and previous links of the last fetched page.
func (e *Entry) Cursors() (next, previous *string) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.next, e.previous
}

// Complete reports whether a fetch has happened and the backend reported no
// further page.
func (e *Entry) Complete() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fetched && e.next == nil
}

// Filters returns the entry's filter set.
func (e *Entry) Filters() map[string]any {
	return cloneFilters(e.filters)
}

// Invalidate resets the entry to empty. Other filter sets of the same
// collection are untouched.
func (e *Entry) Invalidate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.generation++
	e.results = nil
	e.byPK = make(map[string]layout.Row)
	e.ranges = make(map[string]Range)
	e.next = nil
	e.previous = nil
	e.count = 0
	e.fetched = false
}
