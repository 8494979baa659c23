// Package fixture serves catalog, metadata and list data from SQLite, so the
// server can run without a live backend.
package fixture

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	"github.com/matthewbaird/metaui/internal/catalog"
	"github.com/matthewbaird/metaui/internal/layout"
	"github.com/matthewbaird/metaui/internal/metadata"
	"github.com/matthewbaird/metaui/internal/pagecache"
)

// ErrNoMetadata is returned for a collection stored without a metadata
// document.
var ErrNoMetadata = errors.New("collection has no metadata")

var filterKey = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// Checker vets raw metadata documents before they are stored.
type Checker interface {
	Check(data []byte) error
}

// Store holds fixture collections in SQLite.
type Store struct {
	db      *sql.DB
	log     *slog.Logger
	checker Checker
}

// Open opens the database at dsn and creates the tables.
func Open(ctx context.Context, dsn string, log *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening fixture database")
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "enabling foreign keys")
	}
	s := NewStore(db, log)
	if err := s.CreateTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an open database.
func NewStore(db *sql.DB, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{db: db, log: log.With("module", "fixture")}
}

// SetChecker makes PutCollection reject documents c does not accept.
func (s *Store) SetChecker(c Checker) {
	s.checker = c
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateTables creates the fixture schema if it does not exist.
func (s *Store) CreateTables(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS collections (
			appl_name  TEXT NOT NULL COLLATE NOCASE,
			name       TEXT NOT NULL COLLATE NOCASE,
			group_name TEXT NOT NULL,
			href       TEXT NOT NULL,
			methods    TEXT NOT NULL DEFAULT '[]',
			metadata   TEXT,
			position   INTEGER NOT NULL,
			PRIMARY KEY (appl_name, name)
		);

		CREATE TABLE IF NOT EXISTS records (
			appl_name TEXT NOT NULL COLLATE NOCASE,
			name      TEXT NOT NULL COLLATE NOCASE,
			position  INTEGER NOT NULL,
			data      TEXT NOT NULL,
			PRIMARY KEY (appl_name, name, position),
			FOREIGN KEY (appl_name, name) REFERENCES collections (appl_name, name) ON DELETE CASCADE
		);
	`)
	return errors.Wrap(err, "creating fixture tables")
}

// PutCollection inserts or replaces a collection. doc may be nil.
func (s *Store) PutCollection(ctx context.Context, group string, item catalog.Item, doc json.RawMessage) error {
	methods, err := json.Marshal(item.Methods)
	if err != nil {
		return errors.Wrap(err, "encoding methods")
	}
	var meta any
	if len(doc) > 0 {
		if s.checker != nil {
			if err := s.checker.Check(doc); err != nil {
				return errors.Wrapf(err, "metadata of %s/%s", item.ApplName, item.Name)
			}
		}
		if _, err := metadata.Parse(doc); err != nil {
			return errors.Wrapf(err, "metadata of %s/%s", item.ApplName, item.Name)
		}
		meta = string(doc)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO collections (appl_name, name, group_name, href, methods, metadata, position)
		VALUES (?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM collections))
		ON CONFLICT (appl_name, name) DO UPDATE SET
			group_name = excluded.group_name,
			href = excluded.href,
			methods = excluded.methods,
			metadata = excluded.metadata`,
		item.ApplName, item.Name, group, item.Href, string(methods), meta)
	if err != nil {
		return errors.Wrapf(err, "storing collection %s/%s", item.ApplName, item.Name)
	}
	return nil
}

// AppendRows adds rows after the ones already stored for a collection.
func (s *Store) AppendRows(ctx context.Context, applName, name string, rows []layout.Row) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback()

	var next int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), -1) + 1 FROM records WHERE appl_name = ? AND name = ?`,
		applName, name).Scan(&next)
	if err != nil {
		return errors.Wrap(err, "reading row position")
	}

	var b strings.Builder
	b.WriteString(`INSERT INTO records (appl_name, name, position, data) VALUES `)
	args := make([]any, 0, len(rows)*4)
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?, ?)")
		data, err := json.Marshal(row)
		if err != nil {
			return errors.Wrapf(err, "encoding row %d", i)
		}
		args = append(args, applName, name, next+i, string(data))
	}
	if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
		return errors.Wrapf(err, "storing rows of %s/%s", applName, name)
	}
	return errors.Wrap(tx.Commit(), "committing rows")
}

// LoadCatalog returns the stored collections grouped in insertion order.
func (s *Store) LoadCatalog(ctx context.Context) ([]catalog.Group, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT group_name, appl_name, name, href, methods FROM collections ORDER BY position`)
	if err != nil {
		return nil, errors.Wrap(err, "querying collections")
	}
	defer rows.Close()

	var groups []catalog.Group
	at := make(map[string]int)
	for rows.Next() {
		var group, methods string
		var it catalog.Item
		if err := rows.Scan(&group, &it.ApplName, &it.Name, &it.Href, &methods); err != nil {
			return nil, errors.Wrap(err, "scanning collection")
		}
		if err := json.Unmarshal([]byte(methods), &it.Methods); err != nil {
			return nil, errors.Wrapf(err, "methods of %s/%s", it.ApplName, it.Name)
		}
		i, ok := at[group]
		if !ok {
			i = len(groups)
			at[group] = i
			groups = append(groups, catalog.Group{Name: group})
		}
		groups[i].Items = append(groups[i].Items, it)
	}
	return groups, errors.Wrap(rows.Err(), "reading collections")
}

// LoadMetadata returns the metadata document stored for item.
func (s *Store) LoadMetadata(ctx context.Context, item catalog.Item) (*metadata.Document, error) {
	var doc sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT metadata FROM collections WHERE appl_name = ? AND name = ?`,
		item.ApplName, item.Name).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(catalog.ErrNotFound, "%s/%s", item.ApplName, item.Name)
	}
	if err != nil {
		return nil, errors.Wrap(err, "querying metadata")
	}
	if !doc.Valid {
		return nil, errors.Wrapf(ErrNoMetadata, "%s/%s", item.ApplName, item.Name)
	}
	return metadata.Parse([]byte(doc.String))
}

// FetchPage returns one window of a collection. Filters match row keys by
// equality; a list filter accepts any of its values.
func (s *Store) FetchPage(ctx context.Context, req pagecache.PageRequest) (*pagecache.Page, error) {
	var href string
	err := s.db.QueryRowContext(ctx,
		`SELECT href FROM collections WHERE appl_name = ? AND name = ?`,
		req.ApplName, req.Name).Scan(&href)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(catalog.ErrNotFound, "%s/%s", req.ApplName, req.Name)
	}
	if err != nil {
		return nil, errors.Wrap(err, "querying collection")
	}

	conditions := []string{"appl_name = ?", "name = ?"}
	args := []any{req.ApplName, req.Name}
	for _, key := range sortedKeys(req.Filters) {
		if !filterKey.MatchString(key) {
			return nil, errors.Newf("invalid filter key %q", key)
		}
		path := "$." + key
		if list, ok := req.Filters[key].([]any); ok {
			if len(list) == 0 {
				conditions = append(conditions, "0")
				continue
			}
			placeholders := make([]string, len(list))
			args = append(args, path)
			for i, v := range list {
				placeholders[i] = "?"
				args = append(args, sqlValue(v))
			}
			conditions = append(conditions,
				fmt.Sprintf("json_extract(data, ?) IN (%s)", strings.Join(placeholders, ", ")))
			continue
		}
		if req.Filters[key] == nil {
			conditions = append(conditions, "json_extract(data, ?) IS NULL")
			args = append(args, path)
			continue
		}
		conditions = append(conditions, "json_extract(data, ?) = ?")
		args = append(args, path, sqlValue(req.Filters[key]))
	}
	where := strings.Join(conditions, " AND ")

	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records WHERE "+where, args...).Scan(&count); err != nil {
		return nil, errors.Wrap(err, "counting rows")
	}

	query := fmt.Sprintf(`SELECT data FROM records WHERE %s ORDER BY position LIMIT ? OFFSET ?`, where)
	rows, err := s.db.QueryContext(ctx, query, append(args, req.Limit, req.Offset)...)
	if err != nil {
		return nil, errors.Wrap(err, "querying rows")
	}
	defer rows.Close()

	page := &pagecache.Page{Count: count, Results: []layout.Row{}}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, errors.Wrap(err, "scanning row")
		}
		var row layout.Row
		if err := json.Unmarshal([]byte(data), &row); err != nil {
			return nil, errors.Wrap(err, "decoding row")
		}
		page.Results = append(page.Results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "reading rows")
	}

	if end := req.Offset + len(page.Results); end < count {
		next := pageHref(href, end, req.Limit)
		page.Next = &next
	}
	if req.Offset > 0 {
		prev := pageHref(href, max(req.Offset-req.Limit, 0), req.Limit)
		page.Previous = &prev
	}
	s.log.Debug("served page", "appl", req.ApplName, "collection", req.Name,
		"offset", req.Offset, "rows", len(page.Results), "count", count)
	return page, nil
}

func pageHref(href string, offset, limit int) string {
	sep := "?"
	if strings.Contains(href, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%soffset=%d&limit=%d", href, sep, offset, limit)
}

func sqlValue(v any) any {
	switch x := v.(type) {
	case bool:
		if x {
			return 1
		}
		return 0
	case string, float64, int, int64:
		return x
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

var (
	_ catalog.Loader    = (*Store)(nil)
	_ pagecache.Fetcher = (*Store)(nil)
)
