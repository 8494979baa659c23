// Package backend talks to the metadata-serving REST backend.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/matthewbaird/metaui/internal/catalog"
	"github.com/matthewbaird/metaui/internal/metadata"
	"github.com/matthewbaird/metaui/internal/pagecache"
)

// DefaultCatalogPath is where the backend serves its collection directory.
const DefaultCatalogPath = "/api/catalog/"

// ErrStatus marks responses with an unexpected HTTP status.
var ErrStatus = errors.New("unexpected status")

// StatusError is a non-2xx backend response.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Code, e.Body)
}

// Is lets errors.Is(err, ErrStatus) match any StatusError.
func (e *StatusError) Is(target error) bool { return target == ErrStatus }

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithCatalogPath sets the path of the catalog endpoint.
func WithCatalogPath(p string) Option {
	return func(c *Client) { c.catalogPath = p }
}

// Checker vets raw metadata documents before they are decoded.
type Checker interface {
	Check(data []byte) error
}

// WithChecker validates every metadata document with c.
func WithChecker(c Checker) Option {
	return func(cl *Client) { cl.checker = c }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// Client fetches catalog, metadata and pages over HTTP.
type Client struct {
	base        *url.URL
	http        *http.Client
	catalogPath string
	checker     Checker
	log         *slog.Logger
}

// NewClient returns a client for the backend at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "backend url %q", baseURL)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.Newf("backend url %q must be absolute", baseURL)
	}
	c := &Client{
		base:        base,
		http:        &http.Client{Timeout: 30 * time.Second},
		catalogPath: DefaultCatalogPath,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("module", "backend")
	return c, nil
}

// Resolve turns an href from the backend into an absolute URL.
func (c *Client) Resolve(href string) (*url.URL, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return nil, errors.Wrapf(err, "href %q", href)
	}
	return c.base.ResolveReference(ref), nil
}

// LoadCatalog fetches the collection directory.
func (c *Client) LoadCatalog(ctx context.Context) ([]catalog.Group, error) {
	u, err := c.Resolve(c.catalogPath)
	if err != nil {
		return nil, err
	}
	var groups []catalog.Group
	if err := c.do(ctx, http.MethodGet, u, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// LoadMetadata fetches the metadata document of a collection with an OPTIONS
// request on its href.
func (c *Client) LoadMetadata(ctx context.Context, item catalog.Item) (*metadata.Document, error) {
	if !item.Allows(http.MethodOptions) {
		return nil, errors.Wrapf(catalog.ErrMethodNotAllowed, "%s on %s/%s", http.MethodOptions, item.ApplName, item.Name)
	}
	u, err := c.Resolve(item.Href)
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodOptions, u, &raw); err != nil {
		return nil, err
	}
	if c.checker != nil {
		if err := c.checker.Check(raw); err != nil {
			return nil, errors.Wrapf(err, "metadata of %s/%s", item.ApplName, item.Name)
		}
	}
	doc, err := metadata.Parse(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "metadata of %s/%s", item.ApplName, item.Name)
	}
	return doc, nil
}

// FetchHref fetches one list page from href with the given query.
func (c *Client) FetchHref(ctx context.Context, href string, query url.Values) (*pagecache.Page, error) {
	u, err := c.Resolve(href)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	for k, vs := range query {
		q[k] = vs
	}
	u.RawQuery = q.Encode()

	var page pagecache.Page
	if err := c.do(ctx, http.MethodGet, u, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) do(ctx context.Context, method string, u *url.URL, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return errors.Wrap(err, "creating request")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, u.Redacted())
	}
	defer resp.Body.Close()

	c.log.Debug("backend request", "method", method, "url", u.Redacted(), "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Method: method, URL: u.Redacted(), Code: resp.StatusCode, Body: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decoding %s %s", method, u.Redacted())
	}
	return nil
}

// PageQuery encodes a page request as list query parameters. List filter
// values repeat the key.
func PageQuery(offset, limit int, filters map[string]any) url.Values {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if list, ok := filters[k].([]any); ok {
			for _, v := range list {
				q.Add(k, queryValue(v))
			}
			continue
		}
		q.Add(k, queryValue(filters[k]))
	}
	return q
}

func queryValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	default:
		return fmt.Sprint(x)
	}
}

// HrefResolver maps a collection to its list href.
type HrefResolver interface {
	URL(applName, name string) (string, error)
}

// PageFetcher adapts the client to pagecache.Fetcher, resolving collection
// hrefs through r (usually the loaded catalog).
func (c *Client) PageFetcher(r HrefResolver) pagecache.Fetcher {
	return &pageFetcher{client: c, hrefs: r}
}

type pageFetcher struct {
	client *Client
	hrefs  HrefResolver
}

func (f *pageFetcher) FetchPage(ctx context.Context, req pagecache.PageRequest) (*pagecache.Page, error) {
	href, err := f.hrefs.URL(req.ApplName, req.Name)
	if err != nil {
		return nil, err
	}
	return f.client.FetchHref(ctx, href, PageQuery(req.Offset, req.Limit, req.Filters))
}

var (
	_ catalog.Loader    = (*Client)(nil)
	_ pagecache.Fetcher = (*pageFetcher)(nil)
	_ HrefResolver      = (*catalog.Catalog)(nil)
)
