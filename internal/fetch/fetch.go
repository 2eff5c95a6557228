// Package fetch loads script sources from files and http(s) URLs. Remote
// sources go through an HTTP cache, persisted in a bbolt database when the
// Fetcher is opened on a home directory.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/birkelund/boltdbcache"
	"github.com/gregjones/httpcache"
	"go.etcd.io/bbolt"
	"golang.org/x/net/html"
)

// LinkRel is the rel attribute of the <link> element pointing from an HTML
// page to the script it publishes.
const LinkRel = "jsisolate"

// IndexFile is loaded when a file URL names a directory.
const IndexFile = "main.js"

// maxLinkHops bounds how many HTML pages are followed for one fetch.
const maxLinkHops = 5

var ErrNoScriptLink = errors.New("fetch: page has no script link")

// Source is a fetched script.
type Source struct {
	URL    *url.URL // final location, after following page links
	Text   string
	Cached bool // served from the HTTP cache
}

type Fetcher struct {
	db     *bbolt.DB
	client *http.Client
}

// Open returns a Fetcher caching into home/cache.db, creating home if needed.
func Open(home string) (*Fetcher, error) {
	if err := os.MkdirAll(home, 0o700); err != nil {
		return nil, fmt.Errorf("fetch: create home: %w", err)
	}
	db, err := bbolt.Open(filepath.Join(home, "cache.db"), 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: open cache database: %w", err)
	}
	cache, err := boltdbcache.NewWithDB(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("fetch: open cache: %w", err)
	}
	f := New(cache)
	f.db = db
	return f, nil
}

// New returns a Fetcher using cache for remote sources. A nil cache keeps
// responses in memory.
func New(cache httpcache.Cache) *Fetcher {
	if cache == nil {
		cache = httpcache.NewMemoryCache()
	}
	transport := httpcache.NewTransport(cache)
	return &Fetcher{client: transport.Client()}
}

// Close releases the cache database, if any.
func (f *Fetcher) Close() error {
	if f.db == nil {
		return nil
	}
	return f.db.Close()
}

// Resolve interprets ref relative to base. ref is a URL or a file path; a nil
// base resolves paths against the working directory.
func Resolve(base *url.URL, ref string) (*url.URL, error) {
	if u, err := url.Parse(ref); err == nil && u.Scheme != "" && len(u.Scheme) > 1 {
		return u, nil
	}
	if base != nil {
		u, err := url.Parse(filepath.ToSlash(ref))
		if err != nil {
			return nil, err
		}
		return base.ResolveReference(u), nil
	}
	abs, err := filepath.Abs(ref)
	if err != nil {
		return nil, err
	}
	return &url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}, nil
}

// Fetch loads the script at u.
func (f *Fetcher) Fetch(ctx context.Context, u *url.URL) (*Source, error) {
	return f.fetch(ctx, u, 0)
}

func (f *Fetcher) fetch(ctx context.Context, u *url.URL, hops int) (*Source, error) {
	switch u.Scheme {
	case "http", "https":
		return f.fetchHTTP(ctx, u, hops)
	case "file":
		return fetchFile(u)
	}
	return nil, fmt.Errorf("fetch: scheme of %q not supported", u)
}

func (f *Fetcher) fetchHTTP(ctx context.Context, u *url.URL, hops int) (*Source, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %q: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %q: %s", u, resp.Status)
	}

	if mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil && mt == "text/html" {
		if hops >= maxLinkHops {
			return nil, fmt.Errorf("fetch %q: too many page links", u)
		}
		node, err := html.Parse(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", u, err)
		}
		link := scriptLink(node)
		if link == "" {
			return nil, fmt.Errorf("%w: no <link rel=%q href=...> at %v", ErrNoScriptLink, LinkRel, u)
		}
		lu, err := url.Parse(link)
		if err != nil {
			return nil, fmt.Errorf("parse link %q: %w", link, err)
		}
		return f.fetch(ctx, u.ResolveReference(lu), hops+1)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", u, err)
	}
	return &Source{
		URL:    u,
		Text:   string(body),
		Cached: resp.Header.Get(httpcache.XFromCache) != "",
	}, nil
}

func fetchFile(u *url.URL) (*Source, error) {
	p := filepath.FromSlash(u.Path)
	if u.Host != "" {
		p = filepath.FromSlash(u.Host + u.Path)
	}
	info, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		p = filepath.Join(p, IndexFile)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", p, err)
	}
	return &Source{
		URL:  &url.URL{Scheme: "file", Path: filepath.ToSlash(p)},
		Text: string(data),
	}, nil
}

// scriptLink returns the href of the first <link rel="jsisolate"> in the
// document, in document order.
func scriptLink(node *html.Node) string {
	if node.Type == html.ElementNode && node.Data == "link" {
		var rel, href string
		for _, attr := range node.Attr {
			switch attr.Key {
			case "rel":
				rel = attr.Val
			case "href":
				href = attr.Val
			}
		}
		for _, r := range strings.Fields(rel) {
			if r == LinkRel && href != "" {
				return href
			}
		}
	}
	for c := node.FirstChild; c != nil; c = c.NextSibling {
		if link := scriptLink(c); link != "" {
			return link
		}
	}
	return ""
}
