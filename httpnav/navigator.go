/*
 *
 * browser-perfbudget - performance budget checks driven by a real browser
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

// Package httpnav implements a browserless perf.Navigator: it fetches pages
// over plain HTTP and loads their scripts and stylesheets the way a browser
// with an HTTP cache would.
package httpnav

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/oxtoacart/bpool"
	"golang.org/x/net/publicsuffix"

	"github.com/grafana/browser-perfbudget/log"
	"github.com/grafana/browser-perfbudget/perf"
)

// ErrNoDocument is returned by HasText before the first navigation.
var ErrNoDocument = errors.New("no document loaded")

// StatusError is returned when a document or asset responds with a non
// 2xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

type assetKind int

const (
	kindScript assetKind = iota
	kindStylesheet
)

type cachedAsset struct {
	size    int64
	expires time.Time
}

// Navigator fetches pages relative to a base URL.
type Navigator struct {
	base    *url.URL
	client  *http.Client
	timeout time.Duration
	logger  *log.Logger
	buffers *bpool.BufferPool
	now     func() time.Time

	mu        sync.Mutex
	text      string
	hasDoc    bool
	assets    map[string]cachedAsset
	recording bool
	stats     perf.AssetStats
}

// Option configures a Navigator.
type Option func(*Navigator)

// WithHTTPClient sets the client used for every request. Its cookie jar is
// replaced when it has none.
func WithHTTPClient(c *http.Client) Option {
	return func(n *Navigator) { n.client = c }
}

// WithTimeout bounds each navigation, assets included.
func WithTimeout(d time.Duration) Option {
	return func(n *Navigator) { n.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(n *Navigator) { n.logger = l }
}

// New returns a navigator for the site at baseURL.
func New(baseURL string, opts ...Option) (*Navigator, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL %q: %w", baseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base URL %q must be absolute", baseURL)
	}

	n := &Navigator{
		base:    base,
		timeout: 30 * time.Second,
		buffers: bpool.NewBufferPool(8),
		now:     time.Now,
		assets:  make(map[string]cachedAsset),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.logger == nil {
		n.logger = log.NewNullLogger()
	}
	if n.client == nil {
		n.client = &http.Client{}
	}
	if n.client.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("creating cookie jar: %w", err)
		}
		c := *n.client
		c.Jar = jar
		n.client = &c
	}
	return n, nil
}

// Navigate loads path and every script and stylesheet it references.
func (n *Navigator) Navigate(ctx context.Context, path string) error {
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	u, err := n.base.Parse(path)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", path, err)
	}

	buf := n.buffers.Get()
	defer n.buffers.Put(buf)

	if _, err := n.fetch(ctx, u.String(), buf); err != nil {
		return err
	}

	doc, err := goquery.NewDocumentFromReader(buf)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", u, err)
	}

	n.mu.Lock()
	n.text = doc.Find("body").Text()
	n.hasDoc = true
	n.mu.Unlock()

	var refs []assetRef
	doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok {
			refs = append(refs, assetRef{href: src, kind: kindScript})
		}
	})
	doc.Find("link[href]").Each(func(_ int, s *goquery.Selection) {
		rel, _ := s.Attr("rel")
		if !hasToken(rel, "stylesheet") {
			return
		}
		href, _ := s.Attr("href")
		refs = append(refs, assetRef{href: href, kind: kindStylesheet})
	})

	for _, ref := range refs {
		au, err := u.Parse(ref.href)
		if err != nil {
			return fmt.Errorf("resolving asset %q: %w", ref.href, err)
		}
		if err := n.loadAsset(ctx, au.String(), ref.kind); err != nil {
			return err
		}
	}

	n.logger.Debugf("Navigator:Navigate", "url:%q assets:%d", u, len(refs))
	return nil
}

type assetRef struct {
	href string
	kind assetKind
}

func (n *Navigator) loadAsset(ctx context.Context, u string, kind assetKind) error {
	n.mu.Lock()
	c, ok := n.assets[u]
	n.mu.Unlock()

	if !ok || !n.now().Before(c.expires) {
		buf := n.buffers.Get()
		resp, err := n.fetch(ctx, u, buf)
		size := int64(buf.Len())
		n.buffers.Put(buf)
		if err != nil {
			return err
		}
		if cl := resp.ContentLength; cl >= 0 {
			size = cl
		}
		c = cachedAsset{size: size, expires: n.now().Add(maxAge(resp.Header.Get("Cache-Control")))}
		n.mu.Lock()
		n.assets[u] = c
		n.mu.Unlock()
		n.logger.Tracef("Navigator:loadAsset", "url:%q fetched size:%d", u, size)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.recording {
		return nil
	}
	switch kind {
	case kindScript:
		n.stats.ScriptCount++
		n.stats.ScriptBytes += c.size
	case kindStylesheet:
		n.stats.StylesheetCount++
		n.stats.StylesheetBytes += c.size
	}
	return nil
}

// fetch GETs u into buf and fails on non 2xx responses.
func (n *Navigator) fetch(ctx context.Context, u string, buf io.Writer) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request for %s: %w", u, err)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", u, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{URL: u, StatusCode: resp.StatusCode}
	}
	if _, err := io.Copy(buf, resp.Body); err != nil {
		return nil, fmt.Errorf("reading %s: %w", u, err)
	}
	return resp, nil
}

// HasText reports whether the text of the last document contains fragment.
func (n *Navigator) HasText(_ context.Context, fragment string) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.hasDoc {
		return false, ErrNoDocument
	}
	return strings.Contains(n.text, fragment), nil
}

// ClearBrowserCache drops every cached asset.
func (n *Navigator) ClearBrowserCache(context.Context) error {
	n.mu.Lock()
	n.assets = make(map[string]cachedAsset)
	n.mu.Unlock()
	return nil
}

// StartRecording starts counting loaded assets, cached ones included.
func (n *Navigator) StartRecording(context.Context) error {
	n.mu.Lock()
	n.recording = true
	n.stats = perf.AssetStats{}
	n.mu.Unlock()
	return nil
}

// StopRecording stops counting and returns what was loaded.
func (n *Navigator) StopRecording(context.Context) (perf.AssetStats, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.recording = false
	return n.stats, nil
}

func maxAge(cacheControl string) time.Duration {
	for _, d := range strings.Split(cacheControl, ",") {
		d = strings.TrimSpace(strings.ToLower(d))
		if d == "no-store" || d == "no-cache" {
			return 0
		}
		v, ok := strings.CutPrefix(d, "max-age=")
		if !ok {
			continue
		}
		secs, err := strconv.Atoi(v)
		if err != nil || secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	return 0
}

func hasToken(list, token string) bool {
	for _, t := range strings.Fields(list) {
		if strings.EqualFold(t, token) {
			return true
		}
	}
	return false
}
