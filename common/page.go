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

package common

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"

	"github.com/grafana/browser-perfbudget/cdp"
	"github.com/grafana/browser-perfbudget/common/js"
	"github.com/grafana/browser-perfbudget/log"
	"github.com/grafana/browser-perfbudget/perf"
)

var (
	_ perf.Navigator           = &Page{}
	_ perf.BrowserCacheClearer = &Page{}
	_ perf.AssetRecorder       = &Page{}
)

// ErrPageClosed is returned by operations on a closed page.
var ErrPageClosed = errors.New("page closed")

// StatusError is returned when the main document of a navigation responds
// with a non 2xx status.
type StatusError struct {
	URL        string
	StatusCode int64
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d %s", e.URL, e.StatusCode, http.StatusText(int(e.StatusCode)))
}

// trackedResponse is a script or stylesheet loaded while recording.
type trackedResponse struct {
	requestID     string
	kind          network.ResourceType
	contentLength int64
	encodedLength float64
}

// Page is a browser tab, attached in its own browser context so that its
// HTTP cache starts empty and is not shared with other pages.
type Page struct {
	client  *cdp.Client
	base    *url.URL
	timeout time.Duration
	logger  *log.Logger

	browserContextID string
	targetID         string
	sessionID        string

	events      <-chan *cdp.Event
	unsubscribe func()
	done        chan struct{}
	closeOnce   sync.Once

	mu          sync.Mutex
	loadWaiters []chan struct{}
	documents   map[string]int64 // loader ID to status
	recording   bool
	responses   map[string]*trackedResponse
	order       []string
}

func newPage(
	client *cdp.Client, base *url.URL, timeout time.Duration, logger *log.Logger,
	browserContextID, targetID, sessionID string,
) *Page {
	return &Page{
		client:           client,
		base:             base,
		timeout:          timeout,
		logger:           logger,
		browserContextID: browserContextID,
		targetID:         targetID,
		sessionID:        sessionID,
		done:             make(chan struct{}),
		documents:        make(map[string]int64),
		responses:        make(map[string]*trackedResponse),
	}
}

// init subscribes to the events of the page, then enables the domains that
// emit them.
func (p *Page) init(ctx context.Context) error {
	sctx := p.sessionContext(ctx)
	p.events, p.unsubscribe = p.client.Subscribe(sctx,
		cdproto.EventPageLoadEventFired,
		cdproto.EventNetworkResponseReceived,
		cdproto.EventNetworkLoadingFinished,
	)
	go p.loop()

	if err := p.client.Page.Enable(sctx); err != nil {
		return err
	}
	return p.client.Network.Enable(sctx)
}

func (p *Page) sessionContext(ctx context.Context) context.Context {
	return cdp.WithSessionID(ctx, p.sessionID)
}

func (p *Page) loop() {
	for {
		select {
		case evt := <-p.events:
			p.onEvent(evt)
		case <-p.done:
			return
		case <-p.client.Done():
			p.logger.Debugf("Page:loop", "sid:%v connection closed", p.sessionID)
			return
		}
	}
}

func (p *Page) onEvent(evt *cdp.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev := evt.Data.(type) {
	case *page.EventLoadEventFired:
		for _, w := range p.loadWaiters {
			close(w)
		}
		p.loadWaiters = nil
	case *network.EventResponseReceived:
		if ev.Response == nil {
			return
		}
		if ev.Type == network.ResourceTypeDocument {
			p.documents[ev.LoaderID.String()] = ev.Response.Status
		}
		if !p.recording || (ev.Type != network.ResourceTypeScript && ev.Type != network.ResourceTypeStylesheet) {
			return
		}
		id := ev.RequestID.String()
		if _, ok := p.responses[id]; !ok {
			p.order = append(p.order, id)
		}
		p.responses[id] = &trackedResponse{
			requestID:     id,
			kind:          ev.Type,
			contentLength: contentLength(ev.Response.Headers),
		}
	case *network.EventLoadingFinished:
		if r, ok := p.responses[ev.RequestID.String()]; ok {
			r.encodedLength = ev.EncodedDataLength
		}
	}
}

// Navigate loads path, relative to the base URL of the page, and waits for
// the load event.
func (p *Page) Navigate(ctx context.Context, path string) error {
	u, err := p.base.Parse(path)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", path, err)
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	loaded := make(chan struct{})
	p.mu.Lock()
	p.loadWaiters = append(p.loadWaiters, loaded)
	p.mu.Unlock()

	loaderID, err := p.client.Page.Navigate(p.sessionContext(ctx), u.String())
	if err != nil {
		p.dropWaiter(loaded)
		return err
	}

	select {
	case <-loaded:
	case <-p.done:
		return ErrPageClosed
	case <-p.client.Done():
		return fmt.Errorf("waiting for load of %s: %w", u, p.client.Err())
	case <-ctx.Done():
		p.dropWaiter(loaded)
		return fmt.Errorf("waiting for load of %s: %w", u, ctx.Err())
	}

	p.mu.Lock()
	status, ok := p.documents[loaderID]
	p.mu.Unlock()
	if ok && (status < 200 || status > 299) {
		return &StatusError{URL: u.String(), StatusCode: status}
	}

	p.logger.Debugf("Page:Navigate", "sid:%v url:%q loaderID:%v status:%d", p.sessionID, u, loaderID, status)
	return nil
}

func (p *Page) dropWaiter(w chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, lw := range p.loadWaiters {
		if lw == w {
			p.loadWaiters = append(p.loadWaiters[:i], p.loadWaiters[i+1:]...)
			return
		}
	}
}

// HasText reports whether the rendered text of the document body contains
// fragment.
func (p *Page) HasText(ctx context.Context, fragment string) (bool, error) {
	raw, err := p.client.Runtime.Evaluate(p.sessionContext(ctx), js.BodyTextScript)
	if err != nil {
		return false, err
	}
	var text string
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &text); err != nil {
			return false, fmt.Errorf("decoding body text: %w", err)
		}
	}
	return strings.Contains(text, fragment), nil
}

// ClearBrowserCache clears the HTTP cache of the browser.
func (p *Page) ClearBrowserCache(ctx context.Context) error {
	return p.client.Network.ClearBrowserCache(p.sessionContext(ctx))
}

// StartRecording starts counting the scripts and stylesheets the page
// loads, whether from the network or from the browser cache.
func (p *Page) StartRecording(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.recording = true
	p.responses = make(map[string]*trackedResponse)
	p.order = nil
	return nil
}

// StopRecording stops counting and returns the assets loaded since
// StartRecording. Sizes are decoded body sizes: the Content-Length of the
// response, or else the length of its body.
func (p *Page) StopRecording(ctx context.Context) (perf.AssetStats, error) {
	p.mu.Lock()
	p.recording = false
	tracked := make([]*trackedResponse, 0, len(p.order))
	for _, id := range p.order {
		tracked = append(tracked, p.responses[id])
	}
	p.responses = make(map[string]*trackedResponse)
	p.order = nil
	p.mu.Unlock()

	var stats perf.AssetStats
	for _, r := range tracked {
		size, err := p.responseSize(ctx, r)
		if err != nil {
			return perf.AssetStats{}, err
		}
		switch r.kind {
		case network.ResourceTypeScript:
			stats.ScriptCount++
			stats.ScriptBytes += size
		case network.ResourceTypeStylesheet:
			stats.StylesheetCount++
			stats.StylesheetBytes += size
		}
	}
	return stats, nil
}

func (p *Page) responseSize(ctx context.Context, r *trackedResponse) (int64, error) {
	if r.contentLength >= 0 {
		return r.contentLength, nil
	}
	body, err := p.client.Network.GetResponseBody(p.sessionContext(ctx), r.requestID)
	if err != nil {
		if ctx.Err() != nil {
			return 0, err
		}
		p.logger.Debugf("Page:responseSize", "sid:%v request:%v falling back to encoded length: %v",
			p.sessionID, r.requestID, err)
		return int64(r.encodedLength), nil
	}
	return int64(len(body)), nil
}

// Close closes the tab and disposes its browser context.
func (p *Page) Close(ctx context.Context) error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		if p.unsubscribe != nil {
			p.unsubscribe()
		}
		err = errors.Join(
			p.client.Target.CloseTarget(ctx, p.targetID),
			p.client.Target.DisposeBrowserContext(ctx, p.browserContextID),
		)
	})
	return err
}

func contentLength(h network.Headers) int64 {
	for k, v := range h {
		if !strings.EqualFold(k, "Content-Length") {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return -1
		}
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil || n < 0 {
			return -1
		}
		return n
	}
	return -1
}
