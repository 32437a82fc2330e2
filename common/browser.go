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

// Package common launches a Chrome or Chromium browser and drives its tabs
// over the DevTools protocol. A Page implements the navigator, browser
// cache and asset recording interfaces of the perf package.
package common

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/grafana/browser-perfbudget/cdp"
	"github.com/grafana/browser-perfbudget/log"
	"github.com/grafana/browser-perfbudget/storage"
)

// browserCloseTimeout bounds how long a closing browser may take to exit
// before it is killed.
const browserCloseTimeout = 5 * time.Second

// Browser is a connection to a browser, and the process running it when it
// was started by Launch.
type Browser struct {
	client      *cdp.Client
	browserProc *BrowserProcess
	timeout     time.Duration
	logger      *log.Logger

	pagesMu sync.Mutex
	pages   map[*Page]struct{}

	closeOnce sync.Once
}

// Launch starts a local browser with opts and connects to it.
func Launch(ctx context.Context, opts *LaunchOptions, logger *log.Logger) (*Browser, error) {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	if opts == nil {
		opts = NewLaunchOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("validating launch options: %w", err)
	}
	path, err := opts.executable()
	if err != nil {
		return nil, err
	}

	var dataDir storage.Dir
	if err := dataDir.Make("", opts.UserDataDir); err != nil {
		return nil, fmt.Errorf("creating user data directory: %w", err)
	}

	proc, err := NewBrowserProcess(ctx, path, opts.args(dataDir.Dir), opts.Env, &dataDir, opts.Timeout, logger)
	if err != nil {
		if cerr := dataDir.Cleanup(); cerr != nil {
			logger.Warnf("Browser:Launch", "%v", cerr)
		}
		return nil, fmt.Errorf("launching browser %q: %w", path, err)
	}
	logger.Debugf("Browser:Launch", "pid:%d wsURL:%q", proc.Pid(), proc.WsURL())

	b, err := connect(ctx, proc.WsURL(), opts.Timeout, logger)
	if err != nil {
		proc.Terminate()
		return nil, err
	}
	b.browserProc = proc

	return b, nil
}

// Connect connects to a running browser at its DevTools websocket URL. The
// browser is left running on Close.
func Connect(ctx context.Context, wsURL string, timeout time.Duration, logger *log.Logger) (*Browser, error) {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	return connect(ctx, wsURL, timeout, logger)
}

func connect(ctx context.Context, wsURL string, timeout time.Duration, logger *log.Logger) (*Browser, error) {
	client := cdp.NewClient(logger)
	if err := client.Connect(ctx, wsURL); err != nil {
		return nil, fmt.Errorf("connecting to browser DevTools URL: %w", err)
	}
	return &Browser{
		client:  client,
		timeout: timeout,
		logger:  logger,
		pages:   make(map[*Page]struct{}),
	}, nil
}

// Version returns the product name and the user agent of the browser.
func (b *Browser) Version(ctx context.Context) (product, userAgent string, err error) {
	return b.client.Browser.GetVersion(ctx)
}

// NewPage opens a tab in a new browser context. Relative paths given to
// its Navigate method are resolved against baseURL.
func (b *Browser) NewPage(ctx context.Context, baseURL string) (*Page, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL %q: %w", baseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base URL %q must be absolute", baseURL)
	}

	bctxID, err := b.client.Target.CreateBrowserContext(ctx, true)
	if err != nil {
		return nil, err
	}
	targetID, err := b.client.Target.CreateTarget(ctx, "about:blank", bctxID)
	if err != nil {
		_ = b.client.Target.DisposeBrowserContext(ctx, bctxID)
		return nil, err
	}
	sessionID, err := b.client.Target.AttachToTarget(ctx, targetID)
	if err != nil {
		_ = b.client.Target.CloseTarget(ctx, targetID)
		_ = b.client.Target.DisposeBrowserContext(ctx, bctxID)
		return nil, err
	}

	p := newPage(b.client, base, b.timeout, b.logger, bctxID, targetID, sessionID)
	if err := p.init(ctx); err != nil {
		_ = p.Close(ctx)
		return nil, fmt.Errorf("initializing page: %w", err)
	}
	b.logger.Debugf("Browser:NewPage", "tid:%v sid:%v bctxid:%v", targetID, sessionID, bctxID)

	b.pagesMu.Lock()
	b.pages[p] = struct{}{}
	b.pagesMu.Unlock()

	return p, nil
}

// Close closes every page, then the browser when it was launched by
// Launch, or else only the connection to it.
func (b *Browser) Close(ctx context.Context) error {
	var err error
	b.closeOnce.Do(func() {
		err = b.close(ctx)
	})
	return err
}

func (b *Browser) close(ctx context.Context) error {
	b.pagesMu.Lock()
	pages := make([]*Page, 0, len(b.pages))
	for p := range b.pages {
		pages = append(pages, p)
	}
	b.pages = make(map[*Page]struct{})
	b.pagesMu.Unlock()

	var errs []error
	for _, p := range pages {
		if err := p.Close(ctx); err != nil && !errors.Is(err, cdp.ErrClosed) {
			errs = append(errs, err)
		}
	}

	if b.browserProc == nil {
		errs = append(errs, b.client.Close())
		return errors.Join(errs...)
	}

	if err := b.client.Browser.Close(ctx); err != nil && !errors.Is(err, cdp.ErrClosed) {
		b.logger.Debugf("Browser:Close", "closing over CDP: %v", err)
	}
	_ = b.client.Close()
	b.browserProc.Wait(browserCloseTimeout)

	return errors.Join(errs...)
}

// Pid returns the process ID of a launched browser, or -1 for a browser
// reached with Connect.
func (b *Browser) Pid() int {
	if b.browserProc == nil {
		return -1
	}
	return b.browserProc.Pid()
}

// Done is closed when the connection to the browser is closed or lost.
func (b *Browser) Done() <-chan struct{} {
	return b.client.Done()
}
