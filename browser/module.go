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

// Package browser opens the navigator a run measures the site through: a
// local or remote Chrome driven over the DevTools protocol, or the
// browserless HTTP navigator.
package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/grafana/browser-perfbudget/common"
	"github.com/grafana/browser-perfbudget/config"
	"github.com/grafana/browser-perfbudget/httpnav"
	"github.com/grafana/browser-perfbudget/log"
	"github.com/grafana/browser-perfbudget/perf"
)

// Navigator is what a run needs from the page it drives.
type Navigator interface {
	perf.Navigator
	perf.BrowserCacheClearer
	perf.AssetRecorder
}

var (
	_ Navigator = &common.Page{}
	_ Navigator = &httpnav.Navigator{}
)

// Session is an open navigator and the browser behind it, if any.
type Session struct {
	Navigator

	kind      string
	browser   *common.Browser
	done      chan struct{}
	closeOnce sync.Once
}

// Open opens the navigator selected by cfg against baseURL.
func Open(ctx context.Context, cfg config.Config, baseURL string, logger *log.Logger) (*Session, error) {
	if logger == nil {
		logger = log.NewNullLogger()
	}

	if cfg.Navigator == config.NavigatorHTTP {
		nav, err := httpnav.New(baseURL, httpnav.WithTimeout(cfg.Timeout), httpnav.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return &Session{Navigator: nav, kind: config.NavigatorHTTP, done: make(chan struct{})}, nil
	}

	var (
		b   *common.Browser
		err error
	)
	if cfg.BrowserWSURL != "" {
		b, err = common.Connect(ctx, cfg.BrowserWSURL, cfg.Timeout, logger)
	} else {
		b, err = common.Launch(ctx, launchOptions(cfg), logger)
	}
	if err != nil {
		return nil, err
	}

	page, err := b.NewPage(ctx, baseURL)
	if err != nil {
		_ = b.Close(ctx)
		return nil, fmt.Errorf("opening page: %w", err)
	}
	if product, _, err := b.Version(ctx); err == nil {
		logger.Infof("browser:Open", "driving %s pid:%d", product, b.Pid())
	}

	return &Session{Navigator: page, kind: config.NavigatorBrowser, browser: b, done: make(chan struct{})}, nil
}

func launchOptions(cfg config.Config) *common.LaunchOptions {
	opts := common.NewLaunchOptions()
	opts.ExecutablePath = cfg.BrowserPath
	opts.Headless = cfg.Headless
	opts.Args = cfg.BrowserArgs
	opts.Timeout = cfg.Timeout
	return opts
}

// Kind returns the navigator kind, "browser" or "http".
func (s *Session) Kind() string { return s.kind }

// Pid returns the process ID of a launched browser, or -1.
func (s *Session) Pid() int {
	if s.browser == nil {
		return -1
	}
	return s.browser.Pid()
}

// Context returns a context that is canceled when ctx is, when the
// connection to the browser is lost, or when the session is closed.
func (s *Session) Context(ctx context.Context) context.Context {
	if s.browser == nil {
		return contextWithDoneChan(ctx, s.done, ErrSessionClosed)
	}
	return contextWithDoneChan(ctx, s.browser.Done(), ErrBrowserGone)
}

// Close closes the browser, if any, and cancels the contexts returned by
// Context. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.done) })
	if s.browser == nil {
		return nil
	}
	return s.browser.Close(ctx)
}
