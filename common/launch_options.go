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
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// ErrBrowserNotFound is returned when no Chrome or Chromium binary is
// configured or found on the PATH.
var ErrBrowserNotFound = errors.New("browser executable not found")

// Defaults used by NewLaunchOptions.
const (
	DefaultTimeout        = 30 * time.Second
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 720
)

// LaunchOptions stores the options of a locally launched browser.
type LaunchOptions struct {
	ExecutablePath    string
	Headless          bool
	Args              []string
	Env               []string
	IgnoreHTTPSErrors bool
	// Timeout bounds the browser start and each navigation.
	Timeout   time.Duration
	UserAgent string
	// UserDataDir is kept on close. A temporary directory is used when
	// it is empty.
	UserDataDir string
	Viewport    *Viewport
}

// NewLaunchOptions creates a default set of launch options.
func NewLaunchOptions() *LaunchOptions {
	return &LaunchOptions{
		Headless: true,
		Timeout:  DefaultTimeout,
		Viewport: &Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight},
	}
}

// Validate validates the launch options.
func (o *LaunchOptions) Validate() error {
	if o.Timeout <= 0 {
		return fmt.Errorf("invalid timeout %s: precondition 0 < TIMEOUT failed", o.Timeout)
	}
	if err := o.Viewport.Validate(); err != nil {
		return fmt.Errorf("validating viewport option: %w", err)
	}

	return nil
}

// Viewport represents a viewport.
type Viewport struct {
	Width  int64
	Height int64
}

// Validate validates the viewport.
func (v *Viewport) Validate() error {
	if v == nil {
		return nil // nothing to validate
	}

	if v.Width <= 0 || v.Height <= 0 {
		return fmt.Errorf(`invalid viewport "%dx%d": precondition 0 < WIDTH, HEIGHT failed`, v.Width, v.Height)
	}

	return nil
}

// defaultArgs disable the background activity of the browser that would
// add requests or CPU noise to a measurement.
var defaultArgs = []string{ //nolint:gochecknoglobals
	"disable-background-networking",
	"disable-background-timer-throttling",
	"disable-backgrounding-occluded-windows",
	"disable-breakpad",
	"disable-component-extensions-with-background-pages",
	"disable-default-apps",
	"disable-dev-shm-usage",
	"disable-extensions",
	"disable-features=ImprovedCookieControls,LazyFrameLoading,GlobalMediaControls,DestroyProfileOnBrowserClose,MediaRouter,AcceptCHFrame",
	"disable-hang-monitor",
	"disable-ipc-flooding-protection",
	"disable-popup-blocking",
	"disable-prompt-on-repost",
	"disable-renderer-backgrounding",
	"disable-sync",
	"metrics-recording-only",
	"no-default-browser-check",
	"no-first-run",
	"no-service-autorun",
	"password-store=basic",
	"use-mock-keychain",
}

// args returns the command line flags of the browser.
func (o *LaunchOptions) args(userDataDir string) []string {
	args := make([]string, 0, len(defaultArgs)+len(o.Args)+8)
	for _, a := range defaultArgs {
		args = append(args, "--"+a)
	}
	args = append(args,
		"--remote-debugging-port=0",
		"--user-data-dir="+userDataDir,
	)
	if o.Headless {
		args = append(args, "--headless=new", "--hide-scrollbars", "--mute-audio")
	}
	if o.IgnoreHTTPSErrors {
		args = append(args, "--ignore-certificate-errors")
	}
	if o.UserAgent != "" {
		args = append(args, "--user-agent="+o.UserAgent)
	}
	if o.Viewport != nil {
		args = append(args, fmt.Sprintf("--window-size=%d,%d", o.Viewport.Width, o.Viewport.Height))
	}
	for _, a := range o.Args {
		if !strings.HasPrefix(a, "-") {
			a = "--" + a
		}
		args = append(args, a)
	}
	args = append(args, "about:blank")

	return args
}

// executable returns the configured browser binary, or the first known one
// found on the PATH.
func (o *LaunchOptions) executable() (string, error) {
	return findExecutable(o.ExecutablePath, exec.LookPath)
}

func findExecutable(configured string, lookPath func(string) (string, error)) (string, error) {
	if configured != "" {
		return configured, nil
	}

	candidates := []string{
		"chromium",
		"chromium-browser",
		"google-chrome",
		"google-chrome-stable",
		"google-chrome-beta",
		"headless_shell",
		"chrome",
	}
	switch runtime.GOOS {
	case "darwin":
		candidates = append(candidates,
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
		)
	case "windows":
		candidates = append(candidates, "chrome.exe",
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
		)
	}

	for _, c := range candidates {
		if p, err := lookPath(c); err == nil {
			return p, nil
		}
	}
	return "", ErrBrowserNotFound
}
