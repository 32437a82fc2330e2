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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/grafana/browser-perfbudget/browserprocess"
	"github.com/grafana/browser-perfbudget/log"
	"github.com/grafana/browser-perfbudget/storage"
)

// BrowserProcess is a locally launched browser.
type BrowserProcess struct {
	ctx    context.Context
	cancel context.CancelFunc

	// The process of the browser.
	process *os.Process

	// Closed when the process has exited and its data directory is gone.
	processDone <-chan struct{}

	// Browser's WebSocket URL to speak CDP
	wsURL string

	// The directory where user data for the browser is stored.
	userDataDir *storage.Dir

	logger *log.Logger
}

// NewBrowserProcess starts the browser at path and waits up to timeout for
// it to announce its DevTools URL. The process is killed when ctx is done.
func NewBrowserProcess(
	ctx context.Context, path string, args, env []string, dataDir *storage.Dir,
	timeout time.Duration, logger *log.Logger,
) (*BrowserProcess, error) {
	ctx, cancel := context.WithCancel(ctx)

	cmd, err := execute(ctx, path, args, env, dataDir, logger)
	if err != nil {
		cancel()
		return nil, err
	}

	pctx, pcancel := context.WithTimeout(ctx, timeout)
	defer pcancel()
	wsURL, err := parseDevToolsURL(pctx, cmd)
	if err != nil {
		cancel()
		<-cmd.done
		return nil, fmt.Errorf("getting DevTools URL: %w", err)
	}
	// the browser blocks on a full stderr pipe
	go func() { _, _ = io.Copy(io.Discard, cmd.stderr) }()

	p := BrowserProcess{
		ctx:         ctx,
		cancel:      cancel,
		process:     cmd.Process,
		processDone: cmd.done,
		wsURL:       wsURL,
		userDataDir: dataDir,
		logger:      logger,
	}

	return &p, nil
}

// Terminate kills the browser process and waits for it to exit.
func (p *BrowserProcess) Terminate() {
	p.logger.Debugf("BrowserProcess:Terminate", "pid:%d", p.Pid())
	p.cancel()
	<-p.processDone
}

// Wait waits up to timeout for the browser to exit on its own, then kills
// it.
func (p *BrowserProcess) Wait(timeout time.Duration) {
	select {
	case <-p.processDone:
		return
	case <-time.After(timeout):
		p.logger.Warnf("BrowserProcess:Wait", "pid:%d still running after %s, killing it", p.Pid(), timeout)
	}
	p.Terminate()
}

// Done is closed once the browser process has exited.
func (p *BrowserProcess) Done() <-chan struct{} {
	return p.processDone
}

// WsURL returns the Websocket URL that the browser is listening on for CDP clients.
func (p *BrowserProcess) WsURL() string {
	return p.wsURL
}

// Pid returns the browser process ID.
func (p *BrowserProcess) Pid() int {
	return p.process.Pid
}

type command struct {
	*exec.Cmd
	done   <-chan struct{}
	stderr io.Reader
}

func execute(
	ctx context.Context, path string, args, env []string, dataDir *storage.Dir,
	logger *log.Logger,
) (command, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	killAfterParent(cmd)

	// Set up environment variable for process
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	// A plain pipe, so reading stderr never races with cmd.Wait.
	stderr, w, err := os.Pipe()
	if err != nil {
		return command{}, fmt.Errorf("creating stderr pipe: %w", err)
	}
	cmd.Stderr = w

	// We must start the cmd before calling cmd.Wait, as otherwise the two
	// can run into a data race.
	err = cmd.Start()
	_ = w.Close()
	if os.IsNotExist(err) {
		_ = stderr.Close()
		return command{}, fmt.Errorf("file does not exist: %s", path)
	}
	if err != nil {
		_ = stderr.Close()
		return command{}, fmt.Errorf("starting browser: %w", err)
	}
	browserprocess.Register(ctx, logger, cmd.Process.Pid)

	done := make(chan struct{})
	go func() {
		defer func() {
			_ = stderr.Close()
			if err := dataDir.Cleanup(); err != nil {
				logger.Errorf("BrowserProcess:execute", "cleaning up the user data directory: %v", err)
			}
			browserprocess.Unregister(ctx, cmd.Process.Pid)
			close(done)
		}()

		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			logger.Errorf("BrowserProcess:execute",
				"process with PID %d unexpectedly ended: %v",
				cmd.Process.Pid, err)
		}
	}()

	return command{Cmd: cmd, done: done, stderr: stderr}, nil
}

var chromiumErrorLine = regexp.MustCompile(`^\[\d+:\d+:\d+/\d+\.\d+:ERROR:[^\]]+\] (.+)$`)

// parseDevToolsURL reads the DevTools WebSocket URL from the stderr of the
// browser. When stderr ends first, the last error logged by the browser is
// returned.
func parseDevToolsURL(ctx context.Context, cmd command) (string, error) {
	type result struct {
		devToolsURL string
		err         error
	}
	c := make(chan result, 1)
	go func() {
		const prefix = "DevTools listening on "

		var (
			scanner = bufio.NewScanner(cmd.stderr)
			lastErr error
		)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if url, ok := strings.CutPrefix(line, prefix); ok {
				c <- result{url, nil}
				return
			}
			if m := chromiumErrorLine.FindStringSubmatch(line); m != nil {
				lastErr = errors.New(m[1])
			}
		}
		if lastErr == nil {
			lastErr = scanner.Err()
		}
		if lastErr == nil {
			lastErr = errors.New("browser exited without a DevTools URL")
		}
		c <- result{"", lastErr}
	}()

	select {
	case r := <-c:
		return r.devToolsURL, r.err
	case <-cmd.done:
		return "", errors.New("browser process ended unexpectedly")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
