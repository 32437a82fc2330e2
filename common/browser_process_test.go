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
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/browser-perfbudget/log"
	"github.com/grafana/browser-perfbudget/storage"
)

type mockReader struct {
	lines []string
	err   error
}

func (r mockReader) Read(p []byte) (n int, err error) {
	for _, l := range r.lines {
		n += copy(p, []byte(l+"\n"))
	}
	return n, r.err
}

func TestParseDevToolsURL(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name               string
		stderr             []string
		readErr            error
		prematureCtxCancel bool
		prematureCmdDone   bool
		assert             func(t *testing.T, wsURL string, err error)
	}{
		{
			name: "ok/no_error",
			stderr: []string{
				`DevTools listening on ws://127.0.0.1:41315/devtools/browser/d1d3f8eb-b362-4f12-9370-bd25778d0da7`,
			},
			assert: func(t *testing.T, wsURL string, err error) {
				t.Helper()
				require.NoError(t, err)
				assert.Equal(t, "ws://127.0.0.1:41315/devtools/browser/d1d3f8eb-b362-4f12-9370-bd25778d0da7", wsURL)
			},
		},
		{
			name: "ok/non-fatal_error",
			stderr: []string{
				`[23400:23418:1028/115455.877614:ERROR:bus.cc(399)] Failed to ` +
					`connect to the bus: Could not parse server address: ` +
					`Unknown address type (examples of valid types are "tcp" ` +
					`and on UNIX "unix")`,
				"",
				`DevTools listening on ws://127.0.0.1:41315/devtools/browser/d1d3f8eb-b362-4f12-9370-bd25778d0da7`,
			},
			assert: func(t *testing.T, wsURL string, err error) {
				t.Helper()
				require.NoError(t, err)
				assert.Equal(t, "ws://127.0.0.1:41315/devtools/browser/d1d3f8eb-b362-4f12-9370-bd25778d0da7", wsURL)
			},
		},
		{
			name: "err/fatal-eof",
			stderr: []string{
				`[6497:6497:1013/103521.932979:ERROR:ozone_platform_x11` +
					`.cc(247)] Missing X server or $DISPLAY` + "\n",
			},
			readErr: io.ErrUnexpectedEOF,
			assert: func(t *testing.T, wsURL string, err error) {
				t.Helper()
				require.Empty(t, wsURL)
				assert.EqualError(t, err, "Missing X server or $DISPLAY")
			},
		},
		{
			name:    "err/fatal-eof-no_stderr",
			readErr: io.ErrUnexpectedEOF,
			assert: func(t *testing.T, wsURL string, err error) {
				t.Helper()
				require.Empty(t, wsURL)
				assert.EqualError(t, err, "unexpected EOF")
			},
		},
		{
			name:    "err/clean-eof-no_url",
			stderr:  []string{`[1:1:0101/000000.000000:INFO:startup.cc(1)] starting`},
			readErr: io.EOF,
			assert: func(t *testing.T, wsURL string, err error) {
				t.Helper()
				require.Empty(t, wsURL)
				assert.EqualError(t, err, "browser exited without a DevTools URL")
			},
		},
		{
			name:             "err/fatal-premature_cmd_done",
			stderr:           []string{""},
			prematureCmdDone: true,
			assert: func(t *testing.T, wsURL string, err error) {
				t.Helper()
				require.Empty(t, wsURL)
				assert.EqualError(t, err, "browser process ended unexpectedly")
			},
		},
		{
			name:               "err/fatal-premature_ctx_cancel",
			stderr:             []string{""},
			prematureCtxCancel: true,
			assert: func(t *testing.T, wsURL string, err error) {
				t.Helper()
				require.Empty(t, wsURL)
				assert.EqualError(t, err, "context canceled")
			},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			mr := mockReader{lines: tc.stderr, err: tc.readErr}
			cmdDone := make(chan struct{})
			cmd := command{done: cmdDone, stderr: mr}

			ctx, cancel := context.WithCancel(context.Background())
			t.Cleanup(cancel)

			timeout := time.Second
			timer := time.NewTimer(timeout)
			t.Cleanup(func() { _ = timer.Stop() })

			var (
				done  = make(chan struct{})
				wsURL string
				err   error
			)

			go func() {
				wsURL, err = parseDevToolsURL(ctx, cmd)
				close(done)
			}()

			if tc.prematureCmdDone {
				time.Sleep(200 * time.Millisecond)
				close(cmdDone)
			}

			if tc.prematureCtxCancel {
				time.Sleep(200 * time.Millisecond)
				cancel()
			}

			select {
			case <-done:
				tc.assert(t, wsURL, err)
			case <-timer.C:
				t.Errorf("test timed out after %s", timeout)
			}
		})
	}
}

func writeFakeBrowser(t *testing.T, script string) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("fake browser is a shell script")
	}
	p := filepath.Join(t.TempDir(), "fake-browser")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+script), 0o700)) //nolint:gosec
	return p
}

func TestNewBrowserProcess(t *testing.T) {
	t.Parallel()

	path := writeFakeBrowser(t, `echo "starting" >&2
echo "DevTools listening on ws://127.0.0.1:9222/devtools/browser/fake" >&2
exec sleep 30
`)

	var dataDir storage.Dir
	require.NoError(t, dataDir.Make(t.TempDir(), ""))

	p, err := NewBrowserProcess(context.Background(), path, nil, []string{"FOO=bar"}, &dataDir, 5*time.Second, log.NewNullLogger())
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:9222/devtools/browser/fake", p.WsURL())
	assert.Positive(t, p.Pid())

	p.Wait(10 * time.Millisecond)
	select {
	case <-p.Done():
	default:
		t.Fatal("process still running")
	}
	_, err = os.Stat(dataDir.Dir)
	assert.True(t, os.IsNotExist(err), "user data directory is removed")
}

func TestNewBrowserProcessFails(t *testing.T) {
	t.Parallel()

	path := writeFakeBrowser(t, `echo "[1:1:0101/000000.000000:ERROR:fake.cc(1)] no display" >&2
exit 1
`)

	var dataDir storage.Dir
	require.NoError(t, dataDir.Make(t.TempDir(), ""))

	_, err := NewBrowserProcess(context.Background(), path, nil, nil, &dataDir, 5*time.Second, log.NewNullLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "getting DevTools URL")

	_, err = NewBrowserProcess(context.Background(), filepath.Join(t.TempDir(), "missing"), nil, nil, &storage.Dir{}, time.Second, log.NewNullLogger())
	assert.ErrorContains(t, err, "file does not exist")
}
