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

package browserprocess

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/grafana/browser-perfbudget/log"
)

type processState struct {
	pid int
}

var (
	browserProcessRegister   = map[string]*processState{} //nolint:gochecknoglobals
	browserProcessRegisterMu = sync.Mutex{}               //nolint:gochecknoglobals
)

// Register records a browser process started for the run in ctx so that
// ForceProcessShutdown can find it.
func Register(ctx context.Context, logger *log.Logger, pid int) {
	browserProcessRegisterMu.Lock()
	defer browserProcessRegisterMu.Unlock()

	key := strconv.FormatInt(int64(pid), 10) + GetRunID(ctx)

	logger.Debugf("BrowserProcess:register", "registered BrowserProcess pid %d", pid)

	browserProcessRegister[key] = &processState{pid: pid}
}

// Unregister forgets a browser process that exited normally.
func Unregister(ctx context.Context, pid int) {
	browserProcessRegisterMu.Lock()
	defer browserProcessRegisterMu.Unlock()

	delete(browserProcessRegister, strconv.FormatInt(int64(pid), 10)+GetRunID(ctx))
}

// Registered returns the number of registered processes.
func Registered() int {
	browserProcessRegisterMu.Lock()
	defer browserProcessRegisterMu.Unlock()

	return len(browserProcessRegister)
}

// ForceProcessShutdown kills every browser process of the run in ctx, or
// every registered process when ctx has no run ID. It is called when the
// CLI is interrupted and a graceful browser close cannot be relied on.
func ForceProcessShutdown(ctx context.Context) {
	browserProcessRegisterMu.Lock()
	defer browserProcessRegisterMu.Unlock()

	runID := GetRunID(ctx)

	for k, v := range browserProcessRegister {
		if runID != "" && !strings.HasSuffix(k, runID) {
			continue
		}
		delete(browserProcessRegister, k)

		p, err := os.FindProcess(v.pid)
		if err != nil {
			// optimistically continue and don't kill the process
			continue
		}
		// no need to check the error for waiting the process to release
		// its resources or whether we could kill it as we're already
		// dying.
		_ = p.Release()
		_ = p.Kill()
	}
}
