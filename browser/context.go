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

package browser

import (
	"context"
	"errors"
)

// Causes of a run context canceled by its session.
var (
	ErrBrowserGone   = errors.New("browser connection closed")
	ErrSessionClosed = errors.New("session closed")
)

// contextWithDoneChan returns a new context that is canceled either
// when the done channel is closed, with cause, or when ctx is canceled.
func contextWithDoneChan(ctx context.Context, done <-chan struct{}, cause error) context.Context {
	ctx, cancel := context.WithCancelCause(ctx)
	go func() {
		select {
		case <-done:
			cancel(cause)
		case <-ctx.Done():
			cancel(nil)
		}
	}()
	return ctx
}
