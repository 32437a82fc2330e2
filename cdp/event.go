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

package cdp

import (
	"sync"

	"github.com/chromedp/cdproto"
)

// eventBufferSize is the per subscription buffer. The receive loop blocks
// on a full buffer so that no event is dropped.
const eventBufferSize = 128

// Event is a CDP event received from the browser.
type Event struct {
	Name      cdproto.MethodType
	SessionID string
	Data      any
}

type subscription struct {
	sessionID string
	events    map[cdproto.MethodType]bool
	ch        chan *Event
	done      chan struct{}
}

// eventWatcher dispatches events to subscriptions by name and session.
type eventWatcher struct {
	done <-chan struct{}

	subsMu sync.RWMutex
	subs   map[*subscription]struct{}
}

func newEventWatcher(done <-chan struct{}) *eventWatcher {
	return &eventWatcher{
		done: done,
		subs: make(map[*subscription]struct{}),
	}
}

// subscribe returns a channel receiving the named events of sessionID, and
// a function cancelling the subscription. The channel is never closed.
func (w *eventWatcher) subscribe(sessionID string, events ...cdproto.MethodType) (<-chan *Event, func()) {
	sub := &subscription{
		sessionID: sessionID,
		events:    make(map[cdproto.MethodType]bool, len(events)),
		ch:        make(chan *Event, eventBufferSize),
		done:      make(chan struct{}),
	}
	for _, e := range events {
		sub.events[e] = true
	}

	w.subsMu.Lock()
	w.subs[sub] = struct{}{}
	w.subsMu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			w.subsMu.Lock()
			delete(w.subs, sub)
			w.subsMu.Unlock()
			close(sub.done)
		})
	}
}

func (w *eventWatcher) notify(evt *Event) {
	w.subsMu.RLock()
	var targets []*subscription
	for sub := range w.subs {
		if sub.sessionID == evt.SessionID && sub.events[evt.Name] {
			targets = append(targets, sub)
		}
	}
	w.subsMu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.ch <- evt:
		case <-sub.done:
		case <-w.done:
			return
		}
	}
}
