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

// Package cdp is a minimal Chrome DevTools Protocol client: a websocket
// connection, command execution with responses routed by message ID, and
// event subscriptions filtered by session.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"

	"github.com/grafana/browser-perfbudget/cdp/domains"
	"github.com/grafana/browser-perfbudget/log"
)

// ErrClosed is returned by commands issued after the connection closed.
var ErrClosed = errors.New("CDP connection closed")

var _ cdp.Executor = &Client{}

// Client manages CDP communication with the browser.
type Client struct {
	logger *log.Logger

	Browser domains.Browser
	Network domains.Network
	Page    domains.Page
	Runtime domains.Runtime
	Target  domains.Target

	conn  *connection
	msgID int64

	sendCh    chan *cdproto.Message
	msgSubsMu sync.Mutex
	msgSubs   map[int64]chan *cdproto.Message
	watcher   *eventWatcher

	done      chan struct{}
	closeOnce sync.Once
	err       error
	wsURL     string
}

// NewClient returns a new Client that is unusable until a CDP connection is
// established with Connect().
func NewClient(logger *log.Logger) *Client {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	c := &Client{
		logger:  logger,
		sendCh:  make(chan *cdproto.Message, 32), // Buffered to avoid blocking in Execute
		msgSubs: make(map[int64]chan *cdproto.Message),
		done:    make(chan struct{}),
	}
	c.watcher = newEventWatcher(c.done)

	c.Browser = domains.NewBrowser(c)
	c.Network = domains.NewNetwork(c)
	c.Page = domains.NewPage(c)
	c.Runtime = domains.NewRuntime(c)
	c.Target = domains.NewTarget(c)

	return c
}

// Connect to the browser that exposes a CDP API at wsURL.
func (c *Client) Connect(ctx context.Context, wsURL string) (err error) {
	if c.wsURL != "" {
		return fmt.Errorf("CDP connection already established to %q", c.wsURL)
	}

	if c.conn, err = newConnection(ctx, wsURL, c.logger); err != nil {
		return err
	}
	c.logger.Debugf("Client:Connect", "established CDP connection to %q", wsURL)
	c.wsURL = wsURL

	go c.recvLoop()
	go c.sendLoop()

	return nil
}

// Close closes the connection. Pending and future commands fail with
// ErrClosed.
func (c *Client) Close() error {
	c.shutdown(ErrClosed)
	if c.conn == nil {
		return nil
	}
	return c.conn.close(websocket.CloseNormalClosure)
}

// Done is closed when the connection is closed or lost.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection closed, or nil while it is open.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		close(c.done)
	})
}

// Execute implements cdp.Executor and performs a synchronous send and
// receive. The command goes to the session in ctx, or to the browser.
func (c *Client) Execute(ctx context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler) error {
	c.logger.Debugf("Client:Execute", "wsURL:%q sid:%q method:%q", c.wsURL, GetSessionID(ctx), method)

	var buf []byte
	if params != nil {
		var err error
		if buf, err = easyjson.Marshal(params); err != nil {
			return fmt.Errorf("encoding %s params: %w", method, err)
		}
	}

	id := atomic.AddInt64(&c.msgID, 1)
	msg := &cdproto.Message{
		ID:     id,
		Method: cdproto.MethodType(method),
		Params: buf,
	}
	// We use different sessions to send messages to "targets" (browser,
	// page, etc.) in CDP. Without a session ID the message is for the
	// browser target.
	if sid := GetSessionID(ctx); sid != "" {
		msg.SessionID = target.SessionID(sid)
	}

	// Register before sending so a fast reply is never missed.
	recvCh := make(chan *cdproto.Message, 1)
	c.msgSubsMu.Lock()
	c.msgSubs[id] = recvCh
	c.msgSubsMu.Unlock()
	defer func() {
		c.msgSubsMu.Lock()
		delete(c.msgSubs, id)
		c.msgSubsMu.Unlock()
	}()

	select {
	case c.sendCh <- msg:
	case <-c.done:
		return fmt.Errorf("sending %s: %w", method, c.err)
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case reply := <-recvCh:
		switch {
		case reply.Error != nil:
			return fmt.Errorf("%s: %w", method, reply.Error)
		case res != nil:
			return easyjson.Unmarshal(reply.Result, res)
		}
		return nil
	case <-c.done:
		return fmt.Errorf("waiting for %s: %w", method, c.err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe returns a channel receiving the given events for the session
// in ctx, and a function cancelling the subscription.
func (c *Client) Subscribe(ctx context.Context, events ...cdproto.MethodType) (<-chan *Event, func()) {
	return c.watcher.subscribe(GetSessionID(ctx), events...)
}

func (c *Client) recvLoop() {
	for {
		msg, err := c.conn.readMessage()
		if err != nil {
			if isClosedError(err) {
				c.logger.Debugf("Client:recvLoop", "wsURL:%q closed: %v", c.wsURL, err)
				c.shutdown(fmt.Errorf("%w: %w", ErrClosed, err))
				return
			}
			c.logger.Errorf("Client:recvLoop", "wsURL:%q err:%v", c.wsURL, err)
			c.shutdown(err)
			return
		}

		switch {
		case msg.Method != "":
			evt, err := cdproto.UnmarshalMessage(msg)
			if err != nil {
				c.logger.Debugf("Client:recvLoop", "skipping event %q: %v", msg.Method, err)
				continue
			}
			c.watcher.notify(&Event{
				Name:      msg.Method,
				SessionID: string(msg.SessionID),
				Data:      evt,
			})
		case msg.ID > 0:
			c.msgSubsMu.Lock()
			ch, ok := c.msgSubs[msg.ID]
			c.msgSubsMu.Unlock()
			if !ok {
				c.logger.Debugf("Client:recvLoop", "no caller waiting for message %d", msg.ID)
				continue
			}
			select {
			case ch <- msg:
			default:
				c.logger.Debugf("Client:recvLoop", "duplicate reply for message %d", msg.ID)
			}
		default:
			c.logger.Errorf("Client:recvLoop", "ignoring malformed incoming CDP message (missing id or method): %#v", msg)
		}
	}
}

func (c *Client) sendLoop() {
	for {
		select {
		case msg := <-c.sendCh:
			if err := c.conn.writeMessage(msg); err != nil {
				c.logger.Errorf("Client:sendLoop", "wsURL:%q writing message %d: %v", c.wsURL, msg.ID, err)
				c.shutdown(fmt.Errorf("%w: %w", ErrClosed, err))
				_ = c.conn.close(websocket.CloseInternalServerErr)
				return
			}
		case <-c.done:
			c.logger.Debugf("Client:sendLoop", "wsURL:%q done", c.wsURL)
			return
		}
	}
}
