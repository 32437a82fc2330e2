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
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jwriter"
	"github.com/oxtoacart/bpool"

	"github.com/grafana/browser-perfbudget/log"
)

const (
	wsWriteBufferSize = 1 << 20
	wsReadBufferSize  = 1 << 20
	handshakeTimeout  = 10 * time.Second
)

// connection is the websocket transport of a CDP client. Reads happen in a
// single goroutine, writes are serialized by the send loop of the client.
type connection struct {
	conn    *websocket.Conn
	wsURL   string
	buffers *bpool.BufferPool
	logger  *log.Logger
}

func newConnection(ctx context.Context, wsURL string, logger *log.Logger) (*connection, error) {
	d := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
		ReadBufferSize:   wsReadBufferSize,
		WriteBufferSize:  wsWriteBufferSize,
	}
	conn, _, err := d.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %q: %w", wsURL, err)
	}

	return &connection{
		conn:    conn,
		wsURL:   wsURL,
		buffers: bpool.NewBufferPool(32),
		logger:  logger,
	}, nil
}

func (c *connection) readMessage() (*cdproto.Message, error) {
	typ, buf, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if typ != websocket.TextMessage {
		return nil, fmt.Errorf("unexpected websocket message type %d", typ)
	}

	var msg cdproto.Message
	if err := easyjson.Unmarshal(buf, &msg); err != nil {
		return nil, fmt.Errorf("decoding CDP message: %w", err)
	}
	c.logger.Tracef("connection:readMessage", "wsURL:%q <- %s", c.wsURL, buf)

	return &msg, nil
}

func (c *connection) writeMessage(msg *cdproto.Message) error {
	var w jwriter.Writer
	msg.MarshalEasyJSON(&w)
	if w.Error != nil {
		return fmt.Errorf("encoding CDP message %d: %w", msg.ID, w.Error)
	}

	buf := c.buffers.Get()
	defer c.buffers.Put(buf)
	if _, err := w.DumpTo(buf); err != nil {
		return fmt.Errorf("encoding CDP message %d: %w", msg.ID, err)
	}
	c.logger.Tracef("connection:writeMessage", "wsURL:%q -> %s", c.wsURL, buf.Bytes())

	return c.conn.WriteMessage(websocket.TextMessage, buf.Bytes())
}

// close sends a close frame and closes the underlying connection.
func (c *connection) close(code int) error {
	msg := websocket.FormatCloseMessage(code, "")
	err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) && !errors.Is(err, net.ErrClosed) {
		c.logger.Debugf("connection:close", "wsURL:%q sending close frame: %v", c.wsURL, err)
	}
	return c.conn.Close()
}

// isClosedError reports whether err means the connection went away, as
// opposed to a protocol or decoding error.
func isClosedError(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	var ce *websocket.CloseError
	return errors.As(err, &ce)
}
