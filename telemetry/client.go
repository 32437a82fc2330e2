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

package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/grafana/browser-perfbudget/perf"
)

// Client talks to the telemetry API of a remote site. It implements
// perf.ServerRecorder, perf.CacheRegistry and perf.Rebuilder.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the site at baseURL. A nil httpClient
// means http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// Reset clears the remote telemetry.
func (c *Client) Reset(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/telemetry", nil)
}

// Snapshot fetches the remote telemetry.
func (c *Client) Snapshot(ctx context.Context) (perf.ServerStats, error) {
	var s perf.ServerStats
	if err := c.do(ctx, http.MethodGet, "/telemetry", &s); err != nil {
		return perf.ServerStats{}, err
	}
	return s, nil
}

// Partitions lists the remote cache bins.
func (c *Client) Partitions(ctx context.Context) ([]perf.Partition, error) {
	var resp binsResponse
	if err := c.do(ctx, http.MethodGet, "/cache", &resp); err != nil {
		return nil, err
	}
	parts := make([]perf.Partition, len(resp.Bins))
	for i, name := range resp.Bins {
		parts[i] = &remoteBin{name: name, client: c}
	}
	return parts, nil
}

// RebuildAll asks the remote site to rebuild its derived state.
func (c *Client) RebuildAll(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/rebuild", nil)
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	u := c.baseURL + PathPrefix + path
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("creating %s %s request: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, u, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= http.StatusBadRequest {
		var e errorResponse
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(body, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(body))
		}
		return fmt.Errorf("%s %s: %s: %s", method, u, resp.Status, e.Error)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, u, err)
	}
	return nil
}

type remoteBin struct {
	name   string
	client *Client
}

func (b *remoteBin) Name() string { return b.name }

func (b *remoteBin) DeleteAll(ctx context.Context) error {
	return b.client.do(ctx, http.MethodDelete, "/cache/"+url.PathEscape(b.name), nil)
}
