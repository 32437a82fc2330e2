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

package domains

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
)

// Network exposes the CDP Network domain actions.
type Network interface {
	Enable(ctx context.Context) error
	ClearBrowserCache(ctx context.Context) error
	SetCacheDisabled(ctx context.Context, disabled bool) error
	GetResponseBody(ctx context.Context, requestID string) ([]byte, error)
}

var _ Network = &networkDomain{}

type networkDomain struct {
	exec cdp.Executor
}

// NewNetwork returns a new CDP Network domain wrapper.
func NewNetwork(exec cdp.Executor) Network {
	return &networkDomain{exec}
}

func (n *networkDomain) Enable(ctx context.Context) error {
	if err := network.Enable().Do(cdp.WithExecutor(ctx, n.exec)); err != nil {
		return fmt.Errorf("enabling network CDP domain: %w", err)
	}
	return nil
}

func (n *networkDomain) ClearBrowserCache(ctx context.Context) error {
	if err := network.ClearBrowserCache().Do(cdp.WithExecutor(ctx, n.exec)); err != nil {
		return fmt.Errorf("clearing browser cache: %w", err)
	}
	return nil
}

func (n *networkDomain) SetCacheDisabled(ctx context.Context, disabled bool) error {
	if err := network.SetCacheDisabled(disabled).Do(cdp.WithExecutor(ctx, n.exec)); err != nil {
		return fmt.Errorf("setting cache disabled to %t: %w", disabled, err)
	}
	return nil
}

// GetResponseBody returns the decoded body of a finished request.
func (n *networkDomain) GetResponseBody(ctx context.Context, requestID string) ([]byte, error) {
	body, err := network.GetResponseBody(network.RequestID(requestID)).Do(cdp.WithExecutor(ctx, n.exec))
	if err != nil {
		return nil, fmt.Errorf("getting response body of %q: %w", requestID, err)
	}
	return body, nil
}
