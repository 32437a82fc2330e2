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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/browser-perfbudget/log"
)

func TestRunIDContext(t *testing.T) {
	t.Parallel()

	assert.Empty(t, GetRunID(context.Background()))
	assert.Equal(t, "run-1", GetRunID(WithRunID(context.Background(), "run-1")))
}

func TestRegisterUnregister(t *testing.T) {
	ctx := WithRunID(context.Background(), "register-test")
	before := Registered()

	// pid values that are never signalled: Unregister removes them first.
	Register(ctx, log.NewNullLogger(), 999991)
	Register(ctx, log.NewNullLogger(), 999992)
	require.Equal(t, before+2, Registered())

	Unregister(ctx, 999991)
	Unregister(ctx, 999992)
	assert.Equal(t, before, Registered())
}
