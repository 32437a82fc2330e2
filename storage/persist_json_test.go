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

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPersister struct {
	path string
	data []byte
}

func (r *recordingPersister) Persist(_ context.Context, path string, data io.Reader) error {
	b, err := io.ReadAll(data)
	r.path, r.data = path, b
	return err
}

func TestPersistJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := filepath.Join(dir, "reports", "run.json")

	report := map[string]any{"label": "nodePageHotCache", "queryCount": 0}
	require.NoError(t, PersistJSON(context.Background(), &LocalFilePersister{}, p, report))

	b, err := os.ReadFile(p) //nolint:gosec
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "nodePageHotCache", got["label"])
	assert.Contains(t, string(b), "\n  \"label\"")
}

func TestPersistJSONEncodeError(t *testing.T) {
	t.Parallel()

	r := &recordingPersister{}
	err := PersistJSON(context.Background(), r, "bad.json", map[string]any{"ch": make(chan int)})
	require.Error(t, err)
	assert.Empty(t, r.path, "nothing is persisted")
}

func TestLocalFilePersisterCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := filepath.Join(t.TempDir(), "never.json")
	err := (&LocalFilePersister{}).Persist(ctx, p, nil)
	require.ErrorIs(t, err, context.Canceled)
	_, err = os.Stat(p)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestDir(t *testing.T) {
	t.Parallel()

	t.Run("temporary", func(t *testing.T) {
		t.Parallel()

		var d Dir
		require.NoError(t, d.Make(t.TempDir(), ""))
		assert.True(t, d.RemoveDir)
		_, err := os.Stat(d.Dir)
		require.NoError(t, err)

		require.NoError(t, d.Cleanup())
		_, err = os.Stat(d.Dir)
		assert.True(t, errors.Is(err, os.ErrNotExist))
		require.NoError(t, d.Cleanup(), "second cleanup is a no-op")
	})

	t.Run("given", func(t *testing.T) {
		t.Parallel()

		given := t.TempDir()
		var d Dir
		require.NoError(t, d.Make("", given))
		assert.Equal(t, given, d.Dir)
		require.NoError(t, d.Cleanup())
		_, err := os.Stat(given)
		assert.NoError(t, err, "directories passed in are kept")
	})

	t.Run("remove_error", func(t *testing.T) {
		t.Parallel()

		d := Dir{Dir: "x", RemoveDir: true, fsRemoveAll: func(string) error { return errors.New("busy") }}
		assert.EqualError(t, d.Cleanup(), `removing directory "x": busy`)
	})
}
