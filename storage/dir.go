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
	"fmt"
	"os"
	"path/filepath"
)

const dirPrefix = "perfbudget-browser-data-"

// Dir manages a directory used by a browser process, typically its user
// data directory.
type Dir struct {
	Dir         string // path to the directory
	RemoveDir   bool   // whether to remove the directory on cleanup
	fsRemoveAll func(path string) error
}

// Make creates a new temporary directory in tmpDir, and stores the path to
// the directory in the Dir field. When dir is not empty it is used as is
// and kept on cleanup.
func (d *Dir) Make(tmpDir, dir string) error {
	if dir != "" {
		d.Dir = dir
		return nil
	}

	var err error
	if d.Dir, err = os.MkdirTemp(tmpDir, dirPrefix+"*"); err != nil {
		return fmt.Errorf("making user data directory: %w", err)
	}
	d.RemoveDir = true

	return nil
}

// Cleanup removes the directory if it was created by Make.
func (d *Dir) Cleanup() error {
	if !d.RemoveDir {
		return nil
	}
	d.RemoveDir = false

	rm := d.fsRemoveAll
	if rm == nil {
		rm = os.RemoveAll
	}
	if err := rm(filepath.Clean(d.Dir)); err != nil {
		return fmt.Errorf("removing directory %q: %w", d.Dir, err)
	}
	return nil
}
