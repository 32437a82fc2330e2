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

package log

import (
	"bytes"
	"regexp"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(t *testing.T, level logrus.Level, filter *regexp.Regexp) (*Logger, *bytes.Buffer) {
	t.Helper()

	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableColors: true})

	return New(l, filter), &buf
}

func TestLoggerCategory(t *testing.T) {
	t.Parallel()

	l, buf := newBufferLogger(t, logrus.DebugLevel, nil)
	l.Debugf("Runner:step", "scenario %q step %d", "hot", 1)

	out := buf.String()
	assert.Contains(t, out, `category="Runner:step"`)
	assert.Contains(t, out, `scenario \"hot\" step 1`)
	assert.Contains(t, out, "elapsed=")
}

func TestLoggerLevel(t *testing.T) {
	t.Parallel()

	l, buf := newBufferLogger(t, logrus.InfoLevel, nil)
	l.Debugf("cat", "hidden")
	assert.Empty(t, buf.String())
	assert.False(t, l.DebugMode())

	require.NoError(t, l.SetLevel("debug"))
	l.Debugf("cat", "shown")
	assert.Contains(t, buf.String(), "shown")
	assert.True(t, l.DebugMode())

	assert.Error(t, l.SetLevel("loud"))
}

func TestLoggerCategoryFilter(t *testing.T) {
	t.Parallel()

	l, buf := newBufferLogger(t, logrus.DebugLevel, regexp.MustCompile(`^cdp`))
	l.Infof("Runner:step", "skipped")
	l.Infof("cdp:send", "kept")

	out := buf.String()
	assert.NotContains(t, out, "skipped")
	assert.Contains(t, out, "kept")

	require.NoError(t, l.SetCategoryFilter(""))
	l.Infof("Runner:step", "now kept")
	assert.Contains(t, buf.String(), "now kept")

	assert.Error(t, l.SetCategoryFilter("("))
}

func TestNilLogger(t *testing.T) {
	t.Parallel()

	var l *Logger
	assert.NotPanics(t, func() { l.Errorf("cat", "nothing %d", 1) })
	assert.NotPanics(t, func() { NewNullLogger().Errorf("cat", "discarded") })
}
