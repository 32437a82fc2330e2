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

package perf

import (
	"errors"
	"fmt"
	"strings"
)

// Temperature names how much cache state exists before the measured
// navigation.
type Temperature string

// Cache temperatures, from nothing cached to everything cached.
const (
	// Cold: derived state has just been rebuilt.
	Cold Temperature = "cold"
	// Cool: only global, site wide caches are warm.
	Cool Temperature = "cool"
	// Warm: global and type level caches are warm, but nothing specific to
	// the target entry.
	Warm Temperature = "warm"
	// Hot: every cache layer is warm, including the browser cache.
	Hot Temperature = "hot"
)

// Temperatures returns the temperatures in canonical run order.
func Temperatures() []Temperature {
	return []Temperature{Cold, Cool, Warm, Hot}
}

// ParseTemperature parses a temperature name, case insensitively.
func ParseTemperature(s string) (Temperature, error) {
	t := Temperature(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := setups[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTemperature, s)
	}
	return t, nil
}

// StepKind is the kind of a scenario step.
type StepKind int

// Step kinds.
const (
	StepNavigate StepKind = iota
	StepClearAllCaches
	StepRebuildAll
	StepClearBrowserCache
)

func (k StepKind) String() string {
	switch k {
	case StepNavigate:
		return "navigate"
	case StepClearAllCaches:
		return "clearAllCaches"
	case StepRebuildAll:
		return "rebuildAll"
	case StepClearBrowserCache:
		return "clearBrowserCache"
	default:
		return fmt.Sprintf("StepKind(%d)", int(k))
	}
}

// Step is one action of a scenario. Path and Expect are only used by
// navigations; a non-empty Expect must appear in the resulting document.
type Step struct {
	Kind   StepKind
	Path   string
	Expect string
}

func (s Step) String() string {
	if s.Kind == StepNavigate {
		return fmt.Sprintf("navigate(%s)", s.Path)
	}
	return s.Kind.String()
}

// Navigate returns a navigation step.
func Navigate(path string) Step { return Step{Kind: StepNavigate, Path: path} }

// NavigateExpect returns a navigation step that checks for text.
func NavigateExpect(path, expect string) Step {
	return Step{Kind: StepNavigate, Path: path, Expect: expect}
}

// ClearAllCaches returns a step deleting every entry of every cache bin.
func ClearAllCaches() Step { return Step{Kind: StepClearAllCaches} }

// RebuildAll returns a step forcing a rebuild of all derived state.
func RebuildAll() Step { return Step{Kind: StepRebuildAll} }

// ClearBrowserCache returns a step dropping the browser HTTP cache.
func ClearBrowserCache() Step { return Step{Kind: StepClearBrowserCache} }

// Target describes the page under test and the helper pages used to
// reach each temperature.
type Target struct {
	// Path is the measured page, e.g. "/node/1".
	Path string `json:"path" yaml:"path"`
	// UnrelatedPath is a page sharing only global caches with Path.
	UnrelatedPath string `json:"unrelated" yaml:"unrelated"`
	// SiblingPath is a different page of the same type as Path.
	SiblingPath string `json:"sibling" yaml:"sibling"`
	// Expect is a text fragment the measured page must contain.
	Expect string `json:"expect" yaml:"expect"`
}

// Validate checks the paths needed by the given temperatures.
func (t Target) Validate(temps ...Temperature) error {
	var errs []error
	if t.Path == "" {
		errs = append(errs, errors.New("target path is empty"))
	}
	for _, temp := range temps {
		switch temp {
		case Cold, Cool:
			if t.UnrelatedPath == "" {
				errs = append(errs, fmt.Errorf("%s scenario needs an unrelated path", temp))
			}
		case Warm:
			if t.SiblingPath == "" {
				errs = append(errs, fmt.Errorf("%s scenario needs a sibling path", temp))
			}
		case Hot:
		default:
			errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownTemperature, temp))
		}
	}
	return errors.Join(errs...)
}

// Scenario is a named setup sequence plus one measured navigation.
type Scenario struct {
	Name        string
	Temperature Temperature
	Setup       []Step
	Measured    Step
}

type pageRole int

const (
	roleNone pageRole = iota
	roleTarget
	roleUnrelated
	roleSibling
)

type stepTemplate struct {
	kind StepKind
	role pageRole
}

// setups holds the ordered setup steps of every temperature. The measured
// navigation is always the target page.
var setups = map[Temperature][]stepTemplate{ //nolint:gochecknoglobals
	// The unrelated page absorbs first request artifacts of the browser
	// before everything derived is rebuilt.
	Cold: {
		{StepNavigate, roleUnrelated},
		{StepRebuildAll, roleNone},
	},
	// Visiting the target first materializes on-demand resources (image
	// derivatives) so they do not count against the measured request.
	Cool: {
		{StepNavigate, roleTarget},
		{StepClearAllCaches, roleNone},
		{StepNavigate, roleUnrelated},
	},
	Warm: {
		{StepNavigate, roleTarget},
		{StepClearAllCaches, roleNone},
		{StepNavigate, roleSibling},
	},
	// Twice, so aggregated assets are in the browser cache for sure.
	Hot: {
		{StepNavigate, roleTarget},
		{StepNavigate, roleTarget},
	},
}

// Scenario builds the canonical scenario for temp against t, labeled name.
func (t Target) Scenario(temp Temperature, name string) (Scenario, error) {
	tmpl, ok := setups[temp]
	if !ok {
		return Scenario{}, fmt.Errorf("%w: %q", ErrUnknownTemperature, temp)
	}
	if err := t.Validate(temp); err != nil {
		return Scenario{}, err
	}

	steps := make([]Step, 0, len(tmpl))
	for _, st := range tmpl {
		step := Step{Kind: st.kind}
		switch st.role {
		case roleTarget:
			step.Path = t.Path
		case roleUnrelated:
			step.Path = t.UnrelatedPath
		case roleSibling:
			step.Path = t.SiblingPath
		case roleNone:
		}
		steps = append(steps, step)
	}

	return Scenario{
		Name:        name,
		Temperature: temp,
		Setup:       steps,
		Measured:    NavigateExpect(t.Path, t.Expect),
	}, nil
}

// ScenarioLabel builds a sample label such as "nodePageHotCache".
func ScenarioLabel(prefix string, temp Temperature) string {
	if prefix == "" {
		prefix = "page"
	}
	s := string(temp)
	if s == "" {
		return prefix
	}
	return prefix + strings.ToUpper(s[:1]) + s[1:] + "Cache"
}
