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

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/grafana/browser-perfbudget/perf"
)

// ErrEmptyBudget is returned for a suite budget that checks nothing.
var ErrEmptyBudget = errors.New("budget checks nothing")

// SuiteFile is the structure of a suite file.
type SuiteFile struct {
	BaseURL      string                 `yaml:"base_url" json:"base_url"`
	Label        string                 `yaml:"label" json:"label"`
	Target       perf.Target            `yaml:"target" json:"target"`
	Temperatures []string               `yaml:"temperatures" json:"temperatures"`
	Budgets      map[string]perf.Budget `yaml:"budgets" json:"budgets"`
	VerifyStable bool                   `yaml:"verify_stable" json:"verify_stable"`
}

// LoadSuiteFile reads a suite file. The format follows the extension:
// .yaml, .yml or .json.
func LoadSuiteFile(path string) (*SuiteFile, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("reading suite file: %w", err)
	}

	var f SuiteFile
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parsing YAML suite %q: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parsing JSON suite %q: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported suite format: %q", ext)
	}

	return &f, nil
}

// ToSuite converts the file into a perf.Suite. Budget keys are temperature
// names.
func (f *SuiteFile) ToSuite() (perf.Suite, error) {
	s := perf.Suite{
		Target:       f.Target,
		Label:        f.Label,
		VerifyStable: f.VerifyStable,
	}

	var errs []error
	for _, name := range f.Temperatures {
		t, err := perf.ParseTemperature(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		s.Temperatures = append(s.Temperatures, t)
	}

	if len(f.Budgets) > 0 {
		s.Budgets = make(map[perf.Temperature]perf.Budget, len(f.Budgets))
	}
	for name, b := range f.Budgets {
		t, err := perf.ParseTemperature(name)
		if err != nil {
			errs = append(errs, fmt.Errorf("budget: %w", err))
			continue
		}
		if err := b.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("budget %s: %w", t, err))
			continue
		}
		if b.IsEmpty() {
			errs = append(errs, fmt.Errorf("budget %s: %w", t, ErrEmptyBudget))
			continue
		}
		s.Budgets[t] = b
	}

	if err := errors.Join(errs...); err != nil {
		return perf.Suite{}, err
	}
	if _, err := s.Scenarios(); err != nil {
		return perf.Suite{}, err
	}
	return s, nil
}

// BaseURLOr returns the base URL of the file, or def when the file has none.
func (f *SuiteFile) BaseURLOr(def string) string {
	if f.BaseURL != "" {
		return f.BaseURL
	}
	return def
}
