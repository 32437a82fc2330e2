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

// Package config loads the CLI configuration from environment variables and
// suite files.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Navigator kinds.
const (
	NavigatorBrowser = "browser"
	NavigatorHTTP    = "http"
)

// Config holds the run configuration.
type Config struct {
	// Target settings.
	BaseURL   string // Base URL of the site under test; empty with the demo site.
	Navigator string // "browser" or "http"

	// Browser settings.
	BrowserPath  string // Chrome binary; looked up on PATH when empty.
	BrowserWSURL string // DevTools URL of a running browser; nothing is launched when set.
	Headless     bool
	BrowserArgs  []string // Extra command line flags, comma separated in the environment.
	Timeout      time.Duration

	// Output settings.
	ReportPath  string
	MetricsFile string

	// Tracing settings.
	TracesEndpoint string
	TracesProto    string
	TracesInsecure bool

	// Logging settings.
	LogLevel          string
	LogCategoryFilter string
}

// Load reads configuration from environment variables with defaults.
func Load() (Config, error) {
	cfg := Config{
		BaseURL:           envStr("PERFBUDGET_BASE_URL", ""),
		Navigator:         envStr("PERFBUDGET_NAVIGATOR", NavigatorHTTP),
		BrowserPath:       envStr("PERFBUDGET_BROWSER_PATH", ""),
		BrowserWSURL:      envStr("PERFBUDGET_BROWSER_WS_URL", ""),
		Headless:          envBool("PERFBUDGET_HEADLESS", true),
		BrowserArgs:       envList("PERFBUDGET_BROWSER_ARGS"),
		Timeout:           envDuration("PERFBUDGET_TIMEOUT", 30*time.Second),
		ReportPath:        envStr("PERFBUDGET_REPORT", ""),
		MetricsFile:       envStr("PERFBUDGET_METRICS_FILE", ""),
		TracesEndpoint:    envStr("PERFBUDGET_TRACES_ENDPOINT", ""),
		TracesProto:       envStr("PERFBUDGET_TRACES_PROTO", "http"),
		TracesInsecure:    envBool("PERFBUDGET_TRACES_INSECURE", false),
		LogLevel:          envStr("PERFBUDGET_LOG_LEVEL", "info"),
		LogCategoryFilter: envStr("PERFBUDGET_LOG_CATEGORY_FILTER", ".*"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	var errs []error
	switch c.Navigator {
	case NavigatorBrowser, NavigatorHTTP:
	default:
		errs = append(errs, fmt.Errorf("config: PERFBUDGET_NAVIGATOR must be %q or %q, got %q",
			NavigatorBrowser, NavigatorHTTP, c.Navigator))
	}
	if c.Timeout <= 0 {
		errs = append(errs, errors.New("config: PERFBUDGET_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
