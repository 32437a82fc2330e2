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

package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/grafana/browser-perfbudget/perf"
)

var (
	passColor = color.New(color.FgGreen, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
	dimColor  = color.New(color.Faint)
)

func printReport(w io.Writer, r *perf.Report) {
	fmt.Fprintf(w, "run %s: %s (%s)\n", r.RunID, r.Target, r.Finished.Sub(r.Started).Round(time.Millisecond))
	for _, res := range r.Results {
		status := passColor.Sprint("PASS")
		if !res.Passed() {
			status = failColor.Sprint("FAIL")
		}
		fmt.Fprintf(w, "  %s %s\n", status, res.Scenario)

		if res.Error != "" {
			fmt.Fprintf(w, "       %s\n", failColor.Sprint(res.Error))
		}
		for _, v := range res.Violations {
			fmt.Fprintf(w, "       %s\n", v)
		}
		if res.Sample != nil {
			fmt.Fprintf(w, "       %s\n", dimColor.Sprint(summarize(*res.Sample)))
		}
	}

	if r.Passed() {
		fmt.Fprintln(w, passColor.Sprint("all budgets met"))
		return
	}
	fmt.Fprintln(w, failColor.Sprint("budgets exceeded"))
}

func summarize(s perf.Sample) string {
	parts := make([]string, 0, len(perf.MetricNames()))
	for _, name := range perf.MetricNames() {
		v, _ := s.Metric(name)
		parts = append(parts, fmt.Sprintf("%s=%d", name, v))
	}
	return strings.Join(parts, " ")
}
