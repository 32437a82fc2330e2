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

package demosite

import (
	"bytes"
	"fmt"
	"strconv"
)

// Sizes of the aggregated assets. The reference hot budget expects one
// script of 7000 to 8000 bytes and two stylesheets of 41500 to 42500 bytes.
const (
	scriptSize    = 7512
	baseCSSSize   = 11890
	themeCSSSize  = 30104
	assetMaxAge   = 31536000
	assetBasePath = "/assets/"
)

type asset struct {
	name        string
	contentType string
	body        []byte
}

// Assets are linked from every page in this order.
var (
	scriptAssets     = []string{"app.js"}
	stylesheetAssets = []string{"base.css", "theme.css"}
)

func buildAssets() map[string]asset {
	return map[string]asset{
		"app.js": {
			name:        "app.js",
			contentType: "application/javascript; charset=utf-8",
			body: fill(scriptSize,
				"(function () {\n  'use strict';\n",
				func(i int) string {
					return fmt.Sprintf("  window.umami%d = function (el) { return el && el.dataset ? el.dataset.v%d : null; };\n", i, i)
				},
				"})();\n", "//", "\n"),
		},
		"base.css": {
			name:        "base.css",
			contentType: "text/css; charset=utf-8",
			body: fill(baseCSSSize,
				"html{box-sizing:border-box;font-family:sans-serif}\n",
				func(i int) string {
					return fmt.Sprintf(".u-m-%d{margin:%dpx}.u-p-%d{padding:%dpx}\n", i, i%64, i, i%48)
				},
				"", "/*", "*/\n"),
		},
		"theme.css": {
			name:        "theme.css",
			contentType: "text/css; charset=utf-8",
			body: fill(themeCSSSize,
				":root{--umami-accent:#b5482f;--umami-text:#222}\n",
				func(i int) string {
					return fmt.Sprintf(".card--%d .card__title{color:var(--umami-text);font-size:%d.%dem}\n", i, 1+i%3, i%10)
				},
				"", "/*", "*/\n"),
		},
	}
}

// fill builds exactly size bytes: head, as many generated lines as fit,
// tail, and a comment padding the remainder.
func fill(size int, head string, line func(int) string, tail, open, closing string) []byte {
	var b bytes.Buffer
	b.WriteString(head)
	reserve := len(tail) + len(open) + len(closing)
	for i := 0; ; i++ {
		l := line(i)
		if b.Len()+len(l)+reserve > size {
			break
		}
		b.WriteString(l)
	}
	b.WriteString(tail)
	pad := size - b.Len() - len(open) - len(closing)
	b.WriteString(open)
	b.Write(bytes.Repeat([]byte(" "), pad))
	b.WriteString(closing)
	return b.Bytes()
}

func cacheControl() string {
	return "public, max-age=" + strconv.Itoa(assetMaxAge)
}
