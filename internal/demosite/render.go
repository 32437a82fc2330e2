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
	"html/template"
)

var layoutTemplate = template.Must(template.New("layout").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}} | {{.SiteName}}</title>
{{range .Stylesheets}}<link rel="stylesheet" href="{{.}}">
{{end}}{{range .Scripts}}<script src="{{.}}" defer></script>
{{end}}</head>
<body>
<header><a href="/">{{.SiteName}}</a> <a href="/user/login">Log in</a></header>
<main>
<h1>{{.Title}}</h1>
{{.Content}}
</main>
</body>
</html>
`))

var nodeTemplate = template.Must(template.New("node").Parse(`<article class="node node--{{.Type.Type}}">
<span class="node__type">{{.Type.Name}}</span>
<img src="{{.Image}}" alt="{{.Node.Title}}">
<p>{{.Node.Body}}</p>
</article>`))

const loginForm = template.HTML(`<form method="post" action="/user/login">
<label>Username <input name="name"></label>
<label>Password <input name="pass" type="password"></label>
<button type="submit">Log in</button>
</form>`)

type layoutData struct {
	SiteName    string
	Title       string
	Content     template.HTML
	Scripts     []string
	Stylesheets []string
}

type nodeData struct {
	Node  node
	Type  nodeType
	Image string
}

func renderLayout(data layoutData) ([]byte, error) {
	var b bytes.Buffer
	if err := layoutTemplate.Execute(&b, data); err != nil {
		return nil, fmt.Errorf("rendering layout: %w", err)
	}
	return b.Bytes(), nil
}
