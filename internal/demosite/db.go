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
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/grafana/browser-perfbudget/telemetry"
)

const (
	queryConfig          = "SELECT value FROM config WHERE name = ?"
	queryRouter          = "SELECT pattern, handler FROM router ORDER BY pattern"
	queryNode            = "SELECT nid, type, title, body FROM node WHERE nid = ?"
	queryNodeType        = "SELECT type, name, description FROM node_type WHERE type = ?"
	queryDerivative      = "SELECT uri FROM image_derivative WHERE nid = ? AND style = ?"
	queryInsertDeriv     = "INSERT INTO image_derivative (nid, style, uri) VALUES (?, ?, ?)"
	queryDeleteDerivs    = "DELETE FROM image_derivative"
	queryDeleteRouter    = "DELETE FROM router"
	queryInsertRoute     = "INSERT INTO router (pattern, handler) VALUES (?, ?)"
	queryUpdateNodeTitle = "UPDATE node SET title = ? WHERE nid = ?"
)

var schema = []string{ //nolint:gochecknoglobals
	`CREATE TABLE config (name TEXT PRIMARY KEY, value TEXT NOT NULL)`,
	`CREATE TABLE node_type (type TEXT PRIMARY KEY, name TEXT NOT NULL, description TEXT NOT NULL)`,
	`CREATE TABLE node (nid INTEGER PRIMARY KEY, type TEXT NOT NULL REFERENCES node_type(type), title TEXT NOT NULL, body TEXT NOT NULL)`,
	`CREATE TABLE router (pattern TEXT PRIMARY KEY, handler TEXT NOT NULL)`,
	`CREATE TABLE image_derivative (nid INTEGER NOT NULL, style TEXT NOT NULL, uri TEXT NOT NULL, PRIMARY KEY (nid, style))`,
}

var seed = []struct { //nolint:gochecknoglobals
	query string
	args  []any
}{
	{`INSERT INTO config (name, value) VALUES (?, ?)`, []any{"system.site", "Umami Food Magazine"}},
	{`INSERT INTO node_type (type, name, description) VALUES (?, ?, ?)`, []any{"recipe", "Recipe", "Recipes with ingredients and steps."}},
	{`INSERT INTO node_type (type, name, description) VALUES (?, ?, ?)`, []any{"article", "Article", "Time sensitive content."}},
	{`INSERT INTO node (nid, type, title, body) VALUES (?, ?, ?, ?)`, []any{1, "recipe", "Deep mediterranean quiche",
		"An easy quiche with roasted peppers, feta and olives. Bake until golden and serve warm."}},
	{`INSERT INTO node (nid, type, title, body) VALUES (?, ?, ?, ?)`, []any{2, "recipe", "Super easy vegetarian pasta bake",
		"A comforting pasta bake with tomatoes, mozzarella and fresh basil."}},
	{`INSERT INTO node (nid, type, title, body) VALUES (?, ?, ?, ?)`, []any{3, "article", "Give it a go and grow your own herbs",
		"Fresh herbs from the window sill make every dish better."}},
}

var routes = []struct{ pattern, handler string }{ //nolint:gochecknoglobals
	{"/node/{id}", handlerNode},
	{"/user/login", handlerLogin},
}

// db records every statement it runs.
type db struct {
	*sql.DB
	rec *telemetry.Recorder
}

func openDB(ctx context.Context, rec *telemetry.Recorder) (*db, error) {
	sqldb, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// every connection of an in-memory database is a separate database
	sqldb.SetMaxOpenConns(1)

	d := &db{DB: sqldb, rec: rec}
	if err := d.install(ctx); err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	return d, nil
}

func (d *db) install(ctx context.Context) error {
	for _, q := range schema {
		if _, err := d.DB.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	for _, s := range seed {
		if _, err := d.DB.ExecContext(ctx, s.query, s.args...); err != nil {
			return fmt.Errorf("seeding content: %w", err)
		}
	}
	return d.rebuildRouter(ctx)
}

func (d *db) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	d.rec.RecordQuery(query)
	return d.DB.ExecContext(ctx, query, args...)
}

func (d *db) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	d.rec.RecordQuery(query)
	return d.DB.QueryRowContext(ctx, query, args...)
}

func (d *db) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	d.rec.RecordQuery(query)
	return d.DB.QueryContext(ctx, query, args...)
}

func (d *db) rebuildRouter(ctx context.Context) error {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("rebuilding router: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	d.rec.RecordQuery(queryDeleteRouter)
	if _, err := tx.ExecContext(ctx, queryDeleteRouter); err != nil {
		return fmt.Errorf("clearing router: %w", err)
	}
	for _, r := range routes {
		d.rec.RecordQuery(queryInsertRoute)
		if _, err := tx.ExecContext(ctx, queryInsertRoute, r.pattern, r.handler); err != nil {
			return fmt.Errorf("inserting route %q: %w", r.pattern, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("rebuilding router: %w", err)
	}
	return nil
}

type route struct {
	Pattern string
	Handler string
}

func (d *db) loadRouter(ctx context.Context) ([]route, error) {
	rows, err := d.query(ctx, queryRouter)
	if err != nil {
		return nil, fmt.Errorf("loading router: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []route
	for rows.Next() {
		var r route
		if err := rows.Scan(&r.Pattern, &r.Handler); err != nil {
			return nil, fmt.Errorf("scanning route: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *db) config(ctx context.Context, name string) (string, error) {
	var v string
	if err := d.queryRow(ctx, queryConfig, name).Scan(&v); err != nil {
		return "", fmt.Errorf("loading config %q: %w", name, err)
	}
	return v, nil
}

type node struct {
	ID    int64
	Type  string
	Title string
	Body  string
}

var errNodeNotFound = errors.New("node not found")

func (d *db) node(ctx context.Context, nid int64) (node, error) {
	var n node
	err := d.queryRow(ctx, queryNode, nid).Scan(&n.ID, &n.Type, &n.Title, &n.Body)
	if errors.Is(err, sql.ErrNoRows) {
		return node{}, fmt.Errorf("loading node %d: %w", nid, errNodeNotFound)
	}
	if err != nil {
		return node{}, fmt.Errorf("loading node %d: %w", nid, err)
	}
	return n, nil
}

type nodeType struct {
	Type        string
	Name        string
	Description string
}

func (d *db) nodeType(ctx context.Context, typ string) (nodeType, error) {
	var t nodeType
	if err := d.queryRow(ctx, queryNodeType, typ).Scan(&t.Type, &t.Name, &t.Description); err != nil {
		return nodeType{}, fmt.Errorf("loading node type %q: %w", typ, err)
	}
	return t, nil
}

// derivative returns the image derivative of nid in style, generating it
// on first use.
func (d *db) derivative(ctx context.Context, nid int64, style string) (string, error) {
	var uri string
	err := d.queryRow(ctx, queryDerivative, nid, style).Scan(&uri)
	if err == nil {
		return uri, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("loading image derivative: %w", err)
	}

	uri = fmt.Sprintf("/files/styles/%s/node-%d.jpg", style, nid)
	if _, err := d.exec(ctx, queryInsertDeriv, nid, style, uri); err != nil {
		return "", fmt.Errorf("generating image derivative: %w", err)
	}
	return uri, nil
}

func (d *db) flushDerivatives(ctx context.Context) error {
	if _, err := d.exec(ctx, queryDeleteDerivs); err != nil {
		return fmt.Errorf("flushing image derivatives: %w", err)
	}
	return nil
}

func (d *db) updateNodeTitle(ctx context.Context, nid int64, title string) error {
	res, err := d.exec(ctx, queryUpdateNodeTitle, title, nid)
	if err != nil {
		return fmt.Errorf("updating node %d: %w", nid, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("updating node %d: %w", nid, errNodeNotFound)
	}
	return nil
}
