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

// Package demosite is a small content site with layered caches, used as
// the system under test by the tests and by the CLI demo mode.
//
// A page request first looks up the page bin, whose entries are tagged with
// the node and the site config. On a miss the page is rendered from the
// config bin (global), the discovery bin (router table), the data bin (node
// types) and the render bin (per node), each falling back to the database.
package demosite

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/singleflight"

	"github.com/grafana/browser-perfbudget/cache"
	"github.com/grafana/browser-perfbudget/log"
	"github.com/grafana/browser-perfbudget/perf"
	"github.com/grafana/browser-perfbudget/telemetry"
)

// Cache bin names.
const (
	BinPage      = "page"
	BinRender    = "render"
	BinData      = "data"
	BinConfig    = "config"
	BinDiscovery = "discovery"
)

const (
	handlerNode  = "node"
	handlerLogin = "login"

	configSite   = "system.site"
	imageStyle   = "large"
	routerKey    = "router"
	tagSite      = "config:" + configSite
	expectedText = "quiche"

	// the router table is rebuilt at least this often
	routerTTL = 10 * time.Minute
)

// Site is the demo site.
type Site struct {
	db     *db
	rec    *telemetry.Recorder
	caches *cache.Registry
	assets map[string]asset
	logger *log.Logger
	engine *gin.Engine
	pages  singleflight.Group

	page, render, data, config, discovery *cache.Bin
}

// New installs the demo content into a fresh in-memory database.
func New(ctx context.Context, logger *log.Logger) (*Site, error) {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	rec := telemetry.NewRecorder()
	d, err := openDB(ctx, rec)
	if err != nil {
		return nil, err
	}

	reg := cache.NewRegistry(rec)
	s := &Site{
		db:        d,
		rec:       rec,
		caches:    reg,
		assets:    buildAssets(),
		logger:    logger,
		page:      reg.Bin(BinPage),
		render:    reg.Bin(BinRender),
		data:      reg.Bin(BinData),
		config:    reg.Bin(BinConfig),
		discovery: reg.Bin(BinDiscovery, cache.WithTTL(routerTTL)),
	}
	s.engine = s.newEngine()

	// installing is not part of any measurement
	_ = rec.Reset(ctx)

	return s, nil
}

// Handler returns the HTTP handler of the site, telemetry API included.
func (s *Site) Handler() http.Handler { return s.engine }

// Recorder returns the telemetry recorder of the site.
func (s *Site) Recorder() *telemetry.Recorder { return s.rec }

// Caches returns the cache bins of the site.
func (s *Site) Caches() *cache.Registry { return s.caches }

// Close closes the database.
func (s *Site) Close() error { return s.db.Close() }

// Target returns the page set used to measure the site: a recipe, the
// login page as unrelated page and another recipe as sibling.
func Target() perf.Target {
	return perf.Target{
		Path:          "/node/1",
		UnrelatedPath: "/user/login",
		SiblingPath:   "/node/2",
		Expect:        expectedText,
	}
}

// RebuildAll rebuilds every piece of derived state: it empties all bins,
// flushes image derivatives and rebuilds the router table.
func (s *Site) RebuildAll(ctx context.Context) error {
	if err := s.caches.DeleteAll(ctx); err != nil {
		return fmt.Errorf("clearing caches: %w", err)
	}
	if err := s.db.flushDerivatives(ctx); err != nil {
		return err
	}
	if err := s.db.rebuildRouter(ctx); err != nil {
		return err
	}
	s.logger.Debugf("Site:RebuildAll", "rebuilt router and flushed %d bins", len(s.caches.Names()))
	return nil
}

// UpdateNode changes the title of a node and invalidates its cache tag.
func (s *Site) UpdateNode(ctx context.Context, nid int64, title string) error {
	if err := s.db.updateNodeTitle(ctx, nid, title); err != nil {
		return err
	}
	s.caches.Tags().Invalidate(nodeTag(nid))
	s.logger.Debugf("Site:UpdateNode", "nid:%d invalidated tags:%v", nid, s.caches.Tags().Invalidated())
	return nil
}

func (s *Site) newEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	telemetry.RegisterRoutes(r, telemetry.NewHandler(s.rec, s.caches, s, s.logger))

	r.GET("/favicon.ico", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET(assetBasePath+":file", s.serveAsset)
	r.NoRoute(s.servePage)

	return r
}

func (s *Site) serveAsset(c *gin.Context) {
	a, ok := s.assets[c.Param("file")]
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	c.Header("Cache-Control", cacheControl())
	c.Header("Content-Length", strconv.Itoa(len(a.body)))
	c.Data(http.StatusOK, a.contentType, a.body)
}

type page struct {
	status int
	body   []byte
}

var errNoRoute = errors.New("no route")

func (s *Site) servePage(c *gin.Context) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		c.Status(http.StatusMethodNotAllowed)
		return
	}
	ctx := c.Request.Context()
	path := c.Request.URL.Path

	if v, ok := s.page.Get(path); ok {
		p := v.(page) //nolint:forcetypeassert
		c.Header("X-Cache", "HIT")
		c.Data(p.status, "text/html; charset=utf-8", p.body)
		return
	}

	v, err, _ := s.pages.Do(path, func() (any, error) {
		return s.build(ctx, path)
	})
	switch {
	case errors.Is(err, errNoRoute), errors.Is(err, errNodeNotFound):
		c.Data(http.StatusNotFound, "text/html; charset=utf-8", []byte("<!DOCTYPE html><title>Page not found</title><h1>Page not found</h1>"))
		return
	case err != nil:
		s.logger.Errorf("Site:servePage", "path:%q err:%v", path, err)
		c.Status(http.StatusInternalServerError)
		return
	}

	p := v.(page) //nolint:forcetypeassert
	c.Header("X-Cache", "MISS")
	c.Data(p.status, "text/html; charset=utf-8", p.body)
}

// build renders path and stores it in the page bin.
func (s *Site) build(ctx context.Context, path string) (page, error) {
	siteName, err := s.siteName(ctx)
	if err != nil {
		return page{}, err
	}
	rt, params, err := s.route(ctx, path)
	if err != nil {
		return page{}, err
	}

	var (
		content template.HTML
		title   string
		tags    = []string{tagSite}
	)
	switch rt.Handler {
	case handlerNode:
		nid, err := strconv.ParseInt(params["id"], 10, 64)
		if err != nil {
			return page{}, fmt.Errorf("node %q: %w", params["id"], errNodeNotFound)
		}
		r, err := s.renderNode(ctx, nid)
		if err != nil {
			return page{}, err
		}
		content, title = r.HTML, r.Title
		tags = append(tags, nodeTag(nid))
	case handlerLogin:
		content, title = loginForm, "Log in"
	default:
		return page{}, fmt.Errorf("%w: handler %q", errNoRoute, rt.Handler)
	}

	body, err := renderLayout(layoutData{
		SiteName:    siteName,
		Title:       title,
		Content:     content,
		Scripts:     assetURLs(scriptAssets),
		Stylesheets: assetURLs(stylesheetAssets),
	})
	if err != nil {
		return page{}, err
	}

	p := page{status: http.StatusOK, body: body}
	s.page.Set(path, p, tags...)
	return p, nil
}

func (s *Site) siteName(ctx context.Context) (string, error) {
	if v, ok := s.config.Get(configSite); ok {
		return v.(string), nil //nolint:forcetypeassert
	}
	name, err := s.db.config(ctx, configSite)
	if err != nil {
		return "", err
	}
	s.config.Set(configSite, name)
	return name, nil
}

func (s *Site) route(ctx context.Context, path string) (route, map[string]string, error) {
	var table []route
	if v, ok := s.discovery.Get(routerKey); ok {
		table = v.([]route) //nolint:forcetypeassert
	} else {
		var err error
		if table, err = s.db.loadRouter(ctx); err != nil {
			return route{}, nil, err
		}
		s.discovery.Set(routerKey, table)
	}

	for _, r := range table {
		if params, ok := matchRoute(r.Pattern, path); ok {
			return r, params, nil
		}
	}
	return route{}, nil, fmt.Errorf("%w for %q", errNoRoute, path)
}

type renderedNode struct {
	Title string
	HTML  template.HTML
}

func (s *Site) renderNode(ctx context.Context, nid int64) (renderedNode, error) {
	key := nodeTag(nid) + ":full"
	if v, ok := s.render.Get(key); ok {
		return v.(renderedNode), nil //nolint:forcetypeassert
	}

	n, err := s.db.node(ctx, nid)
	if err != nil {
		return renderedNode{}, err
	}
	nt, err := s.nodeType(ctx, n.Type)
	if err != nil {
		return renderedNode{}, err
	}
	img, err := s.db.derivative(ctx, nid, imageStyle)
	if err != nil {
		return renderedNode{}, err
	}

	var b bytes.Buffer
	if err := nodeTemplate.Execute(&b, nodeData{Node: n, Type: nt, Image: img}); err != nil {
		return renderedNode{}, fmt.Errorf("rendering node %d: %w", nid, err)
	}
	r := renderedNode{Title: n.Title, HTML: template.HTML(b.String())} //nolint:gosec
	s.render.Set(key, r, nodeTag(nid))
	return r, nil
}

func (s *Site) nodeType(ctx context.Context, typ string) (nodeType, error) {
	key := "node_type:" + typ
	if v, ok := s.data.Get(key); ok {
		return v.(nodeType), nil //nolint:forcetypeassert
	}
	nt, err := s.db.nodeType(ctx, typ)
	if err != nil {
		return nodeType{}, err
	}
	s.data.Set(key, nt, key)
	return nt, nil
}

func nodeTag(nid int64) string {
	return "node:" + strconv.FormatInt(nid, 10)
}

// matchRoute matches path against a pattern whose {name} segments capture
// one path segment each.
func matchRoute(pattern, path string) (map[string]string, bool) {
	ps := strings.Split(strings.Trim(pattern, "/"), "/")
	xs := strings.Split(strings.Trim(path, "/"), "/")
	if len(ps) != len(xs) {
		return nil, false
	}
	params := map[string]string{}
	for i, p := range ps {
		if strings.HasPrefix(p, "{") && strings.HasSuffix(p, "}") {
			if xs[i] == "" {
				return nil, false
			}
			params[p[1:len(p)-1]] = xs[i]
			continue
		}
		if p != xs[i] {
			return nil, false
		}
	}
	return params, true
}

func assetURLs(names []string) []string {
	urls := make([]string, len(names))
	for i, n := range names {
		urls[i] = assetBasePath + n
	}
	return urls
}
