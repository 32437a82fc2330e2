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

package telemetry

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/grafana/browser-perfbudget/log"
	"github.com/grafana/browser-perfbudget/perf"
)

// PathPrefix is where RegisterRoutes mounts the telemetry API.
const PathPrefix = "/_perf"

// Handler serves the telemetry and cache administration API of a site.
type Handler struct {
	recorder  *Recorder
	caches    perf.CacheRegistry
	rebuilder perf.Rebuilder
	logger    *log.Logger
}

// NewHandler returns a handler over rec and caches. rebuilder may be nil,
// in which case rebuild requests are rejected.
func NewHandler(rec *Recorder, caches perf.CacheRegistry, rebuilder perf.Rebuilder, logger *log.Logger) *Handler {
	return &Handler{
		recorder:  rec,
		caches:    caches,
		rebuilder: rebuilder,
		logger:    logger,
	}
}

type binsResponse struct {
	Bins []string `json:"bins"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// RegisterRoutes sets up the telemetry routes on r.
func RegisterRoutes(r gin.IRouter, h *Handler) {
	g := r.Group(PathPrefix)
	{
		g.GET("/telemetry", h.snapshot)
		g.DELETE("/telemetry", h.reset)

		g.GET("/cache", h.listBins)
		g.DELETE("/cache", h.clearAll)
		g.DELETE("/cache/:bin", h.clearBin)

		g.POST("/rebuild", h.rebuild)
	}
}

func (h *Handler) snapshot(c *gin.Context) {
	s, err := h.recorder.Snapshot(c.Request.Context())
	if err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	h.logger.Debugf("telemetry:snapshot", "queries:%d bin operations:%v", len(s.Queries), h.recorder.BinOperations())
	c.JSON(http.StatusOK, s)
}

func (h *Handler) reset(c *gin.Context) {
	if err := h.recorder.Reset(c.Request.Context()); err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listBins(c *gin.Context) {
	parts, err := h.caches.Partitions(c.Request.Context())
	if err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	resp := binsResponse{Bins: make([]string, 0, len(parts))}
	for _, p := range parts {
		resp.Bins = append(resp.Bins, p.Name())
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) clearAll(c *gin.Context) {
	ctx := c.Request.Context()
	parts, err := h.caches.Partitions(ctx)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	for _, p := range parts {
		if err := p.DeleteAll(ctx); err != nil {
			h.fail(c, http.StatusInternalServerError, err)
			return
		}
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) clearBin(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.Param("bin")

	parts, err := h.caches.Partitions(ctx)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	for _, p := range parts {
		if p.Name() != name {
			continue
		}
		if err := p.DeleteAll(ctx); err != nil {
			h.fail(c, http.StatusInternalServerError, err)
			return
		}
		h.logger.Debugf("telemetry:clearBin", "bin:%q cleared", name)
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusNotFound, errorResponse{Error: "unknown cache bin " + name})
}

func (h *Handler) rebuild(c *gin.Context) {
	if h.rebuilder == nil {
		h.fail(c, http.StatusNotImplemented, errors.New("rebuild is not supported"))
		return
	}
	if err := h.rebuilder.RebuildAll(c.Request.Context()); err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) fail(c *gin.Context, code int, err error) {
	h.logger.Errorf("telemetry:handler", "%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	c.JSON(code, errorResponse{Error: err.Error()})
}
