// Package adminapi exposes an out-of-band HTTP surface (health check,
// JSON stats, Prometheus scrape endpoint) over valyala/fasthttp,
// separate from the line-protocol TCP listener (SPEC_FULL.md DOMAIN
// STACK: operational surfaces live outside the wire protocol itself).
/*
 * Copyright (c) 2024-2026, kvnode contributors. All rights reserved.
 */
package adminapi

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/kvnode/kvnode/internal/nlog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// StatsFunc returns whatever the caller wants rendered as JSON from GET
// /stats; Server calls it and marshals the result fresh on every request.
type StatsFunc func() any

// Server is the admin HTTP listener.
type Server struct {
	addr  string
	stats StatsFunc
	reg   *prometheus.Registry
	log   *nlog.Logger
	srv   *fasthttp.Server
}

// New builds a Server bound to addr. reg is the prometheus registry
// backing /metrics; stats backs /stats.
func New(addr string, reg *prometheus.Registry, stats StatsFunc) *Server {
	s := &Server{addr: addr, stats: stats, reg: reg, log: nlog.New("adminapi")}
	s.srv = &fasthttp.Server{
		Handler: s.route,
		Name:    "kvnode-admin",
	}
	return s
}

// ListenAndServe blocks serving HTTP until the listener fails or is shut
// down via Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Infof("admin api listening on %s", s.addr)
	return s.srv.ListenAndServe(s.addr)
}

// Shutdown gracefully stops the listener.
func (s *Server) Shutdown() error { return s.srv.Shutdown() }

func (s *Server) route(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Path()) {
	case "/healthz":
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok\n")
	case "/stats":
		s.serveStats(ctx)
	case "/metrics":
		s.serveMetrics(ctx)
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		ctx.SetBodyString("not found\n")
	}
}

func (s *Server) serveStats(ctx *fasthttp.RequestCtx) {
	var payload any
	if s.stats != nil {
		payload = s.stats()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBodyString("stats encode error\n")
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

func (s *Server) serveMetrics(ctx *fasthttp.RequestCtx) {
	handler := promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{})
	fasthttpadaptor.NewFastHTTPHandler(handler)(ctx)
}
