// Package server wires the Keyspace, Executor, TTL expirer, persistence
// (AOF + snapshots + recovery), replication (master or follower), metrics
// and admin HTTP surface into one running process, using
// golang.org/x/sync/errgroup to start and tear all of it down together —
// the same "one group, one cancellation" shape the teacher uses for its
// own background task supervision.
/*
 * Copyright (c) 2024-2026, kvnode contributors. All rights reserved.
 */
package server

import (
	"context"
	"net"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/kvnode/kvnode/adminapi"
	"github.com/kvnode/kvnode/conn"
	"github.com/kvnode/kvnode/internal/nlog"
	"github.com/kvnode/kvnode/metrics"
	"github.com/kvnode/kvnode/persist"
	"github.com/kvnode/kvnode/persist/archive"
	"github.com/kvnode/kvnode/repl"
	"github.com/kvnode/kvnode/store"
)

// Role is the replication role this server runs as.
type Role string

const (
	RoleMaster   Role = "master"
	RoleFollower Role = "follower"
)

// Config holds the fully parsed startup surface (AMBIENT STACK flags).
type Config struct {
	Host     string
	Port     int
	Role     Role
	MasterAddr string

	DataDir            string
	SnapshotInterval   time.Duration
	ArchiveBackend     string
	ArchiveConfig      archive.Config
	ShardDir           string
	ShardDataShards    int
	ShardParityShards  int

	AdminAddr string

	ExpireInterval time.Duration
}

// Server is one running kvnode process.
type Server struct {
	cfg Config
	log *nlog.Logger

	ks   *store.Keyspace
	exec *store.Executor

	aof  *persist.AOF
	snap *persist.Snapshotter

	reg      *metrics.Registry
	master   *repl.Master
	follower *repl.Follower

	admin *adminapi.Server
}

// New builds a Server from cfg but does not start it.
func New(cfg Config) (*Server, error) {
	if cfg.ExpireInterval == 0 {
		cfg.ExpireInterval = time.Second
	}
	if cfg.SnapshotInterval == 0 {
		cfg.SnapshotInterval = 60 * time.Second
	}
	if cfg.Role == "" {
		cfg.Role = RoleMaster
	}

	ks, err := store.NewKeyspace()
	if err != nil {
		return nil, errors.Wrap(err, "open keyspace")
	}

	aofPath := filepath.Join(cfg.DataDir, "kvnode.aof")
	snapPath := filepath.Join(cfg.DataDir, "kvnode.snapshot")

	aof, err := persist.OpenAOF(aofPath)
	if err != nil {
		ks.Close()
		return nil, errors.Wrap(err, "open append-only log")
	}

	reg := metrics.New()

	var master *repl.Master
	var enq store.Enqueuer
	if cfg.Role == RoleMaster {
		master = repl.NewMaster()
		master.SetDepthGauge(reg.SetReplicationDepth)
		master.SetFollowerGauge(reg.SetReplicationFollowers)
		enq = master
	}

	archiver, err := archive.New(cfg.ArchiveBackend, cfg.ArchiveConfig)
	if err != nil {
		aof.Close()
		ks.Close()
		return nil, errors.Wrap(err, "build archive backend")
	}

	shardCfg := persist.ShardConfig{Dir: cfg.ShardDir, DataShards: cfg.ShardDataShards, ParityShards: cfg.ShardParityShards}
	snap := persist.NewSnapshotter(snapPath, ks, cfg.SnapshotInterval, shardCfg, archiver, reg)

	exec := store.NewExecutor(ks, aof, enq, snap)

	if err := persist.Recover(snapPath, aofPath, ks, exec, shardCfg); err != nil {
		aof.Close()
		ks.Close()
		return nil, errors.Wrap(err, "recover from disk")
	}

	var follower *repl.Follower
	if cfg.Role == RoleFollower {
		follower = repl.NewFollower(cfg.MasterAddr, exec)
	}

	s := &Server{
		cfg:      cfg,
		log:      nlog.New("server"),
		ks:       ks,
		exec:     exec,
		aof:      aof,
		snap:     snap,
		reg:      reg,
		master:   master,
		follower: follower,
	}
	s.admin = adminapi.New(cfg.AdminAddr, reg.Registerer(), s.statsSnapshot)
	return s, nil
}

// Run starts every background component and the TCP listener, blocking
// until ctx is canceled or an unrecoverable component error occurs. On
// return, every component has been asked to stop and the append-only log
// has been flushed and closed.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, portString(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", addr)
	}
	s.log.Infof("listening on %s as %s", addr, s.cfg.Role)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.acceptLoop(gctx, ln)
	})

	expirer := store.NewExpirer(s.ks, s.cfg.ExpireInterval, s.reg.ExpireSweep)
	g.Go(func() error { return expirer.Run(gctx) })

	sampler := metrics.NewDiskSampler(s.reg, 5*time.Second)
	g.Go(func() error { return sampler.Run(gctx) })

	if s.follower != nil {
		g.Go(func() error {
			err := s.follower.Run(gctx)
			if gctx.Err() != nil {
				return nil // shut down deliberately
			}
			return err
		})
	}

	g.Go(func() error {
		err := s.admin.ListenAndServe()
		if gctx.Err() != nil {
			return nil // shut down deliberately
		}
		return errors.Wrap(err, "admin api")
	})

	g.Go(func() error {
		<-gctx.Done()
		_ = s.admin.Shutdown()
		return ln.Close()
	})

	err = g.Wait()
	s.shutdown()
	return err
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	h := conn.NewHandler(s.exec, s.snap, s.reg, s.registrar(), s.cfg.Role == RoleMaster)
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "accept")
		}
		go h.Serve(c)
	}
}

func (s *Server) registrar() conn.Registrar {
	if s.master == nil {
		return nil
	}
	return s.master
}

func (s *Server) shutdown() {
	if err := s.snap.Save(); err != nil {
		s.log.Warnf("final snapshot failed: %v", err)
	}
	if err := s.aof.Close(); err != nil {
		s.log.Warnf("closing append-only log failed: %v", err)
	}
	if err := s.ks.Close(); err != nil {
		s.log.Warnf("closing keyspace failed: %v", err)
	}
	s.log.Infof("shutdown complete")
}

// statsSnapshot backs the admin /stats endpoint.
func (s *Server) statsSnapshot() any {
	stats := map[string]any{
		"role": string(s.cfg.Role),
	}
	if s.master != nil {
		stats["followers"] = s.master.FollowerCount()
	}
	return stats
}

func portString(p int) string {
	if p == 0 {
		p = 6381
	}
	return strconv.Itoa(p)
}
