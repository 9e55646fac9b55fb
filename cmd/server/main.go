// Command server runs one kvnode process: the TCP line-protocol listener
// plus its background persistence, replication, metrics and admin HTTP
// components (see server.Config for the full startup surface).
/*
 * Copyright (c) 2024-2026, kvnode contributors. All rights reserved.
 */
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/kvnode/kvnode/internal/nlog"
	"github.com/kvnode/kvnode/persist/archive"
	"github.com/kvnode/kvnode/server"
)

func main() {
	app := cli.NewApp()
	app.Name = "kvnode-server"
	app.Usage = "run an in-memory key-value store node"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "host", Value: "0.0.0.0", Usage: "listen host for the line protocol"},
		cli.IntFlag{Name: "port", Value: 6381, Usage: "listen port for the line protocol (6382 when role=follower and unset)"},
		cli.StringFlag{Name: "role", Value: "master", Usage: "master or follower"},
		cli.StringFlag{Name: "master-addr", Value: "127.0.0.1:6381", Usage: "master host:port (role=follower only)"},
		cli.StringFlag{Name: "data-dir", Value: "./data", Usage: "directory holding the append-only log and snapshot"},
		cli.IntFlag{Name: "snapshot-interval", Value: 60, Usage: "seconds between automatic snapshots"},
		cli.StringFlag{Name: "archive-backend", Value: "none", Usage: "none, s3, azure, or gcs"},
		cli.StringFlag{Name: "archive-bucket", Value: "", Usage: "bucket/container name for the archive backend"},
		cli.StringFlag{Name: "archive-region", Value: "", Usage: "region (s3 backend only)"},
		cli.StringFlag{Name: "azure-account-url", Value: "", Usage: "account URL (azure backend only)"},
		cli.StringFlag{Name: "shard-dir", Value: "", Usage: "optional erasure-coded snapshot shard directory"},
		cli.IntFlag{Name: "shard-data", Value: 4, Usage: "data shard count when shard-dir is set"},
		cli.IntFlag{Name: "shard-parity", Value: 2, Usage: "parity shard count when shard-dir is set"},
		cli.StringFlag{Name: "admin-addr", Value: ":6390", Usage: "admin/metrics HTTP listen address"},
		cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug, info, warn, or error"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		nlog.New("main").Errorf("exiting: %v", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	nlog.SetLevel(parseLevel(c.String("log-level")))

	cfg := server.Config{
		Host:       c.String("host"),
		Port:       c.Int("port"),
		Role:       server.Role(c.String("role")),
		MasterAddr: c.String("master-addr"),

		DataDir:          c.String("data-dir"),
		SnapshotInterval: time.Duration(c.Int("snapshot-interval")) * time.Second,
		ArchiveBackend:   c.String("archive-backend"),
		ArchiveConfig: archive.Config{
			Bucket:          c.String("archive-bucket"),
			Region:          c.String("archive-region"),
			AzureAccountURL: c.String("azure-account-url"),
			AzureContainer:  c.String("archive-bucket"),
		},
		ShardDir:          c.String("shard-dir"),
		ShardDataShards:   c.Int("shard-data"),
		ShardParityShards: c.Int("shard-parity"),

		AdminAddr: c.String("admin-addr"),
	}
	if cfg.Role == server.RoleFollower && !c.IsSet("port") {
		cfg.Port = 6382
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}

	srv, err := server.New(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return srv.Run(ctx)
}

func parseLevel(s string) nlog.Level {
	switch s {
	case "debug":
		return nlog.Debug
	case "warn":
		return nlog.Warn
	case "error":
		return nlog.Error
	default:
		return nlog.Info
	}
}
