package repl

import (
	"bufio"
	"context"
	"io"
	"net"
	"time"

	"github.com/kvnode/kvnode/internal/nlog"
	"github.com/kvnode/kvnode/store"
)

// Follower connects to a master's TCP listener, sends the REGISTER
// handshake, and drives the local Executor with every line the master
// streams back, reconnecting with bounded backoff on disconnect
// (SUPPLEMENTED FEATURES: the original has no reconnect logic at all).
type Follower struct {
	masterAddr string
	exec       *store.Executor
	log        *nlog.Logger

	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewFollower builds a Follower that will dial masterAddr once Run is
// called.
func NewFollower(masterAddr string, exec *store.Executor) *Follower {
	return &Follower{
		masterAddr: masterAddr,
		exec:       exec,
		log:        nlog.New("repl"),
		minBackoff: 200 * time.Millisecond,
		maxBackoff: 10 * time.Second,
	}
}

// Run connects and ingests the replication stream until ctx is canceled,
// reconnecting with exponential backoff (capped at maxBackoff) across
// transient failures.
func (f *Follower) Run(ctx context.Context) error {
	backoff := f.minBackoff
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		connectedAt := time.Now()
		err := f.runOnce(ctx)
		if err != nil {
			f.log.Warnf("replication link to %s lost: %v (retrying in %s)", f.masterAddr, err, backoff)
		}
		if time.Since(connectedAt) > f.maxBackoff {
			backoff = f.minBackoff // connection was stable for a while; don't punish a fresh drop
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > f.maxBackoff {
			backoff = f.maxBackoff
		}
	}
}

func (f *Follower) runOnce(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", f.masterAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("REGISTER\n")); err != nil {
		return err
	}
	f.log.Infof("registered with master %s", f.masterAddr)

	reader := bufio.NewReader(conn)
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := reader.ReadString('\n')
		if line != "" {
			trimmed := line
			for len(trimmed) > 0 && (trimmed[len(trimmed)-1] == '\n' || trimmed[len(trimmed)-1] == '\r') {
				trimmed = trimmed[:len(trimmed)-1]
			}
			if trimmed != "" {
				f.exec.Lock()
				f.exec.ApplyLocked(trimmed, store.ExecOptions{Suppress: true})
				f.exec.Unlock()
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}
