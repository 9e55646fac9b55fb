// Package conn implements the per-connection worker loop (C5): read a line,
// dispatch it either to the Command Executor or to the connection's own
// Transaction FSM, write the reply.
/*
 * Copyright (c) 2024-2026, kvnode contributors. All rights reserved.
 */
package conn

import (
	"bufio"
	"io"
	"net"
	"strings"

	"github.com/teris-io/shortid"

	"github.com/kvnode/kvnode/internal/nlog"
	"github.com/kvnode/kvnode/store"
	"github.com/kvnode/kvnode/txn"
)

// Metrics receives connection/command lifecycle events; a nil Metrics on
// Handler means events are simply not recorded.
type Metrics interface {
	ConnOpened()
	ConnClosed()
	CommandProcessed(verb string)
}

// SnapshotTrigger is consulted after every processed command; its
// implementation (persist package) decides whether enough time has passed
// since the last snapshot to write a new one (spec.md §4.5).
type SnapshotTrigger interface {
	MaybeSnapshot()
}

// Registrar hands a socket that opened with the literal "REGISTER" token
// over to the replication master, which takes exclusive ownership of it
// from that point on (spec.md §4.7, Open Question 3).
type Registrar interface {
	Register(c net.Conn)
}

// Handler serves exactly one net.Conn per call to Serve, with no state
// shared across connections beyond the Executor/Keyspace they all share.
type Handler struct {
	exec     *store.Executor
	snap     SnapshotTrigger
	metrics  Metrics
	registrar Registrar
	isMaster bool
	log      *nlog.Logger
}

// NewHandler builds a Handler. registrar/metrics/snap may be nil.
// isMaster gates whether a "REGISTER" handshake is honored at all (a
// follower has no followers of its own).
func NewHandler(exec *store.Executor, snap SnapshotTrigger, metrics Metrics, registrar Registrar, isMaster bool) *Handler {
	return &Handler{exec: exec, snap: snap, metrics: metrics, registrar: registrar, isMaster: isMaster, log: nlog.New("conn")}
}

// Serve runs the connection's read-dispatch-reply loop until disconnect or
// I/O error, then closes c. It returns once the connection is done with
// (either closed here, or handed off to the replication registrar).
func (h *Handler) Serve(c net.Conn) {
	id, _ := shortid.Generate()
	log := h.log
	reader := bufio.NewReader(c)
	fsm := txn.New(h.exec)
	first := true

	closeConn := true
	defer func() {
		if closeConn {
			c.Close()
		}
	}()

	if h.metrics != nil {
		h.metrics.ConnOpened()
		defer h.metrics.ConnClosed()
	}
	log.Debugf("conn %s accepted from %s", id, c.RemoteAddr())

	for {
		line, err := reader.ReadString('\n')
		trimmed := strings.TrimSpace(line)

		if first && trimmed != "" {
			first = false
			if h.isMaster && h.registrar != nil && strings.EqualFold(trimmed, "REGISTER") {
				log.Infof("conn %s registered as a replication follower", id)
				closeConn = false
				h.registrar.Register(c)
				return
			}
		}

		if trimmed != "" {
			reply := h.dispatch(fsm, trimmed)
			if reply != "" {
				if _, werr := c.Write([]byte(reply)); werr != nil {
					log.Warnf("conn %s write failed: %v", id, werr)
					return
				}
			}
			if h.metrics != nil {
				h.metrics.CommandProcessed(verbOf(trimmed))
			}
			if h.snap != nil {
				h.snap.MaybeSnapshot()
			}
		}

		if err != nil {
			if err != io.EOF {
				log.Debugf("conn %s read error: %v", id, err)
			}
			log.Debugf("conn %s disconnected", id)
			return
		}
	}
}

func (h *Handler) dispatch(fsm *txn.FSM, line string) string {
	if reply, handled := fsm.Handle(line); handled {
		return reply
	}
	if verbOf(line) == "EXEC" {
		return "ERROR: EXEC without MULTI\n"
	}
	if verbOf(line) == "DISCARD" {
		return "ERROR: DISCARD without MULTI\n"
	}
	return h.exec.Dispatch(line, store.ExecOptions{})
}

func verbOf(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}
