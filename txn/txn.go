// Package txn implements the per-connection transaction FSM (C6): buffering
// of queued commands between MULTI and EXEC/DISCARD. Per spec.md §9's
// REDESIGN FLAGS, this state lives entirely inside one connection's FSM
// value — never mirrored into any server-global field — so concurrent
// clients cannot cross-contaminate each other's transactions.
/*
 * Copyright (c) 2024-2026, kvnode contributors. All rights reserved.
 */
package txn

import (
	"strings"

	"github.com/kvnode/kvnode/store"
)

// State is one connection's transaction state.
type State int

const (
	Idle State = iota
	InTxn
)

// FSM is owned by exactly one connection; it must never be shared.
type FSM struct {
	state  State
	buffer []string
	exec   *store.Executor
}

// New builds an FSM, initially Idle, driving commands into exec.
func New(exec *store.Executor) *FSM {
	return &FSM{state: Idle, exec: exec}
}

// State reports the connection's current FSM state.
func (f *FSM) State() State { return f.state }

// Handle processes one raw command line. handled is false only when the
// connection is Idle and line is not MULTI — the caller should dispatch
// such lines to the executor directly. When handled is true, reply is what
// (if anything — it may be empty, meaning no reply at all) the connection
// should write back.
func (f *FSM) Handle(line string) (reply string, handled bool) {
	parts := strings.Fields(line)
	verb := ""
	if len(parts) > 0 {
		verb = strings.ToUpper(parts[0])
	}

	if f.state == Idle {
		if verb != "MULTI" {
			return "", false
		}
		f.state = InTxn
		f.buffer = nil
		return "OK\n", true
	}

	// InTxn: every line is ours.
	switch verb {
	case "MULTI":
		return "ERROR: Nested transactions are not supported\n", true
	case "EXEC":
		return f.exec_(), true
	case "DISCARD":
		f.buffer = nil
		f.state = Idle
		return "OK\n", true
	default:
		// Buffered as-is, unsupported verbs included: whether a verb is
		// legal inside a transaction is only discovered at EXEC time, so
		// the buffer never aborts partway through receiving it.
		f.buffer = append(f.buffer, line)
		return "", true
	}
}

// exec_ runs the buffered commands as a single critical section (invariant
// 5): the executor's keyspace lock is acquired exactly once and held for
// every buffered command, so no other connection or the TTL expirer can
// interleave mid-transaction. If any buffered line names an unsupported
// verb, none of the buffer is applied — the whole transaction aborts with
// a single combined error, matching the all-or-nothing abort the buffer
// itself promises.
func (f *FSM) exec_() string {
	buffer := f.buffer
	f.buffer = nil
	f.state = Idle

	for _, line := range buffer {
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		verb := strings.ToUpper(parts[0])
		if !store.TransactionVerbs[verb] {
			return "ERROR: Transaction contains unsupported commands\n"
		}
	}

	f.exec.Lock()
	defer f.exec.Unlock()

	var out strings.Builder
	for _, line := range buffer {
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		verb := strings.ToUpper(parts[0])
		reply := f.exec.ApplyLocked(line, store.ExecOptions{})
		if store.ContributesReply(verb) {
			out.WriteString(reply)
		}
	}
	return out.String()
}
