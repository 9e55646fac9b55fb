package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/kvnode/kvnode/internal/nlog"
)

// Appender is the durability sink a successful write is handed to (C4's
// append-only log). Executor calls it while still holding the keyspace
// lock, per invariant 4.
type Appender interface {
	Append(line string) error
}

// Enqueuer is the replication sink a successful write is handed to (C7's
// master-side queue). A nil Enqueuer (follower role) means writes are
// simply not fanned out further.
type Enqueuer interface {
	Enqueue(line string)
}

// Saver triggers an out-of-band snapshot write, invoked by the SAVE verb.
// Save is called without the keyspace lock held.
type Saver interface {
	Save() error
}

// Executor is the command dispatcher (C2): it parses one line, mutates the
// Keyspace under its lock, and returns the reply text, which always ends
// in a newline.
type Executor struct {
	ks      *Keyspace
	persist Appender
	repl    Enqueuer
	saver   Saver
	log     *nlog.Logger
}

// NewExecutor builds an Executor over ks. persist/repl/saver may be nil
// (e.g. in a minimal test harness); a nil persist/repl simply means writes
// aren't durable/replicated, which recovery/replay callers rely on via
// ExecOptions.Suppress instead of needing to pass nil.
func NewExecutor(ks *Keyspace, persist Appender, repl Enqueuer, saver Saver) *Executor {
	return &Executor{ks: ks, persist: persist, repl: repl, saver: saver, log: nlog.New("executor")}
}

// ExecOptions configures one Dispatch/ApplyLocked call.
type ExecOptions struct {
	// Suppress skips the persistence/replication side effects of a write —
	// used during AOF replay and follower ingestion, both of which are
	// already driving the executor from a durable/replicated source and
	// must not re-log or re-fan-out what they're replaying.
	Suppress bool
}

// Lock/Unlock expose the keyspace's mutex so callers that need to run
// several commands as one atomic unit (the transaction FSM) can acquire it
// once and call ApplyLocked repeatedly.
func (e *Executor) Lock()   { e.ks.Lock() }
func (e *Executor) Unlock() { e.ks.Unlock() }

// Dispatch parses and applies one command line, acquiring the keyspace
// lock for the duration.
func (e *Executor) Dispatch(line string, opts ExecOptions) string {
	e.ks.Lock()
	defer e.ks.Unlock()
	return e.ApplyLocked(line, opts)
}

// ApplyLocked parses and applies one command line. The caller must already
// hold the keyspace lock (via Lock/Unlock or Dispatch).
func (e *Executor) ApplyLocked(line string, opts ExecOptions) string {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return "Invalid command\n"
	}
	parts[0] = strings.ToUpper(parts[0])
	verb := parts[0]

	reply, isWrite := e.applyVerbLocked(verb, parts)
	if isWrite && !opts.Suppress {
		canonical := strings.Join(parts, " ")
		if e.persist != nil {
			if err := e.persist.Append(canonical); err != nil {
				e.log.Warnf("append-only log write failed: %v", errors.Wrap(err, "append"))
			}
		}
		if e.repl != nil {
			e.repl.Enqueue(canonical)
		}
	}
	return reply
}

func (e *Executor) applyVerbLocked(verb string, parts []string) (reply string, isWrite bool) {
	now := time.Now()
	switch verb {
	case "SET":
		return e.doSet(parts, now)
	case "GET":
		if len(parts) != 2 {
			return "Invalid GET command\n", false
		}
		v, ok := e.ks.GetLocked(parts[1], now)
		if !ok {
			return "nil\n", false
		}
		return v + "\n", false
	case "DEL":
		if len(parts) != 2 {
			return "Invalid DEL command\n", false
		}
		if e.ks.DelLocked(parts[1], now) {
			return "1\n", true
		}
		return "0\n", false
	case "INCR", "DECR":
		if len(parts) != 2 {
			return fmt.Sprintf("Invalid %s command\n", verb), false
		}
		delta := int64(1)
		if verb == "DECR" {
			delta = -1
		}
		n, err := e.ks.IncrLocked(parts[1], delta, now)
		if err == ErrNotInteger {
			return "ERROR: Value is not an integer\n", false
		}
		if n == 0 {
			// either the key was missing (no mutation) or the result is
			// genuinely zero (a mutation); only the former must not be
			// logged, so re-check presence cheaply via another read.
			if _, ok := e.ks.GetLocked(parts[1], now); !ok {
				return "0\n", false
			}
		}
		return formatInt(n) + "\n", true
	case "LPUSH", "RPUSH":
		if len(parts) < 3 {
			return fmt.Sprintf("Invalid %s command\n", verb), false
		}
		if err := e.ks.ListMutateLocked(parts[1], parts[2:], verb == "LPUSH", now); err != nil {
			return fmt.Sprintf("Invalid %s command\n", verb), false
		}
		return "OK\n", true
	case "LPOP", "RPOP":
		if len(parts) != 2 {
			return fmt.Sprintf("Invalid %s command\n", verb), false
		}
		v, ok := e.ks.ListPopLocked(parts[1], verb == "LPOP", now)
		if !ok {
			return "nil\n", false
		}
		return v + "\n", true
	case "LRANGE":
		if len(parts) != 4 {
			return "Invalid LRANGE command\n", false
		}
		start, err1 := strconv.Atoi(parts[2])
		stop, err2 := strconv.Atoi(parts[3])
		if err1 != nil || err2 != nil {
			return "Invalid LRANGE command\n", false
		}
		values := e.ks.ListRangeLocked(parts[1], start, stop, now)
		return strings.Join(values, " ") + "\n", false
	case "SAVE":
		if e.saver != nil {
			// Save takes the keyspace lock itself to copy the data out, so
			// the caller's hold is released for the duration of the call.
			e.ks.Unlock()
			err := e.saver.Save()
			e.ks.Lock()
			if err != nil {
				e.log.Warnf("snapshot save failed: %v", errors.Wrap(err, "save"))
			}
		}
		return "Data saved to snapshot file\n", false
	default:
		return "Invalid command\n", false
	}
}

func (e *Executor) doSet(parts []string, now time.Time) (string, bool) {
	if len(parts) < 3 {
		return "Invalid SET command\n", false
	}
	key := parts[1]
	rest := parts[2:]
	var ttl *time.Duration
	if len(rest) >= 2 && strings.EqualFold(rest[len(rest)-2], "EX") {
		secs, err := strconv.Atoi(rest[len(rest)-1])
		if err != nil || secs < 0 {
			return "Invalid TTL value\n", false
		}
		d := time.Duration(secs) * time.Second
		ttl = &d
		rest = rest[:len(rest)-2]
	}
	if len(rest) == 0 {
		return "Invalid SET command\n", false
	}
	value := strings.Join(rest, " ")
	if err := e.ks.SetLocked(key, value, ttl, now); err != nil {
		return "Invalid SET command\n", false
	}
	return "OK\n", true
}

// TransactionVerbs is the set of commands legal inside a MULTI...EXEC
// buffer, exactly the verbs whose EXEC-reply contribution is documented in
// spec.md §4.6.
var TransactionVerbs = map[string]bool{
	"SET": true, "GET": true, "DEL": true,
	"LPUSH": true, "RPUSH": true, "LPOP": true, "RPOP": true,
}

// ContributesReply reports whether verb's reply is concatenated into the
// EXEC response body (GET/LPOP/RPOP), as opposed to contributing nothing
// (SET/DEL/LPUSH/RPUSH).
func ContributesReply(verb string) bool {
	switch verb {
	case "GET", "LPOP", "RPOP":
		return true
	default:
		return false
	}
}
