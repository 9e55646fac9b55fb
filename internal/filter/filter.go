// Package filter implements a probabilistic existence check in front of the
// keyspace, so a definite miss never has to cross into buntdb at all.
/*
 * Copyright (c) 2024-2026, kvnode contributors. All rights reserved.
 */
package filter

import (
	"encoding/binary"
	"sync"

	"github.com/OneOfOne/xxhash"
	cuckoo "github.com/seiflotfy/cuckoofilter"
)

// Existence mirrors the set of live keys. A positive Lookup is only "maybe"
// (cuckoo filters admit false positives); a negative Lookup is certain,
// unless the filter has ever failed an insert (see Add), in which case it
// is no longer trusted to report negatives at all.
//
// A cuckoo filter has a fixed bucket capacity: once it nears full, inserts
// can fail outright rather than degrade gracefully. A failed insert means
// some live key is not represented, so a subsequent Lookup miss for that
// key would be a false negative — a direct read-your-write violation if
// callers treat it as authoritative. uncertain latches true the first time
// that happens and makes MaybeExists always answer true (defer to the
// keyspace) until the next Rebuild, which grows capacity to make room.
type Existence struct {
	mu        sync.Mutex
	cf        *cuckoo.Filter
	n         uint
	live      uint
	uncertain bool
}

// New returns an existence filter sized for roughly capacity live keys.
func New(capacity uint) *Existence {
	if capacity == 0 {
		capacity = 1 << 16
	}
	return &Existence{cf: cuckoo.NewFilter(capacity), n: capacity}
}

func fingerprint(key string) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], xxhash.ChecksumString64(key))
	return b[:]
}

// Add records that key is now live. If the underlying filter is too full
// to accept the insert, the filter is marked uncertain so MaybeExists
// stops trusting negatives until the caller Rebuilds it at a larger
// capacity. Adding a key that is already live stores another copy of its
// fingerprint; Remove takes out one copy, so such a key can keep answering
// true after it is removed (a false positive, never a false negative).
func (e *Existence) Add(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cf.Insert(fingerprint(key)) {
		e.live++
		return
	}
	e.uncertain = true
}

// Remove records that key is no longer live (deleted or expired).
func (e *Existence) Remove(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cf.Delete(fingerprint(key)) && e.live > 0 {
		e.live--
	}
}

// MaybeExists reports whether key could be live. false is authoritative;
// true requires a follow-up keyspace check. Once the filter has gone
// uncertain (an insert failed somewhere), every lookup answers true so
// the keyspace is always consulted, trading away the fast-reject path
// rather than risking a false negative.
func (e *Existence) MaybeExists(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.uncertain {
		return true
	}
	return e.cf.Lookup(fingerprint(key))
}

// NeedsGrowth reports whether the filter has gone uncertain and should be
// Rebuilt at a larger capacity. Callers sample this (e.g. alongside the
// TTL expirer's periodic sweep) rather than rebuilding on every Add.
func (e *Existence) NeedsGrowth() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.uncertain
}

// Rebuild discards the filter and reinserts exactly the given keys, sized
// to comfortably hold them. Used after snapshot/AOF recovery so the
// filter's false-positive rate doesn't drift upward across restarts, and
// as the remedy once NeedsGrowth reports an insert failure: capacity
// doubles (and keeps doubling until it is at least twice the key count)
// and the uncertain flag clears, unless one of the reinserts fails too.
func (e *Existence) Rebuild(keys []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	capacity := e.n
	if e.uncertain {
		capacity *= 2
	}
	for capacity < uint(len(keys))*2 {
		capacity *= 2
	}
	e.n = capacity
	e.cf = cuckoo.NewFilter(capacity)
	e.live = 0
	e.uncertain = false
	for _, k := range keys {
		if e.cf.Insert(fingerprint(k)) {
			e.live++
		} else {
			e.uncertain = true
		}
	}
}
