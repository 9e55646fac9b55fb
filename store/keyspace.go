package store

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/buntdb"

	"github.com/kvnode/kvnode/internal/filter"
)

// ErrNotInteger is returned by IncrLocked (for INCR and DECR) when the current text
// of a key cannot be parsed as a signed integer.
var ErrNotInteger = errors.New("value is not an integer")

// Keyspace owns the resident key -> Value map (backed by an in-memory
// buntdb instance) and the per-key TTL table, and mediates every access to
// both through a single mutex (invariant 1). buntdb gives us transactional
// get/set/delete semantics and a natural home for the tagged-union value
// encoding; the TTL table is kept alongside it in a plain map so expiry
// unobservability (invariant 6) and the keyspace/TTL-table containment
// invariant (invariant 2) are enforced directly here rather than relying on
// buntdb's own (separate) expiration bookkeeping.
type Keyspace struct {
	mu    sync.Mutex
	db    *buntdb.DB
	ttl   map[string]time.Time
	exist *filter.Existence
}

// NewKeyspace opens a fresh, empty in-memory keyspace.
func NewKeyspace() (*Keyspace, error) {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, errors.Wrap(err, "open keyspace store")
	}
	return &Keyspace{
		db:    db,
		ttl:   make(map[string]time.Time),
		exist: filter.New(1 << 16),
	}, nil
}

// Close releases the underlying store.
func (k *Keyspace) Close() error { return k.db.Close() }

// Lock/Unlock expose the single global mutex so the transaction FSM and the
// executor can hold it across several mutations (EXEC atomicity) instead of
// each call taking and releasing it independently.
func (k *Keyspace) Lock()   { k.mu.Lock() }
func (k *Keyspace) Unlock() { k.mu.Unlock() }

// expiredLocked reports whether key's TTL deadline has passed, opportunistically
// reclaiming it (from buntdb, the TTL table, and the existence filter) if so.
// Must be called with the lock held.
func (k *Keyspace) expiredLocked(key string, now time.Time) bool {
	deadline, ok := k.ttl[key]
	if !ok || now.Before(deadline) {
		return false
	}
	k.deleteAllLocked(key)
	return true
}

func (k *Keyspace) deleteAllLocked(key string) {
	_ = k.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(key)
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
	delete(k.ttl, key)
	k.exist.Remove(key)
}

func (k *Keyspace) getValueLocked(key string, now time.Time) (Value, bool) {
	if !k.exist.MaybeExists(key) {
		return Value{}, false
	}
	if k.expiredLocked(key, now) {
		return Value{}, false
	}
	var (
		v     Value
		found bool
	)
	_ = k.db.View(func(tx *buntdb.Tx) error {
		raw, err := tx.Get(key)
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		dv, err := decodeValue(raw)
		if err != nil {
			return err
		}
		v, found = dv, true
		return nil
	})
	return v, found
}

func (k *Keyspace) putValueLocked(key string, v Value) error {
	raw, err := encodeValue(v)
	if err != nil {
		return err
	}
	if err := k.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, raw, nil)
		return err
	}); err != nil {
		return errors.Wrap(err, "put value")
	}
	k.exist.Add(key)
	return nil
}

// SetLocked stores a string value, replacing whatever was there (of either
// kind). ttl, if non-nil, is the duration after now at which the key
// expires; nil clears any existing TTL.
func (k *Keyspace) SetLocked(key, value string, ttl *time.Duration, now time.Time) error {
	if err := k.putValueLocked(key, Value{Kind: KindString, Str: value}); err != nil {
		return err
	}
	if ttl != nil {
		k.ttl[key] = now.Add(*ttl)
	} else {
		delete(k.ttl, key)
	}
	return nil
}

// GetLocked reads a string value. Returns ("", false) if the key is absent,
// expired, or holds a list.
func (k *Keyspace) GetLocked(key string, now time.Time) (string, bool) {
	v, ok := k.getValueLocked(key, now)
	if !ok || v.Kind != KindString {
		return "", false
	}
	return v.Str, true
}

// DelLocked removes key (of either kind) and reports whether it was present.
func (k *Keyspace) DelLocked(key string, now time.Time) bool {
	if k.expiredLocked(key, now) {
		return false
	}
	existed := false
	_ = k.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(key)
		if err == buntdb.ErrNotFound {
			return nil
		}
		existed = true
		return err
	})
	if existed {
		delete(k.ttl, key)
		k.exist.Remove(key)
	}
	return existed
}

// IncrLocked applies delta (+1 for INCR, -1 for DECR) to the integer parsed
// from key's current text. A missing key reports (0, nil) without creating
// the key, per the command table. A present, non-integer value reports
// ErrNotInteger.
func (k *Keyspace) IncrLocked(key string, delta int64, now time.Time) (int64, error) {
	v, ok := k.getValueLocked(key, now)
	if !ok {
		return 0, nil
	}
	if v.Kind != KindString {
		return 0, ErrNotInteger
	}
	n, err := parseInt(v.Str)
	if err != nil {
		return 0, ErrNotInteger
	}
	n += delta
	if err := k.putValueLocked(key, Value{Kind: KindString, Str: formatInt(n)}); err != nil {
		return 0, err
	}
	return n, nil
}

// ListMutateLocked applies push to either end of the list at key, creating
// it if absent. front=true means LPUSH semantics (each value in turn is
// inserted at the head, so the final head is the last value given).
func (k *Keyspace) ListMutateLocked(key string, values []string, front bool, now time.Time) error {
	v, ok := k.getValueLocked(key, now)
	var list []string
	if ok && v.Kind == KindList {
		list = v.List
	}
	if front {
		for _, val := range values {
			list = append([]string{val}, list...)
		}
	} else {
		list = append(list, values...)
	}
	return k.putValueLocked(key, Value{Kind: KindList, List: list})
}

// ListPopLocked removes and returns the head (front=true) or tail element of
// the list at key. ok is false on a missing key, empty list, or wrong kind.
func (k *Keyspace) ListPopLocked(key string, front bool, now time.Time) (val string, ok bool) {
	v, exists := k.getValueLocked(key, now)
	if !exists || v.Kind != KindList || len(v.List) == 0 {
		return "", false
	}
	if front {
		val = v.List[0]
		v.List = v.List[1:]
	} else {
		val = v.List[len(v.List)-1]
		v.List = v.List[:len(v.List)-1]
	}
	if err := k.putValueLocked(key, Value{Kind: KindList, List: v.List}); err != nil {
		return "", false
	}
	return val, true
}

// ListRangeLocked returns the inclusive slice [start, stop] of the list at
// key, clamped to the available range. A missing key, wrong kind, or an
// empty intersection yields an empty (non-nil) slice.
func (k *Keyspace) ListRangeLocked(key string, start, stop int, now time.Time) []string {
	v, ok := k.getValueLocked(key, now)
	if !ok || v.Kind != KindList || len(v.List) == 0 {
		return []string{}
	}
	n := len(v.List)
	if start < 0 {
		start = 0
	}
	if stop < 0 || stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return []string{}
	}
	out := make([]string, stop-start+1)
	copy(out, v.List[start:stop+1])
	return out
}

// ExpirePassLocked deletes every key whose TTL deadline is at or before now,
// returning the count removed. Used by the TTL expirer (C3).
func (k *Keyspace) ExpirePassLocked(now time.Time) int {
	var expired []string
	for key, deadline := range k.ttl {
		if !now.Before(deadline) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		k.deleteAllLocked(key)
	}
	return len(expired)
}

// SnapshotLocked returns, for every live string key, its value, and
// separately every live list key with its elements and every key's TTL
// deadline (absolute), for the persistence layer's extended snapshot
// format (SPEC_FULL.md, Open Question 4).
func (k *Keyspace) SnapshotLocked(now time.Time) (strings map[string]string, lists map[string][]string, deadlines map[string]time.Time) {
	strings = make(map[string]string)
	lists = make(map[string][]string)
	deadlines = make(map[string]time.Time)
	_ = k.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("", func(key, raw string) bool {
			if deadline, ok := k.ttl[key]; ok {
				if !now.Before(deadline) {
					return true // lazily skip, expirer will reclaim it
				}
				deadlines[key] = deadline
			}
			v, err := decodeValue(raw)
			if err != nil {
				return true
			}
			switch v.Kind {
			case KindString:
				strings[key] = v.Str
			case KindList:
				lists[key] = append([]string(nil), v.List...)
			}
			return true
		})
	})
	return strings, lists, deadlines
}

// KeysLocked returns every stored key, including keys whose deadline has
// passed but which have not been reclaimed yet; used to rebuild the
// existence filter.
func (k *Keyspace) KeysLocked() []string {
	var keys []string
	_ = k.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("", func(key, _ string) bool {
			keys = append(keys, key)
			return true
		})
	})
	return keys
}

// RebuildExistenceLocked resets the existence filter to exactly the keys
// returned by KeysLocked (called once after recovery).
func (k *Keyspace) RebuildExistenceLocked() {
	k.exist.Rebuild(k.KeysLocked())
}

// GrowExistenceIfNeededLocked rebuilds the existence filter at a larger
// capacity if an Add has ever failed since the last rebuild. Sampled
// periodically (the TTL expirer's sweep tick) rather than on every write,
// so a saturated filter doesn't stay permanently uncertain just because
// nothing happens to call RebuildExistenceLocked again.
func (k *Keyspace) GrowExistenceIfNeededLocked() bool {
	if !k.exist.NeedsGrowth() {
		return false
	}
	k.exist.Rebuild(k.KeysLocked())
	return true
}
