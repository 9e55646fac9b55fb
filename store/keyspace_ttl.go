package store

import "time"

// SetTTLLocked installs an absolute expiry deadline on key without
// otherwise touching its value. Used by snapshot recovery to reapply a
// persisted EXPIREAT line after the corresponding SET/RPUSH line has
// already recreated the key.
func (k *Keyspace) SetTTLLocked(key string, deadline time.Time) {
	k.ttl[key] = deadline
}
