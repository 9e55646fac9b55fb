package store

import (
	"context"
	"time"

	"github.com/kvnode/kvnode/internal/nlog"
)

// Expirer is the TTL expiry engine (C3): a single background task that
// periodically sweeps the TTL table and reclaims deadline-passed keys. It
// never emits persistence or replication events (see spec.md §4.3) — a
// follower runs its own Expirer against its own clock and reaches the same
// state independently.
type Expirer struct {
	ks       *Keyspace
	interval time.Duration
	onSweep  func(removed int)
	log      *nlog.Logger
}

// NewExpirer builds an Expirer that sweeps every interval. onSweep, if
// non-nil, is called after each sweep with the number of keys removed
// (used to feed metrics).
func NewExpirer(ks *Keyspace, interval time.Duration, onSweep func(removed int)) *Expirer {
	return &Expirer{ks: ks, interval: interval, onSweep: onSweep, log: nlog.New("expire")}
}

// Run blocks, sweeping every interval until ctx is canceled.
func (x *Expirer) Run(ctx context.Context) error {
	ticker := time.NewTicker(x.interval)
	defer ticker.Stop()
	x.log.Infof("ttl expirer started, interval=%s", x.interval)
	for {
		select {
		case <-ctx.Done():
			x.log.Infof("ttl expirer stopping")
			return nil
		case now := <-ticker.C:
			x.ks.Lock()
			n := x.ks.ExpirePassLocked(now)
			grown := x.ks.GrowExistenceIfNeededLocked()
			x.ks.Unlock()
			if n > 0 {
				x.log.Debugf("expired %d key(s)", n)
			}
			if grown {
				x.log.Infof("existence filter saturated, rebuilt at larger capacity")
			}
			if x.onSweep != nil {
				x.onSweep(n)
			}
		}
	}
}
