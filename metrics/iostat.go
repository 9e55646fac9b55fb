package metrics

import (
	"context"
	"time"

	"github.com/lufia/iostat"

	"github.com/kvnode/kvnode/internal/nlog"
)

// DiskSampler periodically samples per-disk read/write byte counters via
// lufia/iostat and feeds the deltas into a Registry. iostat.ReadDriveStats
// is only implemented on a handful of platforms; everywhere else it
// returns an error immediately, which DiskSampler treats as "disabled"
// rather than fatal, since disk I/O metrics are a nice-to-have, not
// required for correctness.
type DiskSampler struct {
	reg      *Registry
	interval time.Duration
	log      *nlog.Logger

	lastRead, lastWrite uint64
	haveLast            bool
}

// NewDiskSampler builds a DiskSampler reporting into reg every interval.
func NewDiskSampler(reg *Registry, interval time.Duration) *DiskSampler {
	return &DiskSampler{reg: reg, interval: interval, log: nlog.New("metrics")}
}

// Run samples until ctx is canceled. It logs once and returns nil (not an
// error) if the platform doesn't support iostat, so callers in an
// errgroup don't bring the whole server down over an unsupported OS.
func (d *DiskSampler) Run(ctx context.Context) error {
	if _, err := iostat.ReadDriveStats(); err != nil {
		d.log.Infof("disk io metrics unavailable on this platform: %v", err)
		return nil
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.sample()
		}
	}
}

func (d *DiskSampler) sample() {
	drives, err := iostat.ReadDriveStats()
	if err != nil {
		d.log.Warnf("iostat sample failed: %v", err)
		return
	}
	var readTotal, writeTotal uint64
	for _, drv := range drives {
		readTotal += uint64(drv.BytesRead)
		writeTotal += uint64(drv.BytesWritten)
	}
	if d.haveLast {
		d.reg.AddDiskIO(deltaUint64(d.lastRead, readTotal), deltaUint64(d.lastWrite, writeTotal))
	}
	d.lastRead, d.lastWrite = readTotal, writeTotal
	d.haveLast = true
}

func deltaUint64(prev, cur uint64) uint64 {
	if cur < prev {
		return 0 // counter reset (e.g. host rebooted a backing volume)
	}
	return cur - prev
}
