package main

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/redox-os/ipcd/internal/logger"
	"github.com/redox-os/ipcd/reactor"
)

// statsTimeout matches diagTimeout: a snapshot round-trip has the same
// wedged-reactor escape hatch whether it's requested by HTTP or by the
// ticker.
const statsTimeout = 2 * time.Second

// newStatsTicker builds the cron.Cron job logging periodic reactor health.
// spec is a standard cron expression; robfig/cron also accepts the
// "@every 30s"-style shorthand used by DefaultConfig.
func newStatsTicker(spec string, d *Daemon) (*cron.Cron, error) {
	c := cron.New()

	_, err := c.AddFunc(spec, func() { d.logStats() })
	if err != nil {
		return nil, err
	}

	return c, nil
}

func (d *Daemon) logStats() {
	ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
	defer cancel()

	chanSnap, err := d.loop.ChanSnapshot(ctx)
	if err != nil {
		if err == reactor.ErrSnapshotTimeout {
			logger.Warn("stats: chan snapshot timed out")
			return
		}
		logger.Warn("stats: chan snapshot failed", logger.Ctx{"err": err})
		return
	}

	shmSnap, err := d.loop.ShmSnapshot(ctx)
	if err != nil {
		if err == reactor.ErrSnapshotTimeout {
			logger.Warn("stats: shm snapshot timed out")
			return
		}
		logger.Warn("stats: shm snapshot failed", logger.Ctx{"err": err})
		return
	}

	logger.Info("reactor stats", logger.Ctx{
		"uptime_s":       int(time.Since(d.start).Seconds()),
		"chan_listeners": chanSnap.Listeners,
		"chan_clients":   chanSnap.Clients,
		"chan_parked":    chanSnap.TotalAwaiting,
		"chan_buffered":  chanSnap.TotalBuffered,
		"shm_entries":    shmSnap.Entries,
		"shm_bytes":      shmSnap.TotalBytes,
	})
}
