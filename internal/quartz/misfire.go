package quartz

import "time"

// runMisfireHandler scans for overdue NORMAL triggers on its own timer,
// applying each one's misfire instruction and notifying trigger listeners.
// It never races with acquisition: ScanMisfires transiently marks matches
// so AcquireNextTriggers skips them until ApplyMisfire clears the mark.
func (c *SchedulerCore) runMisfireHandler(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := c.cfg.MisfireScanInterval
	if interval <= 0 {
		interval = c.cfg.MisfireThreshold
	}
	if interval <= 0 {
		interval = 60 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			c.scanAndApplyMisfires()
		}
	}
}

func (c *SchedulerCore) scanAndApplyMisfires() {
	start := c.clock()
	now := start

	keys, err := c.registry.ScanMisfires(now, c.cfg.MisfireThreshold)
	if err != nil {
		c.dispatch.DispatchSchedulerError("scan_misfires failed", err)
		return
	}
	if len(keys) == 0 {
		return
	}
	c.sink.MisfiresDetected(len(keys))

	for _, key := range keys {
		applied, err := c.registry.ApplyMisfire(key, now)
		if err != nil {
			c.dispatch.DispatchSchedulerError("apply_misfire failed", err)
			continue
		}
		if !applied {
			continue
		}
		t, err := c.registry.GetTrigger(key)
		if err != nil {
			continue
		}
		c.dispatch.DispatchTriggerMisfired(t)
	}

	c.sink.MisfireHandlingDuration(c.clock().Sub(start))
	c.wake.Notify()
}
