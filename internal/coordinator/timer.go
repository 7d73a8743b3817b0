package coordinator

import (
	"context"
	"time"
)

// BeginTimedSyncs starts the background sync timer. Each tick runs logins
// then history as two independent attempts, so one collection's failure
// never blocks the other's timed run. Starting an already-running timer
// is a no-op.
func (c *Coordinator) BeginTimedSyncs() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timerStop != nil {
		return
	}
	stop := make(chan struct{})
	c.timerStop = stop

	c.timerWG.Add(1)
	go func() {
		defer c.timerWG.Done()

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.runTimedPass()
			}
		}
	}()

	c.logger.Printf("Timed syncs started, interval %s", c.interval)
}

// EndTimedSyncs stops the background timer and waits for an in-progress
// tick to finish. Stopping an absent timer is a no-op.
func (c *Coordinator) EndTimedSyncs() {
	c.mu.Lock()
	stop := c.timerStop
	c.timerStop = nil
	c.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	c.timerWG.Wait()
	c.logger.Printf("Timed syncs stopped")
}

// runTimedPass is one timer tick. Timed attempts log and swallow their
// failures so the timer keeps running.
func (c *Coordinator) runTimedPass() {
	ctx := context.Background()

	if st := c.SyncLogins(ctx); !st.Ok() {
		c.logger.Printf("Timed logins sync did not complete: %v", st)
	}
	if st := c.SyncHistory(ctx); !st.Ok() {
		c.logger.Printf("Timed history sync did not complete: %v", st)
	}
}
