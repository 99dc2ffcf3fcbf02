/*
scheduler.go - Automated year-end rollover scheduler

PURPOSE:
  Runs the rollover processor on a cron schedule so the year boundary is
  handled without an operator calling the admin endpoint. The default
  schedule fires shortly after midnight on January 1st and rolls the year
  that just closed.

DESIGN:
  - robfig/cron drives the schedule; the scheduler owns the cron instance
  - Each firing rolls time.Now().Year()-1
  - Balances skipped for outstanding reservations stay in the closing year;
    re-running (cron or admin endpoint) picks them up once the holds settle

CONFIGURATION:
  - Spec: cron expression (default "30 0 1 1 *", Jan 1 00:30)

USAGE:
  scheduler := NewRolloverScheduler(processor, "")
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerRollover endpoint (manual rollover)
  - rollover/rollover.go: Processor
*/
package api

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/warp/leave-engine/rollover"
)

const defaultRolloverSpec = "30 0 1 1 *"

// RolloverScheduler fires the year-end rollover on a cron schedule.
type RolloverScheduler struct {
	Processor *rollover.Processor
	Spec      string

	cron *cron.Cron
}

// NewRolloverScheduler creates a scheduler. An empty spec uses the default
// (shortly after midnight on January 1st).
func NewRolloverScheduler(p *rollover.Processor, spec string) *RolloverScheduler {
	if spec == "" {
		spec = defaultRolloverSpec
	}
	return &RolloverScheduler{Processor: p, Spec: spec}
}

// Start begins the scheduler.
func (rs *RolloverScheduler) Start() error {
	rs.cron = cron.New()
	_, err := rs.cron.AddFunc(rs.Spec, rs.runOnce)
	if err != nil {
		return err
	}
	rs.cron.Start()
	log.Printf("[Scheduler] Started with spec %q", rs.Spec)
	return nil
}

// Stop stops the scheduler and waits for a running job to finish.
func (rs *RolloverScheduler) Stop() {
	if rs.cron != nil {
		ctx := rs.cron.Stop()
		<-ctx.Done()
		log.Println("[Scheduler] Stopped")
	}
}

func (rs *RolloverScheduler) runOnce() {
	closingYear := time.Now().Year() - 1
	log.Printf("[Scheduler] Rolling over year %d", closingYear)

	report, err := rs.Processor.Run(context.Background(), closingYear)
	if err != nil {
		log.Printf("[Scheduler] Rollover for %d failed: %v", closingYear, err)
		return
	}
	log.Printf("[Scheduler] Rollover run %s done: %d rolled, %d skipped",
		report.RunID, len(report.Processed), len(report.Skipped))
}
