/*
rollover.go - Year-end balance rollover

PURPOSE:
  Walks every balance of a closing year and rolls it into the next year
  under its policy's rule: carry-forward up to the cap, encashment up to the
  cap at the configured rate, forfeiture of the rest.

FAILURE ISOLATION:
  One balance failing never aborts the run. Balances with outstanding
  reservations are skipped and reported; a re-run after the holds settle
  picks up exactly the skipped keys, because the ledger refuses to roll a
  key twice.

SEE ALSO:
  ledger/ledger.go - RollForward holds the arithmetic and the idempotence
*/
package rollover

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/ledger"
)

// =============================================================================
// REPORT
// =============================================================================

// Processed records one balance that rolled over in this run.
type Processed struct {
	Key           ledger.Key
	CarriedOver   int
	EncashedDays  int
	Payout        decimal.Decimal
	ForfeitedDays int
}

// Skipped records one balance the run could not roll, and why.
type Skipped struct {
	Key    ledger.Key
	Reason string
}

// Report summarizes a rollover run. AlreadyDone counts balances a previous
// run had rolled; they are neither processed nor skipped.
type Report struct {
	RunID       string
	Year        int
	Processed   []Processed
	Skipped     []Skipped
	AlreadyDone int
	StartedAt   time.Time
	FinishedAt  time.Time
}

// =============================================================================
// PROCESSOR
// =============================================================================

// Processor drives year-end rollover across all balances of a year.
type Processor struct {
	ledger   *ledger.Ledger
	policies leave.PolicyStore
	events   leave.Dispatcher
	now      func() time.Time
}

func NewProcessor(led *ledger.Ledger, policies leave.PolicyStore, events leave.Dispatcher) *Processor {
	if events == nil {
		events = leave.NopDispatcher{}
	}
	return &Processor{ledger: led, policies: policies, events: events, now: time.Now}
}

// Run rolls every balance of the given year forward. Safe to re-run: keys
// already rolled are counted under AlreadyDone and left untouched.
func (p *Processor) Run(ctx context.Context, year int) (*Report, error) {
	balances, err := p.ledger.BalancesForYear(ctx, year)
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:     uuid.NewString(),
		Year:      year,
		StartedAt: p.now().UTC(),
	}
	log.Printf("[Rollover] run %s: year %d, %d balances", report.RunID, year, len(balances))

	// Policies are few relative to balances; cache lookups per run.
	policyCache := make(map[leave.PolicyID]*leave.LeavePolicy)

	for _, b := range balances {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p.rollOne(ctx, b, policyCache, report)
	}

	report.FinishedAt = p.now().UTC()
	log.Printf("[Rollover] run %s: %d rolled, %d skipped, %d already done",
		report.RunID, len(report.Processed), len(report.Skipped), report.AlreadyDone)
	return report, nil
}

func (p *Processor) rollOne(ctx context.Context, b ledger.Balance, cache map[leave.PolicyID]*leave.LeavePolicy, report *Report) {
	policy, ok := cache[b.PolicyID]
	if !ok {
		var err error
		policy, err = p.policies.GetPolicy(ctx, b.PolicyID)
		if err != nil {
			report.Skipped = append(report.Skipped, Skipped{Key: b.Key, Reason: err.Error()})
			return
		}
		if policy == nil {
			report.Skipped = append(report.Skipped, Skipped{
				Key:    b.Key,
				Reason: fmt.Sprintf("policy %s no longer exists", b.PolicyID),
			})
			return
		}
		cache[b.PolicyID] = policy
	}

	rule, ok := policy.Rule(b.Key.LeaveTypeID)
	if !ok {
		report.Skipped = append(report.Skipped, Skipped{
			Key:    b.Key,
			Reason: fmt.Sprintf("policy %s has no rule for leave type %s", b.PolicyID, b.Key.LeaveTypeID),
		})
		return
	}

	res, err := p.ledger.RollForward(ctx, b.Key, rule, b.PolicyID, report.RunID)
	if err != nil {
		var pending *leave.PendingReservationsError
		reason := err.Error()
		if errors.As(err, &pending) {
			reason = fmt.Sprintf("%d reserved day(s) outstanding", pending.ReservedDays)
		}
		log.Printf("[Rollover] run %s: skip %s: %s", report.RunID, b.Key, reason)
		report.Skipped = append(report.Skipped, Skipped{Key: b.Key, Reason: reason})
		return
	}
	if res.AlreadyDone {
		report.AlreadyDone++
		return
	}

	report.Processed = append(report.Processed, Processed{
		Key:           b.Key,
		CarriedOver:   res.CarriedOver,
		EncashedDays:  res.EncashedDays,
		Payout:        res.Payout,
		ForfeitedDays: res.ForfeitedDays,
	})

	p.events.Dispatch(ctx, leave.Event{
		Type:        leave.EventBalanceRolledOver,
		EmployeeID:  b.Key.EmployeeID,
		LeaveTypeID: b.Key.LeaveTypeID,
		Year:        b.Key.Year,
		At:          p.now().UTC(),
		Detail: map[string]string{
			"carriedOver":   fmt.Sprint(res.CarriedOver),
			"encashedDays":  fmt.Sprint(res.EncashedDays),
			"payout":        res.Payout.String(),
			"forfeitedDays": fmt.Sprint(res.ForfeitedDays),
		},
	})
}
