package leave

import (
	"context"
	"log"
	"time"
)

// =============================================================================
// EVENTS - Emitted to external collaborators
// =============================================================================

// EventType names the lifecycle moments the engine announces. Delivery
// mechanics belong to the notification dispatcher, not the engine.
type EventType string

const (
	EventApplicationSubmitted EventType = "application_submitted"
	EventLevelApproved        EventType = "level_approved"
	EventApproved             EventType = "approved"
	EventRejected             EventType = "rejected"
	EventCancelled            EventType = "cancelled"
	EventBalanceRolledOver    EventType = "balance_rolled_over"
)

// Event is a fire-and-forget notification. The engine's state transition has
// already committed by the time an event is dispatched; a lost event never
// corrupts balances.
type Event struct {
	Type          EventType
	EmployeeID    EmployeeID
	LeaveTypeID   LeaveTypeID
	ApplicationID ApplicationID
	Year          int
	At            time.Time

	// Detail carries event-specific values (approval level, payout amount).
	Detail map[string]string
}

// Dispatcher receives engine events. Implementations must not block; the
// engine calls Dispatch synchronously after committing state.
type Dispatcher interface {
	Dispatch(ctx context.Context, e Event)
}

// NopDispatcher discards events.
type NopDispatcher struct{}

func (NopDispatcher) Dispatch(context.Context, Event) {}

// LogDispatcher writes events to the process log. Useful until a real
// notification collaborator is wired in.
type LogDispatcher struct{}

func (LogDispatcher) Dispatch(_ context.Context, e Event) {
	log.Printf("[Events] %s employee=%s type=%s app=%s detail=%v",
		e.Type, e.EmployeeID, e.LeaveTypeID, e.ApplicationID, e.Detail)
}
