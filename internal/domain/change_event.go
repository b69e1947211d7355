package domain

import "time"

// TicketEventKind describes a persisted workflow event for a ticket.
type TicketEventKind string

// TicketEventKind values used by the ticket history.
const (
	TicketEventCreate     TicketEventKind = "create"
	TicketEventTransition TicketEventKind = "transition"
	TicketEventAction     TicketEventKind = "action"
)

// TicketEvent represents a single history entry for a ticket.
type TicketEvent struct {
	ID              string
	TicketID        string
	TenantID        string
	Kind            TicketEventKind
	ActorID         string
	FromStatus      string
	ToStatus        string
	EdgeID          string
	WorkflowID      string
	WorkflowVersion int
	Metadata        map[string]string
	OccurredAt      time.Time
}

// BucketCounts summarizes ticket counts per reporting bucket for a tenant.
type BucketCounts struct {
	TenantID string
	Working  int
	Done     int
	OnHold   int
	Total    int
}

// StatusCount is a persisted count of tickets sharing one workflow id and status.
type StatusCount struct {
	WorkflowID string
	Status     string
	Count      int
}

// CountBuckets folds status counts into bucket totals.
func CountBuckets(tenantID string, buckets StatusBuckets, counts []StatusCount) BucketCounts {
	out := BucketCounts{TenantID: tenantID}
	for _, c := range counts {
		switch buckets.Classify(c.WorkflowID, c.Status) {
		case BucketWorking:
			out.Working += c.Count
		case BucketDone:
			out.Done += c.Count
		default:
			out.OnHold += c.Count
		}
		out.Total += c.Count
	}
	return out
}
