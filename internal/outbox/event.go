package outbox

// Event is the domain event envelope written to the outbox table inside the
// same transaction as the state change it describes. The Kafka topic name
// equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Lifecycle event topics. One topic per event type.
const (
	TopicBookingCreated     = "booking.created.v1"
	TopicBookingConfirmed   = "booking.confirmed.v1"
	TopicBookingCancelled   = "booking.cancelled.v1"
	TopicBookingRescheduled = "booking.rescheduled.v1"
	TopicPaymentReceived    = "booking.payment_received.v1"
	TopicReminderDue        = "booking.reminder.due.v1"
)
