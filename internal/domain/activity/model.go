// Package activity defines the display-ready event model projected from the
// transaction log. Events are derived, never persisted.
package activity

import "time"

// Event is one entry of the client activity feed.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	ActorName string    `json:"actor_name"`
	Amount    float64   `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail"`
}

// Before reports whether e sorts after other in a timestamp-descending feed,
// i.e. whether e is the newer entry. Equal timestamps fall back to
// descending id so feed order does not depend on store return order.
func (e Event) Before(other Event) bool {
	if !e.Timestamp.Equal(other.Timestamp) {
		return e.Timestamp.After(other.Timestamp)
	}
	return e.ID > other.ID
}
