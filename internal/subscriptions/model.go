// Package subscriptions keeps the registry of live realtime clients. Reads
// and writes go through Registry, which keeps the cache a shadow of the
// durable store.
package subscriptions

import (
	"errors"
	"time"
)

// NewConnectionsRoom is the room that receives NEW_CONNECTION announcements.
const NewConnectionsRoom = "new-connections"

// ErrNotFound is returned when a subscription exists in neither the cache
// nor the durable store.
var ErrNotFound = errors.New("subscription not found")

// Subscription is one realtime client binding.
type Subscription struct {
	SubscriptionID       string    `json:"subscriptionId"`
	ClientID             *string   `json:"clientId,omitempty"`
	NewConnectionsListen bool      `json:"newConnectionsListen"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// Patch is a partial Subscription. Nil fields are left unchanged.
type Patch struct {
	ClientID             *string `json:"clientId,omitempty"`
	NewConnectionsListen *bool   `json:"newConnectionsListen,omitempty"`
}

// Apply merges p over s.
func (p Patch) Apply(s *Subscription) {
	if p.ClientID != nil {
		id := *p.ClientID
		s.ClientID = &id
	}
	if p.NewConnectionsListen != nil {
		s.NewConnectionsListen = *p.NewConnectionsListen
	}
}
