// Package broadcast delivers ride-lifecycle events to groups of live
// connections. Group membership is transient and owned by the
// connection handlers; the Redis backbone fans events out across
// server processes.
package broadcast

import (
	"context"

	"github.com/example/ride-dispatch/internal/models"
)

// Conn is one live client connection. Send must not block: it returns
// false when the payload was dropped (slow or closing peer).
type Conn interface {
	Send(payload []byte) bool
}

// Broadcaster is the group pub/sub surface used by the orchestrator
// and the connection handlers. Publish is fire-and-forget: delivery
// failures are swallowed (and logged), never raised to the caller.
// Subscribe and Unsubscribe are idempotent.
type Broadcaster interface {
	Publish(ctx context.Context, group string, event any)
	Subscribe(group string, c Conn)
	Unsubscribe(group string, c Conn)
	UnsubscribeAll(c Conn)
}

// Group name derivation. One topic per group on the backbone.

func DiscoveryGeneral() string { return "discovery:general" }

func DiscoveryClass(class models.VehicleClass) string { return "discovery:" + string(class) }

func RideGroup(rideID string) string { return "ride:" + rideID }

func ChatGroup(rideID string) string { return "chat:" + rideID }
