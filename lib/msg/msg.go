// Package msg defines the interface for the message brokers the scanner publishes chain events to.
package msg

import (
	"sync"

	"github.com/tarancss/capgw/lib/chain/types"
)

// Exchange chain events are published to. Routing keys are <scannerID>.<section>.<method>.
const Exchange = "ce"

// Notifier publishes matched chain events so out-of-process consumers (ie. confirmation watchers, webhooks) can
// react to them.
type Notifier interface {
	Setup() error
	Close() error

	// methods for the scanner service
	SendEvents(scannerID string, evs []types.Event) error

	// methods for consumers
	GetEvents(scannerID string, mut *sync.Mutex) (<-chan types.Event, <-chan error, error)
}

// RoutingKey returns the routing key for event e seen by scanner scannerID.
func RoutingKey(scannerID string, e types.Event) string {
	return scannerID + "." + e.Section + "." + e.Method
}
