// README: Identifier type shared by all modules.
package types

import "github.com/google/uuid"

// ID identifies bookings, transports, quotations and counter-offers. Bookings and
// transports are issued by external systems, so an ID is not required to be a UUID.
type ID string

// NewID returns a random UUID-backed identifier.
func NewID() ID {
	return ID(uuid.NewString())
}

func (id ID) String() string {
	return string(id)
}
