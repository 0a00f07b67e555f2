package chat

import "social-dm/internal/registry"

// Delivery is the outcome of a single live forward attempt
type Delivery int

const (
	Delivered Delivery = iota
	// Offline means the user has no registered connection
	Offline
	// TransportError means the connection was found but the write failed
	TransportError
)

func (d Delivery) String() string {
	switch d {
	case Delivered:
		return "delivered"
	case Offline:
		return "offline"
	case TransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

// forward pushes payload to the live connection of userID once. It never retries.
func forward(reg *registry.Registry, userID int64, payload []byte) Delivery {
	conn, ok := reg.Lookup(userID)
	if !ok {
		return Offline
	}
	if err := conn.Send(payload); err != nil {
		return TransportError
	}
	return Delivered
}
