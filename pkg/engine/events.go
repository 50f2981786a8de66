package engine

import "github.com/dougsko/js8emu/pkg/protocol"

// Event directions
const (
	DirInbound  = "rx" // client -> emulator
	DirOutbound = "tx" // emulator -> client
)

// Event describes one frame crossing an interface, for observers such as
// the HTTP monitor. Events are informational; dropping them never
// affects the wire protocol.
type Event struct {
	Direction string            `json:"direction"`
	Interface string            `json:"interface"`
	Message   *protocol.Message `json:"message"`
}

// EventSink receives engine events. Publish must not block; slow
// observers are expected to drop.
type EventSink interface {
	Publish(Event)
}
