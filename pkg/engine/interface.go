package engine

import (
	"sync"

	"github.com/dougsko/js8emu/pkg/config"
)

// Interface represents one emulated station: a TCP endpoint with a
// callsign, dial frequency, audio offset and grid locator. The dial is
// the only attribute that changes after boot (via RIG.SET_FREQ); the
// emitted frequency is always derived as dial+offset, never stored.
//
// The Interface owns the authoritative set of its live connections.
// Dial mutation and connection enumeration share one mutex so a
// broadcast never sees a half-updated interface.
type Interface struct {
	name     string
	port     int
	callsign string
	grid     string
	offset   int

	mutex sync.Mutex
	dial  int
	conns []*Conn
}

// NewInterface creates an interface from its configuration section.
func NewInterface(ic config.InterfaceConfig) *Interface {
	return &Interface{
		name:     ic.Name,
		port:     ic.Port,
		callsign: ic.Callsign,
		grid:     ic.Maidenhead,
		offset:   ic.Offset,
		dial:     ic.Frequency,
	}
}

// Name returns the configuration section name of the interface.
func (i *Interface) Name() string { return i.name }

// Port returns the TCP listen port.
func (i *Interface) Port() int { return i.port }

// Callsign returns the station callsign.
func (i *Interface) Callsign() string { return i.callsign }

// Grid returns the Maidenhead locator.
func (i *Interface) Grid() string { return i.grid }

// Offset returns the audio offset in Hz.
func (i *Interface) Offset() int { return i.offset }

// Dial returns the current dial frequency in Hz.
func (i *Interface) Dial() int {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	return i.dial
}

// Freq returns the emitted signal frequency, dial+offset.
func (i *Interface) Freq() int {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	return i.dial + i.offset
}

// Snapshot returns a consistent dial/offset/freq triple.
func (i *Interface) Snapshot() (dial, offset, freq int) {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	return i.dial, i.offset, i.dial + i.offset
}

// SetDial updates the dial frequency and returns the connections that
// must be notified with a STATION.STATUS.
func (i *Interface) SetDial(dial int) []*Conn {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	i.dial = dial
	return append([]*Conn(nil), i.conns...)
}

// Conns returns the live connections in attach order.
func (i *Interface) Conns() []*Conn {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	return append([]*Conn(nil), i.conns...)
}

// ConnCount returns the number of attached connections.
func (i *Interface) ConnCount() int {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	return len(i.conns)
}

func (i *Interface) attach(c *Conn) {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	i.conns = append(i.conns, c)
}

func (i *Interface) detach(c *Conn) {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	for n, conn := range i.conns {
		if conn == c {
			i.conns = append(i.conns[:n], i.conns[n+1:]...)
			return
		}
	}
}
