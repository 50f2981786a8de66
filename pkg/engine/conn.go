package engine

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dougsko/js8emu/pkg/logging"
	"github.com/dougsko/js8emu/pkg/protocol"
)

// outboundDepth bounds the per-connection write queue. A peer that
// cannot drain this many frames is treated as stalled and loses frames
// rather than stalling the transmit clock.
const outboundDepth = 256

// maxLineBytes bounds a single inbound JSON line.
const maxLineBytes = 1 << 20

// Conn is a single accepted TCP client attached to exactly one
// Interface. All writes go through an ordered queue drained by one
// writer goroutine, so messages never interleave on the socket.
type Conn struct {
	iface   *Interface
	sock    net.Conn
	publish func(Event)

	outbound chan []byte
	done     chan struct{}
	closed   atomic.Bool
	once     sync.Once
}

func newConn(iface *Interface, sock net.Conn, publish func(Event)) *Conn {
	c := &Conn{
		iface:    iface,
		sock:     sock,
		publish:  publish,
		outbound: make(chan []byte, outboundDepth),
		done:     make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// Interface returns the interface this connection is attached to.
func (c *Conn) Interface() *Interface { return c.iface }

// Closed reports whether the connection has been shut down.
func (c *Conn) Closed() bool { return c.closed.Load() }

// RemoteAddr returns the peer address for logging.
func (c *Conn) RemoteAddr() string { return c.sock.RemoteAddr().String() }

// EnqueueMessage encodes the given messages and queues them as a single
// write, so a RX.DIRECTED+RX.SPOT pair reaches the socket back to back.
func (c *Conn) EnqueueMessage(msgs ...*protocol.Message) {
	if c.closed.Load() {
		return
	}
	var buf []byte
	for _, msg := range msgs {
		data, err := msg.Encode()
		if err != nil {
			logging.Errorf("conn", "%s: %v", c.iface.Name(), err)
			return
		}
		buf = append(buf, data...)
	}

	select {
	case c.outbound <- buf:
		for _, msg := range msgs {
			c.publish(Event{Direction: DirOutbound, Interface: c.iface.Name(), Message: msg})
		}
	case <-c.done:
	default:
		logging.Warnf("conn", "%s: write queue full, dropping %d message(s) for %s",
			c.iface.Name(), len(msgs), c.RemoteAddr())
	}
}

// readLoop feeds inbound lines to the dispatcher until EOF or error.
func (c *Conn) readLoop(dispatch func(*Conn, *protocol.Message)) {
	defer c.Close()

	scanner := bufio.NewScanner(c.sock)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		msg, err := protocol.Decode(line)
		if err != nil {
			// Malformed lines are dropped; the connection survives.
			logging.Warnf("conn", "%s: dropping line from %s: %v", c.iface.Name(), c.RemoteAddr(), err)
			continue
		}

		c.publish(Event{Direction: DirInbound, Interface: c.iface.Name(), Message: msg})
		dispatch(c, msg)
	}

	if err := scanner.Err(); err != nil && !c.closed.Load() {
		logging.Debugf("conn", "%s: read from %s: %v", c.iface.Name(), c.RemoteAddr(), err)
	}
}

func (c *Conn) writeLoop() {
	writer := bufio.NewWriter(c.sock)
	for {
		select {
		case buf := <-c.outbound:
			if _, err := writer.Write(buf); err != nil {
				c.Close()
				return
			}
			if err := writer.Flush(); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close shuts the connection down and detaches it from its interface.
// Safe to call from any goroutine, any number of times.
func (c *Conn) Close() {
	c.once.Do(func() {
		c.closed.Store(true)
		close(c.done)
		c.sock.Close()
		c.iface.detach(c)
		logging.Infof("conn", "%s: disconnected %s", c.iface.Name(), c.RemoteAddr())
	})
}

// DrainAndClose waits until the write queue empties, up to the grace
// period, then closes the connection.
func (c *Conn) DrainAndClose(grace time.Duration) {
	deadline := time.Now().Add(grace)
	for len(c.outbound) > 0 && time.Now().Before(deadline) && !c.closed.Load() {
		time.Sleep(5 * time.Millisecond)
	}
	c.Close()
}
