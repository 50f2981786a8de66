package client

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/dougsko/js8emu/pkg/clock"
	"github.com/dougsko/js8emu/pkg/protocol"
)

// Client speaks the JS8Call API to one emulator interface over TCP,
// one JSON object per line.
type Client struct {
	addr    string
	timeout time.Duration
	conn    net.Conn
	reader  *bufio.Reader
	lastID  atomic.Int64
}

// NewClient creates a client for the interface on the given local port.
func NewClient(port int) *Client {
	return &Client{
		addr:    fmt.Sprintf("127.0.0.1:%d", port),
		timeout: 5 * time.Second,
	}
}

// Connect dials the interface.
func (c *Client) Connect() error {
	conn, err := net.DialTimeout("tcp", c.addr, c.timeout)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.addr, err)
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// nextID produces a request id the way real JS8Call clients do: the
// wall clock in ms, as a decimal string, forced monotonic so two quick
// requests never share an id.
func (c *Client) nextID() string {
	id := clock.NowMs()
	for {
		last := c.lastID.Load()
		if id <= last {
			id = last + 1
		}
		if c.lastID.CompareAndSwap(last, id) {
			return strconv.FormatInt(id, 10)
		}
	}
}

// Send writes one message to the interface.
func (c *Client) Send(msg *protocol.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("failed to write to %s: %w", c.addr, err)
	}
	return nil
}

// Read returns the next message from the interface, waiting up to the
// client timeout.
func (c *Client) Read() (*protocol.Message, error) {
	c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read from %s: %w", c.addr, err)
	}
	return protocol.Decode(line[:len(line)-1])
}

// Request sends a message carrying a fresh _ID and returns the next
// reply.
func (c *Client) Request(msgType, value string) (*protocol.Message, error) {
	msg := protocol.NewMessage(msgType, value)
	msg.Params["_ID"] = c.nextID()
	if err := c.Send(msg); err != nil {
		return nil, err
	}
	return c.Read()
}

// GetCallsign queries the interface callsign.
func (c *Client) GetCallsign() (string, error) {
	reply, err := c.Request(protocol.TypeGetCallsign, "")
	if err != nil {
		return "", err
	}
	if reply.Type != protocol.TypeCallsign {
		return "", fmt.Errorf("unexpected reply type %s", reply.Type)
	}
	return reply.Value, nil
}

// GetFrequency queries the interface dial, offset and frequency.
func (c *Client) GetFrequency() (dial, offset, freq int, err error) {
	reply, err := c.Request(protocol.TypeGetFreq, "")
	if err != nil {
		return 0, 0, 0, err
	}
	if reply.Type != protocol.TypeFreq {
		return 0, 0, 0, fmt.Errorf("unexpected reply type %s", reply.Type)
	}
	if dial, err = reply.IntParam("DIAL"); err != nil {
		return 0, 0, 0, err
	}
	if offset, err = reply.IntParam("OFFSET"); err != nil {
		return 0, 0, 0, err
	}
	if freq, err = reply.IntParam("FREQ"); err != nil {
		return 0, 0, 0, err
	}
	return dial, offset, freq, nil
}

// SetFrequency retunes the interface dial and returns the
// STATION.STATUS that follows.
func (c *Client) SetFrequency(dial int) (*protocol.Message, error) {
	msg := protocol.NewMessage(protocol.TypeSetFreq, "")
	msg.Params["_ID"] = c.nextID()
	msg.Params["DIAL"] = dial
	if err := c.Send(msg); err != nil {
		return nil, err
	}
	return c.Read()
}

// SendMessage submits a payload for transmission. There is no inline
// reply; the caller observes RIG.PTT frames via Read.
func (c *Client) SendMessage(text string) error {
	msg := protocol.NewMessage(protocol.TypeSendMessage, text)
	msg.Params["_ID"] = c.nextID()
	return c.Send(msg)
}
