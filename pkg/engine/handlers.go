package engine

import (
	"github.com/dougsko/js8emu/pkg/clock"
	"github.com/dougsko/js8emu/pkg/logging"
	"github.com/dougsko/js8emu/pkg/protocol"
)

// handleGetCallsign answers STATION.GET_CALLSIGN with the interface
// callsign, echoing the request _ID as an integer.
func (e *Engine) handleGetCallsign(c *Conn, msg *protocol.Message) {
	id, err := msg.EchoID()
	if err != nil {
		logging.Warnf("engine", "%s: %s ignored: %v", c.Interface().Name(), msg.Type, err)
		return
	}

	reply := protocol.NewMessage(protocol.TypeCallsign, c.Interface().Callsign())
	reply.Params["_ID"] = id
	c.EnqueueMessage(reply)
}

// handleGetFreq answers RIG.GET_FREQ with the current dial, offset and
// derived frequency.
func (e *Engine) handleGetFreq(c *Conn, msg *protocol.Message) {
	id, err := msg.EchoID()
	if err != nil {
		logging.Warnf("engine", "%s: %s ignored: %v", c.Interface().Name(), msg.Type, err)
		return
	}

	dial, offset, freq := c.Interface().Snapshot()
	reply := protocol.NewMessage(protocol.TypeFreq, "")
	reply.Params["DIAL"] = dial
	reply.Params["OFFSET"] = offset
	reply.Params["FREQ"] = freq
	reply.Params["_ID"] = id
	c.EnqueueMessage(reply)
}

// handleSetFreq retunes the interface dial and notifies every attached
// connection with a STATION.STATUS reflecting the new state.
func (e *Engine) handleSetFreq(c *Conn, msg *protocol.Message) {
	dial, err := msg.IntParam("DIAL")
	if err != nil {
		logging.Warnf("engine", "%s: %s ignored: %v", c.Interface().Name(), msg.Type, err)
		return
	}

	iface := c.Interface()
	conns := iface.SetDial(dial)
	logging.Infof("engine", "%s retuned to dial=%d", iface.Name(), dial)

	status := e.stationStatus(iface)
	for _, conn := range conns {
		conn.EnqueueMessage(status)
	}
}

// handleSendMessage hands the payload to the transmit scheduler. There
// is no inline reply; the scheduler decides when this connection sees
// its PTT events.
func (e *Engine) handleSendMessage(c *Conn, msg *protocol.Message) {
	e.startTransmit(c, msg.Value)
}

func (e *Engine) stationStatus(iface *Interface) *protocol.Message {
	dial, offset, freq := iface.Snapshot()
	status := protocol.NewMessage(protocol.TypeStationStatus, "")
	status.Params["DIAL"] = dial
	status.Params["OFFSET"] = offset
	status.Params["FREQ"] = freq
	status.Params["SELECTED"] = ""
	status.Params["SPEED"] = 1
	status.Params["_ID"] = clock.StatusIDString(clock.NowMs())
	return status
}
