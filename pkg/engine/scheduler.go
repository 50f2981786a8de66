package engine

import (
	"time"

	"github.com/dougsko/js8emu/pkg/clock"
	"github.com/dougsko/js8emu/pkg/logging"
	"github.com/dougsko/js8emu/pkg/protocol"
)

// TransmitJob carries one accepted TX.SEND_MESSAGE across the emulated
// air: the payload is split into fragments, each fragment is paced by
// frame_time and bracketed with PTT on the sender, and every
// co-frequency interface hears the fragments as RX.ACTIVITY followed by
// the terminating RX.DIRECTED+RX.SPOT pair.
//
// The destination set is snapshotted when the job starts; interfaces
// retuning mid-job do not join or leave the transmission.
type TransmitJob struct {
	engine    *Engine
	origin    *Interface
	sender    *Conn
	payload   string
	fragments []string
	dests     []*Interface
}

func (e *Engine) startTransmit(sender *Conn, payload string) {
	origin := sender.Interface()
	if payload == "" {
		logging.Warnf("scheduler", "%s: empty TX.SEND_MESSAGE ignored", origin.Name())
		return
	}
	job := &TransmitJob{
		engine:    e,
		origin:    origin,
		sender:    sender,
		payload:   payload,
		fragments: protocol.Fragment(payload, e.config.General.FragmentSize),
		dests:     e.Destinations(origin),
	}

	logging.Infof("scheduler", "%s transmitting %d byte(s) in %d fragment(s) to %d interface(s)",
		origin.Name(), len(payload), len(job.fragments), len(job.dests))

	e.jobs.Add(1)
	go job.run()
}

func (j *TransmitJob) run() {
	defer j.engine.jobs.Done()

	frameTime := time.Duration(j.engine.config.General.FrameTime * float64(time.Second))
	for _, frag := range j.fragments {
		j.emitPTT(true)
		if !j.engine.sleepFrame(frameTime) {
			return
		}
		j.emitPTT(false)

		for _, dest := range j.dests {
			for _, conn := range dest.Conns() {
				j.emitActivity(dest, conn, frag)
			}
		}
	}

	j.finalize()
}

// emitPTT keys or unkeys the sender's rig. The transmission is already
// on the air if the sender has gone away, so a closed sender is simply
// skipped and the job continues for the receivers.
func (j *TransmitJob) emitPTT(on bool) {
	value := "off"
	if on {
		value = "on"
	}
	msg := protocol.NewMessage(protocol.TypePTT, value)
	msg.Params["PTT"] = on
	msg.Params["UTC"] = clock.NowMs()
	msg.Params["_ID"] = protocol.AsyncID
	j.sender.EnqueueMessage(msg)
}

func (j *TransmitJob) emitActivity(dest *Interface, conn *Conn, frag string) {
	dial, offset, freq := dest.Snapshot()
	msg := protocol.NewMessage(protocol.TypeRxActivity, frag)
	msg.Params["DIAL"] = dial
	msg.Params["OFFSET"] = offset
	msg.Params["FREQ"] = freq
	msg.Params["SNR"] = j.engine.noise.SNR()
	msg.Params["SPEED"] = 1
	msg.Params["TDRIFT"] = j.engine.noise.TDrift()
	msg.Params["UTC"] = clock.NowMs()
	msg.Params["_ID"] = protocol.AsyncID
	conn.EnqueueMessage(msg)
}

// finalize emits the reassembled directed message and its companion
// spot. Both frames go out in one socket write per receiver, with the
// spot reporting the same SNR as the directed message it follows.
func (j *TransmitJob) finalize() {
	text := j.payload + protocol.Terminator
	to := protocol.Addressee(j.payload)

	for _, dest := range j.dests {
		dial, offset, freq := dest.Snapshot()
		for _, conn := range dest.Conns() {
			snr := j.engine.noise.SNR()
			utc := clock.NowMs()

			directed := protocol.NewMessage(protocol.TypeRxDirected, text)
			directed.Params["CMD"] = " "
			directed.Params["DIAL"] = dial
			directed.Params["EXTRA"] = ""
			directed.Params["FREQ"] = freq
			directed.Params["FROM"] = j.origin.Callsign()
			directed.Params["GRID"] = ""
			directed.Params["OFFSET"] = offset
			directed.Params["SNR"] = snr
			directed.Params["SPEED"] = 1
			directed.Params["TDRIFT"] = j.engine.noise.TDrift()
			directed.Params["TEXT"] = text
			directed.Params["TO"] = to
			directed.Params["UTC"] = utc
			directed.Params["_ID"] = protocol.AsyncID

			spot := protocol.NewMessage(protocol.TypeRxSpot, "")
			spot.Params["CALL"] = j.origin.Callsign()
			spot.Params["DIAL"] = dial
			spot.Params["FREQ"] = freq
			spot.Params["GRID"] = " " + j.origin.Grid()
			spot.Params["OFFSET"] = offset
			spot.Params["SNR"] = snr
			spot.Params["_ID"] = protocol.AsyncID

			conn.EnqueueMessage(directed, spot)
		}
	}
}
