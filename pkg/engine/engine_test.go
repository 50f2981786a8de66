package engine

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dougsko/js8emu/pkg/clock"
	"github.com/dougsko/js8emu/pkg/client"
	"github.com/dougsko/js8emu/pkg/config"
	"github.com/dougsko/js8emu/pkg/protocol"
)

// freePorts grabs n distinct loopback ports for a test engine.
func freePorts(t *testing.T, n int) []int {
	t.Helper()
	var listeners []net.Listener
	var ports []int
	for i := 0; i < n; i++ {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		listeners = append(listeners, ln)
		ports = append(ports, ln.Addr().(*net.TCPAddr).Port)
	}
	for _, ln := range listeners {
		ln.Close()
	}
	return ports
}

// testConfig mirrors the sample configuration: interfaces 1 and 3 share
// 3578000 Hz, interfaces 2 and 4 share 7078000 Hz.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	ports := freePorts(t, 4)

	cfg := &config.Config{}
	cfg.General.FragmentSize = 4
	cfg.General.FrameTime = 0.02
	cfg.Interfaces = []config.InterfaceConfig{
		{Name: "interface_1", Port: ports[0], Callsign: "2E0FGO", Frequency: 3578000, Offset: 1250, Maidenhead: "JO01"},
		{Name: "interface_2", Port: ports[1], Callsign: "M0PXO", Frequency: 7078000, Offset: 1500, Maidenhead: "IO91"},
		{Name: "interface_3", Port: ports[2], Callsign: "G4ABC", Frequency: 3578000, Offset: 900, Maidenhead: "IO83"},
		{Name: "interface_4", Port: ports[3], Callsign: "W1AW", Frequency: 7078000, Offset: 2000, Maidenhead: "FN31"},
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func startEngine(t *testing.T) (*Engine, *config.Config) {
	t.Helper()
	cfg := testConfig(t)
	eng := NewEngine(cfg)
	eng.SetNoise(clock.NewNoise(42))
	require.NoError(t, eng.Start())
	t.Cleanup(func() { eng.Stop() })
	return eng, cfg
}

// testConn is a raw line-JSON client with per-read deadlines.
type testConn struct {
	sock   net.Conn
	reader *bufio.Reader
}

func dialIface(t *testing.T, port int) *testConn {
	t.Helper()
	var sock net.Conn
	var err error
	for i := 0; i < 20; i++ {
		sock, err = net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	t.Cleanup(func() { sock.Close() })
	return &testConn{sock: sock, reader: bufio.NewReader(sock)}
}

func (tc *testConn) send(t *testing.T, raw string) {
	t.Helper()
	_, err := tc.sock.Write([]byte(raw + "\n"))
	require.NoError(t, err)
}

func (tc *testConn) read(t *testing.T) *protocol.Message {
	t.Helper()
	tc.sock.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := tc.reader.ReadBytes('\n')
	require.NoError(t, err)
	msg, err := protocol.Decode(line[:len(line)-1])
	require.NoError(t, err)
	return msg
}

// expectSilence asserts that nothing arrives within the window.
func (tc *testConn) expectSilence(t *testing.T, window time.Duration) {
	t.Helper()
	tc.sock.SetReadDeadline(time.Now().Add(window))
	line, err := tc.reader.ReadBytes('\n')
	if err == nil {
		t.Fatalf("Expected no traffic, got %q", line)
	}
	netErr, ok := err.(net.Error)
	require.True(t, ok, "expected timeout, got %v", err)
	assert.True(t, netErr.Timeout(), "expected timeout, got %v", err)
}

func intParam(t *testing.T, msg *protocol.Message, key string) int {
	t.Helper()
	n, err := msg.IntParam(key)
	require.NoError(t, err, "param %s of %s", key, msg.Type)
	return n
}

// assertFreqConsistent checks FREQ == DIAL + OFFSET on any message
// carrying the triple.
func assertFreqConsistent(t *testing.T, msg *protocol.Message) {
	t.Helper()
	dial := intParam(t, msg, "DIAL")
	offset := intParam(t, msg, "OFFSET")
	freq := intParam(t, msg, "FREQ")
	assert.Equal(t, dial+offset, freq, "%s frequency triple inconsistent", msg.Type)
}

func assertNoiseBounds(t *testing.T, msg *protocol.Message) {
	t.Helper()
	snr := intParam(t, msg, "SNR")
	assert.GreaterOrEqual(t, snr, -20)
	assert.LessOrEqual(t, snr, 20)
	if raw, ok := msg.Params["TDRIFT"]; ok {
		drift, isFloat := raw.(float64)
		require.True(t, isFloat, "TDRIFT must be a JSON number")
		assert.GreaterOrEqual(t, drift, -2.0)
		assert.LessOrEqual(t, drift, 2.0)
	}
}

func TestCallsignQuery(t *testing.T) {
	_, cfg := startEngine(t)
	tc := dialIface(t, cfg.Interfaces[0].Port)

	tc.send(t, `{"type":"STATION.GET_CALLSIGN","value":"","params":{"_ID":"1"}}`)
	reply := tc.read(t)

	assert.Equal(t, protocol.TypeCallsign, reply.Type)
	assert.Equal(t, "2E0FGO", reply.Value)
	assert.Equal(t, float64(1), reply.Params["_ID"], "_ID must be echoed as a JSON integer")
}

func TestFreqQuery(t *testing.T) {
	_, cfg := startEngine(t)
	tc := dialIface(t, cfg.Interfaces[1].Port)

	tc.send(t, `{"type":"RIG.GET_FREQ","value":"","params":{"_ID":"2"}}`)
	reply := tc.read(t)

	assert.Equal(t, protocol.TypeFreq, reply.Type)
	assert.Equal(t, 7078000, intParam(t, reply, "DIAL"))
	assert.Equal(t, 1500, intParam(t, reply, "OFFSET"))
	assert.Equal(t, 7079500, intParam(t, reply, "FREQ"))
	assert.Equal(t, float64(2), reply.Params["_ID"])
	assertFreqConsistent(t, reply)
}

func TestDialChange(t *testing.T) {
	_, cfg := startEngine(t)
	tc := dialIface(t, cfg.Interfaces[0].Port)
	other := dialIface(t, cfg.Interfaces[0].Port)

	// Let both connections attach before the dial moves.
	tc.send(t, `{"type":"STATION.GET_CALLSIGN","value":"","params":{"_ID":"1"}}`)
	tc.read(t)
	other.send(t, `{"type":"STATION.GET_CALLSIGN","value":"","params":{"_ID":"1"}}`)
	other.read(t)

	tc.send(t, `{"type":"RIG.SET_FREQ","value":"","params":{"_ID":"3","DIAL":7078000}}`)
	status := tc.read(t)

	assert.Equal(t, protocol.TypeStationStatus, status.Type)
	assert.Equal(t, 7078000, intParam(t, status, "DIAL"))
	assert.Equal(t, 1250, intParam(t, status, "OFFSET"))
	assert.Equal(t, 7079250, intParam(t, status, "FREQ"))
	assert.Equal(t, float64(1), status.Params["SPEED"])
	assert.Equal(t, "", status.Params["SELECTED"])
	assertFreqConsistent(t, status)

	// STATION.STATUS _ID is the epoch-based string form.
	id, ok := status.Params["_ID"].(string)
	require.True(t, ok, "STATION.STATUS _ID must be a string")
	assert.NotEmpty(t, id)

	// Every connection on the interface hears about the retune.
	otherStatus := other.read(t)
	assert.Equal(t, protocol.TypeStationStatus, otherStatus.Type)
	assert.Equal(t, 7078000, intParam(t, otherStatus, "DIAL"))

	// Subsequent queries see the new frequency.
	tc.send(t, `{"type":"RIG.GET_FREQ","value":"","params":{"_ID":"4"}}`)
	reply := tc.read(t)
	assert.Equal(t, 7078000, intParam(t, reply, "DIAL"))
	assert.Equal(t, 7079250, intParam(t, reply, "FREQ"))
}

func TestBroadcast(t *testing.T) {
	_, cfg := startEngine(t)
	sender := dialIface(t, cfg.Interfaces[0].Port)   // 3578000
	offFreq1 := dialIface(t, cfg.Interfaces[1].Port) // 7078000
	receiver := dialIface(t, cfg.Interfaces[2].Port) // 3578000
	offFreq2 := dialIface(t, cfg.Interfaces[3].Port) // 7078000

	// Make sure every connection is attached before transmitting.
	for _, tc := range []*testConn{sender, offFreq1, receiver, offFreq2} {
		tc.send(t, `{"type":"STATION.GET_CALLSIGN","value":"","params":{"_ID":"1"}}`)
		tc.read(t)
	}

	sender.send(t, `{"type":"TX.SEND_MESSAGE","value":"ABCDEFGHI","params":{"_ID":"100"}}`)

	// The sender sees three PTT on/off pairs and nothing else.
	for i := 0; i < 3; i++ {
		on := sender.read(t)
		assert.Equal(t, protocol.TypePTT, on.Type, "fragment %d", i)
		assert.Equal(t, "on", on.Value)
		assert.Equal(t, true, on.Params["PTT"])
		assert.Equal(t, float64(-1), on.Params["_ID"])
		assert.Contains(t, on.Params, "UTC")

		off := sender.read(t)
		assert.Equal(t, protocol.TypePTT, off.Type, "fragment %d", i)
		assert.Equal(t, "off", off.Value)
		assert.Equal(t, false, off.Params["PTT"])
	}
	sender.expectSilence(t, 250*time.Millisecond)

	// The co-frequency receiver reassembles the payload in order.
	var got []string
	for i := 0; i < 3; i++ {
		activity := receiver.read(t)
		require.Equal(t, protocol.TypeRxActivity, activity.Type)
		got = append(got, activity.Value)
		assert.Equal(t, 3578000, intParam(t, activity, "DIAL"))
		assert.Equal(t, 900, intParam(t, activity, "OFFSET"))
		assert.Equal(t, 3578900, intParam(t, activity, "FREQ"))
		assert.Equal(t, float64(1), activity.Params["SPEED"])
		assert.Equal(t, float64(-1), activity.Params["_ID"])
		assertFreqConsistent(t, activity)
		assertNoiseBounds(t, activity)
	}
	assert.Equal(t, []string{"ABCD", "EFGH", "I"}, got)
	assert.Equal(t, "ABCDEFGHI", strings.Join(got, ""))

	// Then the terminated directed message and its spot, back to back.
	directed := receiver.read(t)
	require.Equal(t, protocol.TypeRxDirected, directed.Type)
	assert.Equal(t, "ABCDEFGHI \xe2\x99\xa6 ", directed.Value)
	assert.Equal(t, directed.Value, directed.Params["TEXT"])
	assert.Equal(t, "2E0FGO", directed.Params["FROM"])
	assert.Equal(t, "", directed.Params["TO"])
	assert.Equal(t, " ", directed.Params["CMD"])
	assert.Equal(t, "", directed.Params["GRID"])
	assert.Equal(t, "", directed.Params["EXTRA"])
	assert.Equal(t, float64(-1), directed.Params["_ID"])
	assertFreqConsistent(t, directed)
	assertNoiseBounds(t, directed)

	spot := receiver.read(t)
	require.Equal(t, protocol.TypeRxSpot, spot.Type)
	assert.Equal(t, "2E0FGO", spot.Params["CALL"])
	assert.Equal(t, " JO01", spot.Params["GRID"], "spot grid keeps its leading space")
	assert.Equal(t, intParam(t, directed, "SNR"), intParam(t, spot, "SNR"),
		"spot SNR matches the directed message")
	assert.Equal(t, float64(-1), spot.Params["_ID"])
	assertFreqConsistent(t, spot)

	// Off-frequency interfaces hear nothing at all.
	offFreq1.expectSilence(t, 250*time.Millisecond)
	offFreq2.expectSilence(t, 250*time.Millisecond)
}

func TestAddresseeExtraction(t *testing.T) {
	_, cfg := startEngine(t)
	sender := dialIface(t, cfg.Interfaces[0].Port)
	receiver := dialIface(t, cfg.Interfaces[2].Port)

	receiver.send(t, `{"type":"STATION.GET_CALLSIGN","value":"","params":{"_ID":"1"}}`)
	receiver.read(t)

	sender.send(t, `{"type":"TX.SEND_MESSAGE","value":"M0PXO: 2E0FGO +E65","params":{"_ID":"5"}}`)

	var directed *protocol.Message
	for {
		msg := receiver.read(t)
		if msg.Type == protocol.TypeRxDirected {
			directed = msg
			break
		}
		require.Equal(t, protocol.TypeRxActivity, msg.Type)
	}

	assert.Equal(t, "2E0FGO", directed.Params["TO"])
	assert.Equal(t, "2E0FGO", directed.Params["FROM"], "sender callsign")
	assert.Equal(t, "M0PXO: 2E0FGO +E65 \xe2\x99\xa6 ", directed.Params["TEXT"])
}

func TestConcurrentJobs(t *testing.T) {
	_, cfg := startEngine(t)
	first := dialIface(t, cfg.Interfaces[0].Port)
	second := dialIface(t, cfg.Interfaces[2].Port)

	for _, tc := range []*testConn{first, second} {
		tc.send(t, `{"type":"STATION.GET_CALLSIGN","value":"","params":{"_ID":"1"}}`)
		tc.read(t)
	}

	first.send(t, `{"type":"TX.SEND_MESSAGE","value":"AAAABBBBCCCC","params":{"_ID":"10"}}`)
	second.send(t, `{"type":"TX.SEND_MESSAGE","value":"111122223333","params":{"_ID":"11"}}`)

	check := func(tc *testConn, want string) {
		var ptt []string
		var fragments []string
		var directed *protocol.Message
		var spotSeen bool
		for !spotSeen || len(ptt) < 6 {
			msg := tc.read(t)
			switch msg.Type {
			case protocol.TypePTT:
				ptt = append(ptt, msg.Value)
			case protocol.TypeRxActivity:
				fragments = append(fragments, msg.Value)
			case protocol.TypeRxDirected:
				directed = msg
			case protocol.TypeRxSpot:
				spotSeen = true
			default:
				t.Fatalf("Unexpected message type %s", msg.Type)
			}
		}

		// Own PTT pairs are strictly alternating, untouched by the
		// other job.
		require.Len(t, ptt, 6)
		for i, v := range ptt {
			if i%2 == 0 {
				assert.Equal(t, "on", v, "ptt %d", i)
			} else {
				assert.Equal(t, "off", v, "ptt %d", i)
			}
		}

		// The other sender's fragments arrive in order and reassemble
		// exactly.
		assert.Equal(t, want, strings.Join(fragments, ""))
		require.NotNil(t, directed)
		assert.Equal(t, want+protocol.Terminator, directed.Params["TEXT"])
	}

	check(first, "111122223333")
	check(second, "AAAABBBBCCCC")
}

// TestClientRoundTrip drives the engine through the pkg/client helpers
// the way js8emuctl does.
func TestClientRoundTrip(t *testing.T) {
	_, cfg := startEngine(t)

	c := client.NewClient(cfg.Interfaces[1].Port)
	require.NoError(t, c.Connect())
	defer c.Close()

	callsign, err := c.GetCallsign()
	require.NoError(t, err)
	assert.Equal(t, "M0PXO", callsign)

	dial, offset, freq, err := c.GetFrequency()
	require.NoError(t, err)
	assert.Equal(t, 7078000, dial)
	assert.Equal(t, 1500, offset)
	assert.Equal(t, 7079500, freq)

	status, err := c.SetFrequency(7080000)
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeStationStatus, status.Type)

	dial, _, freq, err = c.GetFrequency()
	require.NoError(t, err)
	assert.Equal(t, 7080000, dial)
	assert.Equal(t, 7081500, freq)

	// A transmission on an interface with no co-frequency peers still
	// keys the rig.
	require.NoError(t, c.SendMessage("CQ CQ"))
	ptt, err := c.Read()
	require.NoError(t, err)
	assert.Equal(t, protocol.TypePTT, ptt.Type)
	assert.Equal(t, "on", ptt.Value)
}

func TestDestinationSnapshot(t *testing.T) {
	eng, cfg := startEngine(t)

	origin := eng.InterfaceByPort(cfg.Interfaces[0].Port)
	dests := eng.Destinations(origin)
	require.Len(t, dests, 1)
	assert.Equal(t, "interface_3", dests[0].Name())

	// Retuning interface_2 onto the origin frequency changes future
	// jobs, not the set already captured.
	eng.InterfaceByPort(cfg.Interfaces[1].Port).SetDial(3578000)
	assert.Len(t, dests, 1)
	assert.Len(t, eng.Destinations(origin), 2)
}

func TestUnknownTypeIgnored(t *testing.T) {
	_, cfg := startEngine(t)
	tc := dialIface(t, cfg.Interfaces[0].Port)

	tc.send(t, `{"type":"NO.SUCH_TYPE","value":"","params":{"_ID":"1"}}`)
	tc.send(t, `this is not json at all`)
	tc.send(t, `{"type":"RIG.SET_FREQ","value":"","params":{"_ID":"2"}}`)

	// The connection survives all three and still answers queries.
	tc.send(t, `{"type":"STATION.GET_CALLSIGN","value":"","params":{"_ID":"9"}}`)
	reply := tc.read(t)
	assert.Equal(t, protocol.TypeCallsign, reply.Type)
	assert.Equal(t, "2E0FGO", reply.Value)
	assert.Equal(t, float64(9), reply.Params["_ID"])
}

func TestReceiverDisconnectMidJob(t *testing.T) {
	_, cfg := startEngine(t)
	sender := dialIface(t, cfg.Interfaces[0].Port)
	receiver := dialIface(t, cfg.Interfaces[2].Port)

	receiver.send(t, `{"type":"STATION.GET_CALLSIGN","value":"","params":{"_ID":"1"}}`)
	receiver.read(t)

	sender.send(t, `{"type":"TX.SEND_MESSAGE","value":"ABCDEFGHIJKLMNOP","params":{"_ID":"20"}}`)

	// Drop the receiver after the first fragment; the job must still
	// finish for the sender.
	receiver.read(t)
	receiver.sock.Close()

	for i := 0; i < 4; i++ {
		on := sender.read(t)
		assert.Equal(t, "on", on.Value, "fragment %d", i)
		off := sender.read(t)
		assert.Equal(t, "off", off.Value, "fragment %d", i)
	}
}
