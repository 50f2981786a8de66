package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Message represents one frame of the JS8Call API: a single JSON object
// per line carrying exactly the keys type, value and params.
type Message struct {
	Type   string                 `json:"type"`
	Value  string                 `json:"value"`
	Params map[string]interface{} `json:"params"`
}

// Client-originated message types
const (
	TypeGetCallsign = "STATION.GET_CALLSIGN"
	TypeGetFreq     = "RIG.GET_FREQ"
	TypeSetFreq     = "RIG.SET_FREQ"
	TypeSendMessage = "TX.SEND_MESSAGE"
)

// Emulator-originated message types
const (
	TypeCallsign      = "STATION.CALLSIGN"
	TypeFreq          = "RIG.FREQ"
	TypeStationStatus = "STATION.STATUS"
	TypePTT           = "RIG.PTT"
	TypeRxActivity    = "RX.ACTIVITY"
	TypeRxDirected    = "RX.DIRECTED"
	TypeRxSpot        = "RX.SPOT"
)

// Terminator is appended to a transmitted payload to form the directed
// message text: space, black diamond suit, space (five UTF-8 bytes).
const Terminator = " ♦ "

// AsyncID is the _ID carried by every frame the emulator originates on
// its own (RX.*, RIG.PTT).
const AsyncID = -1

// NewMessage creates a message with an empty but present params object.
func NewMessage(msgType, value string) *Message {
	return &Message{
		Type:   msgType,
		Value:  value,
		Params: make(map[string]interface{}),
	}
}

// Encode serializes the message as compact UTF-8 JSON followed by a
// single line feed. Non-ASCII payload bytes are emitted verbatim.
func (m *Message) Encode() ([]byte, error) {
	if m.Params == nil {
		m.Params = make(map[string]interface{})
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s message: %w", m.Type, err)
	}
	return append(data, '\n'), nil
}

// Decode parses one line (without its trailing newline) into a Message.
func Decode(line []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, fmt.Errorf("malformed JSON line: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("message has no type")
	}
	if msg.Params == nil {
		msg.Params = make(map[string]interface{})
	}
	return &msg, nil
}

// EchoID extracts the request _ID for echoing back as a JSON integer.
// Inbound ids arrive as decimal strings; a plain JSON number is
// tolerated as well.
func (m *Message) EchoID() (int64, error) {
	raw, ok := m.Params["_ID"]
	if !ok {
		return 0, fmt.Errorf("missing _ID param")
	}
	switch v := raw.(type) {
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid _ID %q: %w", v, err)
		}
		return id, nil
	case float64:
		return int64(v), nil
	case json.Number:
		return v.Int64()
	default:
		return 0, fmt.Errorf("invalid _ID type %T", raw)
	}
}

// IntParam extracts an integer param that may arrive as a JSON number
// or as a decimal string.
func (m *Message) IntParam(key string) (int, error) {
	raw, ok := m.Params[key]
	if !ok {
		return 0, fmt.Errorf("missing %s param", key)
	}
	switch v := raw.(type) {
	case float64:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		return n, nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("invalid %s type %T", key, raw)
	}
}

// Fragment splits a payload's UTF-8 bytes into consecutive slices of
// size bytes each; the final slice may be shorter. There is no padding,
// and a cut may land inside a multi-byte character, matching the framing
// of the real service.
func Fragment(payload string, size int) []string {
	if size <= 0 {
		return []string{payload}
	}
	raw := []byte(payload)
	fragments := make([]string, 0, (len(raw)+size-1)/size)
	for i := 0; i < len(raw); i += size {
		end := i + size
		if end > len(raw) {
			end = len(raw)
		}
		fragments = append(fragments, string(raw[i:end]))
	}
	return fragments
}

// Addressee returns the second whitespace-delimited word of a payload,
// the conventional position of the destination callsign in a directed
// message, or "" when there is none.
func Addressee(payload string) string {
	fields := strings.Fields(payload)
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}
