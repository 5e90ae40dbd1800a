// Package wire holds the msgpack framing spoken on the conductor app interface.
//
// Every websocket frame carries a Message. Requests and responses wrap a
// msgpack encoded Envelope in Message.Data; signals wrap a SignalEnvelope.
package wire

import (
	"reflect"

	"github.com/ugorji/go/codec"

	"honeyworks/hive-client/internal/holohash"
)

const (
	TypeRequest  = "Request"
	TypeResponse = "Response"
	TypeSignal   = "Signal"
)

const (
	KindAppInfo  = "app_info"
	KindZomeCall = "zome_call_invocation"
	KindError    = "error"
)

var handle = newHandle()

func newHandle() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	// str decodes to string and bin to []byte, so bytes survive generic decoding.
	h.WriteExt = true
	h.MapType = reflect.TypeOf(map[string]interface{}(nil))
	return h
}

type Message struct {
	Type string `codec:"type"`
	ID   uint64 `codec:"id"`
	Data []byte `codec:"data"`
}

// Envelope is the outgoing form of a request or response body.
type Envelope struct {
	Type string      `codec:"type"`
	Data interface{} `codec:"data"`
}

// RawEnvelope defers decoding of Data until Type is known.
type RawEnvelope struct {
	Type string    `codec:"type"`
	Data codec.Raw `codec:"data"`
}

type AppInfoRequest struct {
	InstalledAppID string `codec:"installed_app_id"`
}

type ZomeCallInvocation struct {
	CellID     holohash.CellID      `codec:"cell_id"`
	ZomeName   string               `codec:"zome_name"`
	FnName     string               `codec:"fn_name"`
	Payload    []byte               `codec:"payload"`
	Cap        []byte               `codec:"cap"`
	Provenance holohash.AgentPubKey `codec:"provenance"`
}

type ErrorPayload struct {
	Type string      `codec:"type"`
	Data interface{} `codec:"data"`
}

type AppSignal struct {
	_struct bool            `codec:",toarray"` //nolint:unused
	CellID  holohash.CellID
	Payload []byte
}

type SignalEnvelope struct {
	App    *AppSignal  `codec:"App,omitempty"`
	System interface{} `codec:"System,omitempty"`
}

func Marshal(v interface{}) ([]byte, error) {
	var out []byte
	if err := codec.NewEncoderBytes(&out, handle).Encode(v); err != nil {
		return nil, err
	}
	return out, nil
}

func Unmarshal(data []byte, v interface{}) error {
	return codec.NewDecoderBytes(data, handle).Decode(v)
}

// IsNil reports whether raw holds an encoded nil (or nothing at all).
func IsNil(raw []byte) bool {
	return len(raw) == 0 || (len(raw) == 1 && raw[0] == 0xc0)
}

// Frame encodes env and wraps it in a Message of the given type.
func Frame(msgType string, id uint64, env interface{}) ([]byte, error) {
	body, err := Marshal(env)
	if err != nil {
		return nil, err
	}
	return Marshal(Message{Type: msgType, ID: id, Data: body})
}
