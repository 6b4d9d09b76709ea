package ws

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"

	"github.com/4xmen/goftego/internal/events"
)

// Subprotocols a client may offer. JSON is used when the client offers
// neither.
const (
	ProtocolJSON = "goftego.json"
	ProtocolCBOR = "goftego.cbor"
)

// codec frames events for one connection.
type codec interface {
	name() string
	messageType() int
	encode(ev events.Event) ([]byte, error)
	// decode splits a frame into its event type and still-encoded payload.
	decode(frame []byte) (string, []byte, error)
	unmarshal(payload []byte, v any) error
}

func codecFor(subprotocol string) codec {
	if subprotocol == ProtocolCBOR {
		return cborCodec{}
	}
	return jsonCodec{}
}

type jsonCodec struct{}

func (jsonCodec) name() string     { return ProtocolJSON }
func (jsonCodec) messageType() int { return websocket.TextMessage }

func (jsonCodec) encode(ev events.Event) ([]byte, error) {
	return json.Marshal(ev.Wire())
}

func (jsonCodec) decode(frame []byte) (string, []byte, error) {
	var in events.Inbound
	if err := json.Unmarshal(frame, &in); err != nil {
		return "", nil, err
	}
	return in.Type, in.Data, nil
}

func (jsonCodec) unmarshal(payload []byte, v any) error {
	if isEmptyPayload(payload) {
		return nil
	}
	return json.Unmarshal(payload, v)
}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	cborEnc, err = encOptions.EncMode()
	if err != nil {
		panic("ws: CBOR encoder initialization failed: " + err.Error())
	}

	// Call signals decode into any and are inspected as map[string]any.
	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("ws: CBOR decoder initialization failed: " + err.Error())
	}
}

type cborCodec struct{}

func (cborCodec) name() string     { return ProtocolCBOR }
func (cborCodec) messageType() int { return websocket.BinaryMessage }

func (cborCodec) encode(ev events.Event) ([]byte, error) {
	return cborEnc.Marshal(ev.Wire())
}

func (cborCodec) decode(frame []byte) (string, []byte, error) {
	var in struct {
		Type string          `cbor:"type"`
		Data cbor.RawMessage `cbor:"data"`
	}
	if err := cborDec.Unmarshal(frame, &in); err != nil {
		return "", nil, err
	}
	return in.Type, in.Data, nil
}

func (cborCodec) unmarshal(payload []byte, v any) error {
	// 0xf6 is CBOR null.
	if len(payload) == 0 || (len(payload) == 1 && payload[0] == 0xf6) {
		return nil
	}
	return cborDec.Unmarshal(payload, v)
}

func isEmptyPayload(payload []byte) bool {
	trimmed := bytes.TrimSpace(payload)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// decodeJoin accepts a list of room ids or a single id.
func decodeJoin(c codec, payload []byte) ([]string, error) {
	var rooms []string
	if err := c.unmarshal(payload, &rooms); err == nil {
		return rooms, nil
	}
	var room string
	if err := c.unmarshal(payload, &room); err != nil {
		return nil, fmt.Errorf("join expects a list of room ids: %w", err)
	}
	return []string{room}, nil
}
