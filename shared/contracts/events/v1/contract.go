// Package v1 is the event stream wire contract: a JSON {op, body} frame
// exchanged over the WebSocket subscription and (body only) over webhooks.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Opcode identifies the frame kind.
type Opcode int

const (
	OpEvent    Opcode = 0
	OpPing     Opcode = 1
	OpPong     Opcode = 2
	OpIdentify Opcode = 3
	OpReady    Opcode = 4
)

// Close codes sent by the server. The 4xxx range is application defined.
const (
	CloseInvalidMessage = 4000
	CloseInvalidToken   = 4004
	CloseSlowConsumer   = 4008
)

func (o Opcode) String() string {
	switch o {
	case OpEvent:
		return "event"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	case OpIdentify:
		return "identify"
	case OpReady:
		return "ready"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

type Envelope struct {
	Op   Opcode          `json:"op"`
	Body json.RawMessage `json:"body,omitempty"`
}

// Validate checks frames received from subscribers. Only Ping and Identify
// are meaningful in that direction.
func (e Envelope) Validate() error {
	switch e.Op {
	case OpPing:
		return nil
	case OpIdentify:
		if len(e.Body) == 0 {
			return errors.New("identify: missing body")
		}
		return nil
	default:
		return fmt.Errorf("unexpected opcode from client: %s", e.Op)
	}
}

// NewEnvelope marshals body into a frame. A nil body yields a body-less frame.
func NewEnvelope(op Opcode, body any) (Envelope, error) {
	if body == nil {
		return Envelope{Op: op}, nil
	}
	b, err := json.Marshal(body)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Op: op, Body: b}, nil
}
