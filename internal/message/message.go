package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/wagiedev/toolhost-go/internal/errors"
)

// Version is the protocol version tag carried by every message.
const Version = "2.0"

// Reserved method names.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodToolsList   = "tools/list"
	MethodToolsCall   = "tools/call"
	MethodPing        = "ping"
	MethodShutdown    = "shutdown"
)

// nullID is the id used in responses when the request id is unknown.
var nullID = json.RawMessage("null")

// Message is a request, notification or response.
//
// Wire format:
//
//	{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"sum","args":{"a":2,"b":3}}}
//	{"jsonrpc":"2.0","id":1,"result":5}
//	{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"invalid params: ..."}}
type Message struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      json.RawMessage  `json:"id,omitempty"`
	Method  string           `json:"method,omitempty"`
	Params  json.RawMessage  `json:"params,omitempty"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *errors.RPCError `json:"error,omitempty"`
}

// HasID reports whether the message carries a non-null id.
func (m *Message) HasID() bool {
	return len(m.ID) > 0 && !bytes.Equal(m.ID, nullID)
}

// IsRequest reports whether the message is a request expecting a response.
func (m *Message) IsRequest() bool {
	return m.Method != "" && m.HasID()
}

// IsNotification reports whether the message is a request without an id.
func (m *Message) IsNotification() bool {
	return m.Method != "" && !m.HasID()
}

// IsResponse reports whether the message is a response.
func (m *Message) IsResponse() bool {
	return m.Method == "" && (len(m.Result) > 0 || m.Error != nil)
}

// IntID returns the id as an integer when it is a JSON integer.
func (m *Message) IntID() (int64, bool) {
	if !m.HasID() {
		return 0, false
	}

	n, err := strconv.ParseInt(string(m.ID), 10, 64)
	if err != nil {
		return 0, false
	}

	return n, true
}

// IDValue returns the id decoded as a Go value (float64, string or nil).
func (m *Message) IDValue() any {
	if !m.HasID() {
		return nil
	}

	var v any
	if err := json.Unmarshal(m.ID, &v); err != nil {
		return nil
	}

	return v
}

// IntID encodes n as a message id.
func IntID(n int64) json.RawMessage {
	return json.RawMessage(strconv.FormatInt(n, 10))
}

// NewRequest builds a request with an integer id.
func NewRequest(id int64, method string, params any) (*Message, error) {
	raw, err := marshalOptional(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	return &Message{JSONRPC: Version, ID: IntID(id), Method: method, Params: raw}, nil
}

// NewNotification builds a request without an id.
func NewNotification(method string, params any) (*Message, error) {
	raw, err := marshalOptional(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	return &Message{JSONRPC: Version, Method: method, Params: raw}, nil
}

// NewResult builds a success response for the request id.
func NewResult(id json.RawMessage, result any) (*Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}

	return &Message{JSONRPC: Version, ID: responseID(id), Result: raw}, nil
}

// NewErrorResponse builds an error response for the request id. A missing
// id is rendered as null.
func NewErrorResponse(id json.RawMessage, rpcErr *errors.RPCError) *Message {
	return &Message{JSONRPC: Version, ID: responseID(id), Error: rpcErr}
}

func responseID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return nullID
	}

	return id
}

func marshalOptional(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}

	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}

	return json.Marshal(v)
}
