// internal/websocket/types.go
package websocket

// RPCRequest is a method call from the editor UI
type RPCRequest struct {
	ID     string        `json:"id"`     // request id, used to match the response
	Method string        `json:"method"` // binding method name, e.g. "SaveCheckpoint"
	Params []interface{} `json:"params"` // positional arguments
}

// RPCResponse is the reply to an RPCRequest
type RPCResponse struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// WSEvent is an event pushed by the subsystem, e.g. "changes:unsaved"
type WSEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// WSMessage is the envelope for every websocket frame
type WSMessage struct {
	// Kind: "rpc_request", "rpc_response", "event"
	Kind string `json:"kind"`

	Request  *RPCRequest  `json:"request,omitempty"`
	Response *RPCResponse `json:"response,omitempty"`
	Event    *WSEvent     `json:"event,omitempty"`
}
