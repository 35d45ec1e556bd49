// internal/websocket/client.go
package websocket

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

// Client is one connected UI instance
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
	mu   sync.Mutex
}

// NewClient creates a new client wrapper around a connection
func NewClient(id string, conn *websocket.Conn) *Client {
	return &Client{
		ID:   id,
		Conn: conn,
		Send: make(chan []byte, 256),
	}
}

// SendMessage queues a message for delivery to the client
func (c *Client) SendMessage(msg *WSMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	select {
	case c.Send <- data:
		return nil
	default:
		return ErrClientBufferFull
	}
}

// SendEvent pushes a subsystem event to the client
func (c *Client) SendEvent(eventType string, payload interface{}) error {
	return c.SendMessage(&WSMessage{
		Kind: "event",
		Event: &WSEvent{
			Type:    eventType,
			Payload: payload,
		},
	})
}

// SendResponse sends an RPC response
func (c *Client) SendResponse(id string, result interface{}, errMsg string) error {
	resp := &RPCResponse{ID: id}
	if errMsg != "" {
		resp.Error = errMsg
	} else {
		resp.Result = result
	}
	return c.SendMessage(&WSMessage{
		Kind:     "rpc_response",
		Response: resp,
	})
}

// WritePump drains the Send channel into the websocket connection
func (c *Client) WritePump() {
	defer c.Conn.Close()

	for message := range c.Send {
		if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

// Close shuts the client down
func (c *Client) Close() {
	close(c.Send)
}

var ErrClientBufferFull = &ClientError{Message: "client send buffer full"}

type ClientError struct {
	Message string
}

func (e *ClientError) Error() string {
	return e.Message
}
