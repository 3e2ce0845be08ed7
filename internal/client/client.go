package client

import (
	"fmt"

	"github.com/gorilla/websocket"

	"streamcache/internal/streamcache/protocol"
	"streamcache/pkg/logger"
)

// Client wraps one websocket connection to a cache server. Control
// messages travel on text frames, payload on binary frames; the server
// may answer a binary request with an ERROR text frame, which receive
// methods surface as errors.
type Client struct {
	conn   *websocket.Conn
	logger *logger.Logger
}

// Connect dials the server at the given websocket URI.
func Connect(uri string) (*Client, error) {
	dialer := websocket.Dialer{
		EnableCompression: false,
		ReadBufferSize:    64 * 1024,
		WriteBufferSize:   64 * 1024,
	}

	conn, _, err := dialer.Dial(uri, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", uri, err)
	}

	return &Client{
		conn:   conn,
		logger: logger.WithField("component", "client"),
	}, nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// SendControl sends one control message on a text frame.
func (c *Client) SendControl(msg protocol.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}

	c.logger.Debug("sending control message", "type", msg.Type, "streamId", msg.StreamID)
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// ReceiveControl reads the next text frame and decodes it. An ERROR
// message from the server is returned as an error.
func (c *Client) ReceiveControl() (protocol.Message, error) {
	messageType, data, err := c.conn.ReadMessage()
	if err != nil {
		return protocol.Message{}, fmt.Errorf("failed to receive message: %w", err)
	}
	if messageType != websocket.TextMessage {
		return protocol.Message{}, fmt.Errorf("expected text frame, got type %d", messageType)
	}

	msg, err := protocol.Parse(data)
	if err != nil {
		return protocol.Message{}, err
	}

	c.logger.Debug("received control message", "type", msg.Type, "streamId", msg.StreamID)

	if msg.Type == protocol.TypeError {
		return msg, fmt.Errorf("server error: %s", msg.Message)
	}
	return msg, nil
}

// SendBinary sends one payload frame.
func (c *Client) SendBinary(data []byte) error {
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// ReceiveBinary reads the next binary frame. A text frame in its place
// is decoded; an ERROR message becomes the returned error.
func (c *Client) ReceiveBinary() ([]byte, error) {
	messageType, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("failed to receive message: %w", err)
	}

	if messageType == websocket.TextMessage {
		if msg, perr := protocol.Parse(data); perr == nil && msg.Type == protocol.TypeError {
			return nil, fmt.Errorf("server error: %s", msg.Message)
		}
		return nil, fmt.Errorf("expected binary frame, got text: %s", data)
	}
	if messageType != websocket.BinaryMessage {
		return nil, fmt.Errorf("expected binary frame, got type %d", messageType)
	}

	return data, nil
}
