// Package realtime is the socket.io transport adapter used by the squad
// coordinator as its primary delivery path.
package realtime

import (
	"fmt"
	"sync"
	"time"

	socket "github.com/zishang520/socket.io/clients/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"

	"github.com/staryskies/explo/pkg/logger"
)

// ReasonServerDisconnect is the socket.io disconnect reason for a
// server-initiated close. It must not trigger reconnect loops.
const ReasonServerDisconnect = "io server disconnect"

// Client is a socket.io client connection to the squad server.
type Client struct {
	serverURL string

	mu        sync.RWMutex
	socket    *socket.Socket
	connected bool
	handlers  map[string]func(any)

	onConnect      func()
	onDisconnect   func(reason string)
	onConnectError func(err error)
}

// NewClient creates a realtime client for the given server base URL.
func NewClient(serverURL string) *Client {
	return &Client{
		serverURL: serverURL,
		handlers:  make(map[string]func(any)),
	}
}

// On registers an event handler. Handlers registered before Connect are
// bound during connection setup.
func (c *Client) On(event string, handler func(any)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = handler
}

// OnConnect registers the connect callback.
func (c *Client) OnConnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = fn
}

// OnDisconnect registers the disconnect callback. The reason distinguishes
// server-initiated closes (ReasonServerDisconnect) from transient drops.
func (c *Client) OnDisconnect(fn func(reason string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = fn
}

// OnConnectError registers the connect-error callback.
func (c *Client) OnConnectError(fn func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnectError = fn
}

// Connect initiates a socket.io connection authenticated with token. The
// call returns once the connection attempt is started; connection outcome
// is delivered through the registered callbacks.
func (c *Client) Connect(token, squadID string) error {
	logger.Debugf("connecting to socket.io: %s (path /v1/updates)", c.serverURL)

	opts := socket.DefaultOptions()
	opts.SetPath("/v1/updates")
	opts.SetTransports(types.NewSet(socket.Polling, socket.WebSocket))

	auth := map[string]any{"token": token}
	if squadID != "" {
		auth["squadId"] = squadID
	}
	opts.SetAuth(auth)

	sock, err := socket.Connect(c.serverURL, opts)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.mu.Lock()
	c.socket = sock
	handlers := make(map[string]func(any), len(c.handlers))
	for event, handler := range c.handlers {
		handlers[event] = handler
	}
	c.mu.Unlock()

	sock.On(types.EventName("connect"), func(args ...any) {
		c.mu.Lock()
		c.connected = true
		fn := c.onConnect
		c.mu.Unlock()

		logger.Debugf("socket.io connected (id %s)", sock.Id())
		if fn != nil {
			fn()
		}
	})

	sock.On(types.EventName("disconnect"), func(args ...any) {
		c.mu.Lock()
		c.connected = false
		fn := c.onDisconnect
		c.mu.Unlock()

		reason := ""
		if len(args) > 0 {
			if r, ok := args[0].(string); ok {
				reason = r
			}
		}
		logger.Debugf("socket.io disconnected: %q", reason)
		if fn != nil {
			fn(reason)
		}
	})

	sock.On(types.EventName("connect_error"), func(args ...any) {
		c.mu.RLock()
		fn := c.onConnectError
		c.mu.RUnlock()

		err := fmt.Errorf("connect error")
		if len(args) > 0 {
			err = fmt.Errorf("connect error: %v", args[0])
		}
		logger.Debugf("socket.io %v", err)
		if fn != nil {
			fn(err)
		}
	})

	for event, handler := range handlers {
		ev, h := event, handler
		sock.On(types.EventName(ev), func(args ...any) {
			var data any
			if len(args) > 0 {
				data = args[0]
			}
			h(data)
		})
	}

	return nil
}

// IsConnected returns whether the client currently has a live connection.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	sock := c.socket
	connected := c.connected
	c.mu.RUnlock()

	if connected {
		return true
	}
	return sock != nil && sock.Connected()
}

// Emit sends a fire-and-forget event.
func (c *Client) Emit(event string, payload any) error {
	c.mu.RLock()
	sock := c.socket
	c.mu.RUnlock()

	if sock == nil {
		return fmt.Errorf("not connected")
	}
	sock.Emit(event, payload)
	return nil
}

// EmitWithAck sends an event and waits for the server ACK.
func (c *Client) EmitWithAck(event string, payload any, timeout time.Duration) (map[string]any, error) {
	c.mu.RLock()
	sock := c.socket
	c.mu.RUnlock()

	if sock == nil {
		return nil, fmt.Errorf("not connected")
	}

	resultCh := make(chan map[string]any, 1)
	errCh := make(chan error, 1)

	sock.Emit(event, payload, func(args []any, err error) {
		if err != nil {
			errCh <- err
			return
		}
		if len(args) == 0 {
			resultCh <- nil
			return
		}
		if resp, ok := args[0].(map[string]any); ok {
			resultCh <- resp
			return
		}
		resultCh <- nil
	})

	select {
	case res := <-resultCh:
		return res, nil
	case err := <-errCh:
		return nil, err
	case <-time.After(timeout):
		return nil, fmt.Errorf("ack timeout")
	}
}

// Close tears down the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.socket != nil {
		c.socket.Disconnect()
		c.socket = nil
	}
	c.connected = false
	return nil
}
